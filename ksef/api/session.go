package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/go-faster/errors"
)

type SessionStatus int

const (
	Uninitialized SessionStatus = iota
	Active
	Terminated
)

func (s SessionStatus) String() string {
	switch s {
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// SessionState przechowuje token dostępowy jednej instancji klienta.
type SessionState interface {
	IsActive() bool
	Get() (string, bool)
	Set(token string)
	Clear()
}

// MemorySession domyślna implementacja SessionState, token żyje tylko w pamięci procesu.
type MemorySession struct {
	mu     sync.RWMutex
	token  string
	status SessionStatus
}

func NewMemorySession() *MemorySession {
	return &MemorySession{}
}

func (s *MemorySession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == Active
}

func (s *MemorySession) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.status == Active
}

func (s *MemorySession) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.status = Active
}

func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	if s.status == Active {
		s.status = Terminated
	}
}

func (s *MemorySession) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

var ErrEmptyToken = errors.New("empty access token")

// InitSession zapamiętuje token. Nie wykonuje żadnego wywołania sieciowego, bramka
// uwierzytelnia każde żądanie nagłówkiem Bearer.
func (c *Client) InitSession(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	c.session.Set(token)
	logger.Debug("KSeF session initialized")
	return nil
}

// TerminateSession unieważnia bieżącą sesję po stronie bramki i czyści token.
// Nigdy nie zwraca błędu: token i tak wygaśnie, więc błąd powiadomienia jest tylko logowany.
func (c *Client) TerminateSession(ctx context.Context) {
	if !c.session.IsActive() {
		return
	}
	defer c.session.Clear()

	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/auth/sessions/current",
		auth:   true,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to notify KSeF about session termination, token will expire on its own")
		return
	}
	logger.Debug("KSeF session terminated")
}

// Close zwalnia klienta, równoważne TerminateSession.
func (c *Client) Close(ctx context.Context) {
	c.TerminateSession(ctx)
}

func (c *Client) IsActive() bool {
	return c.session.IsActive()
}
