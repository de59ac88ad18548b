package cipher

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/alapierre/ksef-gateway/ksef/api"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
)

// KeySource dostarcza aktualny klucz publiczny bramki do opakowania klucza AES.
type KeySource interface {
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// StaticKey klucz z konfiguracji (GatewayConfig.PublicKeyPEM).
type StaticKey struct {
	pub *rsa.PublicKey
}

func NewStaticKey(publicKeyPEM []byte) (*StaticKey, error) {
	pub, err := ParseRSAPublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &StaticKey{pub: pub}, nil
}

func (s *StaticKey) PublicKey(context.Context) (*rsa.PublicKey, error) {
	return s.pub, nil
}

type CertificateLister interface {
	GetPublicKeyCertificates(ctx context.Context) ([]api.PublicKeyCertificate, error)
}

// CertificateService pobiera certyfikat bramki z Usage=SymmetricKeyEncryption i trzyma go w pamięci
// do refreshSkew przed końcem ważności.
type CertificateService struct {
	cli   CertificateLister
	clock clockwork.Clock

	mu      sync.RWMutex
	pub     *rsa.PublicKey
	validTo time.Time

	// ile wcześniej odświeżyć klucz zanim wygaśnie
	refreshSkew time.Duration
}

type Option func(*CertificateService)

func WithRefreshSkew(d time.Duration) Option {
	return func(s *CertificateService) { s.refreshSkew = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *CertificateService) { s.clock = c }
}

func NewCertificateService(cli CertificateLister, opts ...Option) *CertificateService {
	s := &CertificateService{
		cli:         cli,
		clock:       clockwork.NewRealClock(),
		refreshSkew: 2 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *CertificateService) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	// szybka ścieżka: mamy ważny klucz?
	s.mu.RLock()
	pub, validTo := s.pub, s.validTo
	s.mu.RUnlock()

	if pub != nil && validTo.Sub(s.clock.Now()) > s.refreshSkew {
		return pub, nil
	}
	return s.fetchAndSelect(ctx)
}

// ForceRefresh wymusza odświeżenie cache (np. po odrzuceniu klucza przez bramkę).
func (s *CertificateService) ForceRefresh(ctx context.Context) (*rsa.PublicKey, error) {
	s.mu.Lock()
	s.pub = nil
	s.mu.Unlock()
	return s.fetchAndSelect(ctx)
}

func (s *CertificateService) fetchAndSelect(ctx context.Context) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	// ktoś mógł już odświeżyć w międzyczasie
	if s.pub != nil && s.validTo.Sub(now) > s.refreshSkew {
		return s.pub, nil
	}

	certs, err := s.cli.GetPublicKeyCertificates(ctx)
	if err != nil {
		return nil, err
	}

	var chosen *api.PublicKeyCertificate
	for i := range certs {
		c := certs[i]
		if now.Before(c.ValidFrom) || now.After(c.ValidTo) {
			continue
		}
		if !c.HasUsage(api.UsageSymmetricKeyEncryption) {
			continue
		}
		if chosen == nil || c.ValidFrom.After(chosen.ValidFrom) {
			chosen = &c
		}
	}
	if chosen == nil {
		return nil, errors.New("brak ważnego certyfikatu RSA z Usage=SymmetricKeyEncryption")
	}

	pub, err := ParseRSAPubFromB64Cert(chosen.Certificate)
	if err != nil {
		return nil, err
	}

	s.pub = pub
	s.validTo = chosen.ValidTo
	logger.WithField("valid_to", chosen.ValidTo).Debug("Gateway public key refreshed")
	return s.pub, nil
}
