package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/alapierre/ksef-gateway/ksef"
	"github.com/alapierre/ksef-gateway/ksef/util"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef.api")

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
)

// Client klient bramki KSeF. Nie jest bezpieczny dla nakładających się wywołań SubmitInvoice
// na tej samej sesji: wywołujący musi je serializować albo użyć osobnych instancji.
type Client struct {
	cfg     ksef.GatewayConfig
	rest    *resty.Client
	session SessionState
	form    FormCode
}

type Option func(*Client)

// WithSession pozwala podać własny magazyn tokenu.
func WithSession(s SessionState) Option {
	return func(c *Client) { c.session = s }
}

func WithFormCode(f FormCode) Option {
	return func(c *Client) { c.form = f }
}

func NewClient(cfg ksef.GatewayConfig, httpClient *http.Client, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base URL must include scheme and host, got: %q", cfg.BaseURL)
	}
	// resty ustawia własny Transport na kliencie bez transportu, więc nie podajemy mu http.DefaultClient
	rest := resty.New()
	if httpClient != nil {
		rest = resty.NewWithClient(httpClient)
	}
	rest.SetLogger(logger)

	c := &Client{
		cfg:     cfg,
		rest:    rest,
		session: NewMemorySession(),
		form:    DefaultFormCode,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type request struct {
	method      string
	path        string
	rawURL      string
	contentType string
	body        []byte
	auth        bool
}

type response struct {
	status int
	body   []byte
}

// do wykonuje jedno żądanie; odpowiedź inna niż 2xx zawsze trafia do ksef.Classify.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	target := r.rawURL
	if target == "" {
		target = c.cfg.URL(r.path)
	}

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", contentTypeJSON)
	if util.HttpTraceEnabled() {
		req.EnableTrace()
	}
	if r.contentType != "" {
		req.SetHeader("Content-Type", r.contentType)
	}
	if len(r.body) > 0 {
		req.SetBody(r.body)
	}

	if r.auth {
		token, ok := c.session.Get()
		if !ok {
			return nil, ksef.ErrSessionNotActive()
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Execute(r.method, target)
	if err != nil {
		return nil, ksef.ClassifyTransport(err)
	}

	printTraceInfo(r, target, resp)

	if !resp.IsSuccess() {
		return nil, ksef.Classify(resp.StatusCode(), resp.Body())
	}
	return &response{status: resp.StatusCode(), body: resp.Body()}, nil
}

func printTraceInfo(r request, target string, resp *resty.Response) {
	if !util.HttpTraceEnabled() {
		return
	}

	ti := resp.Request.TraceInfo()
	entry := logger.WithFields(logrus.Fields{
		"method":        r.method,
		"url":           target,
		"status":        resp.StatusCode(),
		"time":          resp.Time(),
		"dns_lookup":    ti.DNSLookup,
		"conn_time":     ti.ConnTime,
		"tls_handshake": ti.TLSHandshake,
		"server_time":   ti.ServerTime,
		"conn_reused":   ti.IsConnReused,
	})
	if r.contentType != contentTypeXML {
		entry = entry.WithField("request", string(r.body))
	}
	entry.WithField("response", resp.String()).Debug("HTTP exchange")
}

func (c *Client) requireSession() error {
	if !c.session.IsActive() {
		return ksef.ErrSessionNotActive()
	}
	return nil
}
