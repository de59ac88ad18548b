package ksef

import (
	"fmt"
	"os"
	"strings"

	"github.com/alapierre/ksef-gateway/ksef/util"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "ksef")

type Environment int

const (
	Test Environment = iota
	Demo
	Prod
)

func (e Environment) BaseURL() string {
	switch e {
	case Prod:
		return "https://api.ksef.mf.gov.pl/v2"
	case Test:
		return "https://api-test.ksef.mf.gov.pl/v2"
	case Demo:
		return "https://api-demo.ksef.mf.gov.pl/v2"
	}
	panic("Invalid environment")
}

func (e Environment) Name() string {
	switch e {
	case Prod:
		return "prod"
	case Test:
		return "test"
	case Demo:
		return "demo"
	}
	panic("Invalid environment")
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "prod":
		*e = Prod
	case "demo":
		*e = Demo
	case "test":
		*e = Test
	default:
		return fmt.Errorf("invalid KSEF_ENV: %q (allowed: prod, demo, test)", val)
	}
	return nil
}

// GatewayConfig opisuje połączenie z bramką dla jednego profilu firmy. Po utworzeniu nie jest modyfikowany.
type GatewayConfig struct {
	BaseURL     string
	Environment Environment

	// PublicKeyPEM klucz RSA bramki używany wyłącznie do opakowania klucza AES przy eksporcie faktur.
	PublicKeyPEM []byte
}

// NewGatewayConfig returns config with the environment's default base URL.
func NewGatewayConfig(env Environment, publicKeyPEM []byte) GatewayConfig {
	return GatewayConfig{
		BaseURL:      env.BaseURL(),
		Environment:  env,
		PublicKeyPEM: publicKeyPEM,
	}
}

func (c GatewayConfig) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// LoadConfigFromEnv czyta KSEF_ENV, KSEF_BASE_URL i KSEF_PUBLIC_KEY_FILE.
func LoadConfigFromEnv() (GatewayConfig, error) {
	env := Test
	if v, ok := util.LookupEnv("KSEF_ENV"); ok {
		if err := env.UnmarshalText([]byte(v)); err != nil {
			return GatewayConfig{}, err
		}
	}

	cfg := NewGatewayConfig(env, nil)
	if v, ok := util.LookupEnv("KSEF_BASE_URL"); ok && v != "" {
		cfg.BaseURL = v
	}

	if path, ok := util.LookupEnv("KSEF_PUBLIC_KEY_FILE"); ok && path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return GatewayConfig{}, errors.Wrapf(err, "read public key %s", path)
		}
		cfg.PublicKeyPEM = pem
	}

	logger.WithFields(logrus.Fields{
		"env":      env.Name(),
		"base_url": cfg.BaseURL,
	}).Debug("Gateway configuration loaded")

	return cfg, nil
}

// NormalizeTaxID usuwa myślniki i spacje z identyfikatora podatkowego.
func NormalizeTaxID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch r {
		case '-', ' ', '\t', '\u00a0':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
