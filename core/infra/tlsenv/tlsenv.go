// Package tlsenv reads transport TLS settings from <PREFIX>_TLS_* variables.
// NATS, Redis and the retry worker's gRPC listener share it.
package tlsenv

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrPartialKeyPair is returned when only one of cert and key is set.
var ErrPartialKeyPair = errors.New("tls cert and key must be set together")

// Settings mirrors <PREFIX>_TLS_CA, _TLS_CERT, _TLS_KEY, _TLS_SERVER_NAME
// and _TLS_INSECURE.
type Settings struct {
	Prefix     string
	CA         string
	Cert       string
	Key        string
	ServerName string
	Insecure   bool
}

// FromEnv loads the settings for prefix, e.g. "NATS" or "REDIS".
func FromEnv(prefix string) Settings {
	p := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(prefix), "_")) + "_TLS_"
	return Settings{
		Prefix:     prefix,
		CA:         strings.TrimSpace(os.Getenv(p + "CA")),
		Cert:       strings.TrimSpace(os.Getenv(p + "CERT")),
		Key:        strings.TrimSpace(os.Getenv(p + "KEY")),
		ServerName: strings.TrimSpace(os.Getenv(p + "SERVER_NAME")),
		Insecure:   Bool(p + "INSECURE"),
	}
}

// Empty reports whether nothing was configured.
func (s Settings) Empty() bool {
	return s.CA == "" && s.Cert == "" && s.Key == "" && s.ServerName == "" && !s.Insecure
}

// Client builds a client config on top of base. It returns base unchanged
// when the settings are empty.
func (s Settings) Client(base *tls.Config) (*tls.Config, error) {
	if s.Empty() {
		return base, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if base != nil {
		cfg = base.Clone()
	}
	if s.ServerName != "" {
		cfg.ServerName = s.ServerName
	}
	if s.Insecure {
		// #nosec G402 -- opt-in for self-signed dev clusters.
		cfg.InsecureSkipVerify = true
	}
	if s.CA != "" {
		pool, err := s.pool(cfg.RootCAs)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	cert, ok, err := s.keyPair()
	if err != nil {
		return nil, err
	}
	if ok {
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Server builds a listener config. A cert and key are mandatory; a CA turns
// on mutual TLS. It returns nil when nothing is configured.
func (s Settings) Server() (*tls.Config, error) {
	cert, ok, err := s.keyPair()
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.CA != "" {
			return nil, fmt.Errorf("%s: client CA set without server cert", s.label())
		}
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if s.CA != "" {
		pool, err := s.pool(nil)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (s Settings) pool(existing *x509.CertPool) (*x509.CertPool, error) {
	// #nosec G304 -- operator-provided CA path.
	pem, err := os.ReadFile(s.CA)
	if err != nil {
		return nil, fmt.Errorf("%s ca read: %w", s.label(), err)
	}
	pool := existing
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s ca parse: %s", s.label(), s.CA)
	}
	return pool, nil
}

func (s Settings) keyPair() (tls.Certificate, bool, error) {
	if s.Cert == "" && s.Key == "" {
		return tls.Certificate{}, false, nil
	}
	if s.Cert == "" || s.Key == "" {
		return tls.Certificate{}, false, fmt.Errorf("%s: %w", s.label(), ErrPartialKeyPair)
	}
	cert, err := tls.LoadX509KeyPair(s.Cert, s.Key)
	if err != nil {
		return tls.Certificate{}, false, fmt.Errorf("%s keypair: %w", s.label(), err)
	}
	return cert, true, nil
}

func (s Settings) label() string {
	return strings.ToLower(strings.TrimSpace(s.Prefix)) + " tls"
}

// Bool reads an on/off environment flag.
func Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// Duration reads a positive Go duration, falling back to def.
func Duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
