// Package tlsutil builds tls.Config values from security settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/pkg/security"
)

var minVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// minVersion is TLS 1.2 unless "1.3" is asked for.
func minVersion(v string) uint16 {
	if version, ok := minVersions[v]; ok {
		return version
	}
	return tls.VersionTLS12
}

// LoadServerTLSConfig is nil when TLS is disabled. With mTLS enabled the
// listener verifies client certificates against the client CA files and,
// if configured, the allowed common names.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}
	conf := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: minVersion(cfg.MinVersion)}
	if !cfg.MTLS.Enabled {
		return conf, nil
	}

	if conf.ClientCAs, err = loadPool(x509.NewCertPool(), cfg.MTLS.ClientCAFiles); err != nil {
		return nil, err
	}
	conf.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.MTLS.RequireClientCert {
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if allowed := cfg.MTLS.AllowedClientCNs; len(allowed) > 0 {
		conf.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(chains, allowed)
		}
	}
	return conf, nil
}

// LoadClientTLSConfig trusts the system roots plus cfg.CAFiles and presents
// a client certificate when mTLS is enabled.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if roots, err = loadPool(roots, cfg.CAFiles); err != nil {
		return nil, err
	}

	conf := &tls.Config{
		MinVersion:         minVersion(cfg.MinVersion),
		RootCAs:            roots,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}
	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// NewHTTPClient is the client for the document store and hook listeners.
func NewHTTPClient(cfg security.ClientTLSConfig, timeout time.Duration) (*http.Client, error) {
	conf, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = conf
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func loadPool(pool *x509.CertPool, files []string) (*x509.CertPool, error) {
	for _, file := range files {
		pem, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "loadPool", "read CA file "+file)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.WrapFatal(fmt.Errorf("no certificates in %s", file), "tlsutil", "loadPool", "parse CA file")
		}
	}
	return pool, nil
}

func verifyAllowedClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}
	cn := chains[0][0].Subject.CommonName
	if !slices.Contains(allowed, cn) {
		return fmt.Errorf("client certificate CN %q is not allowed", cn)
	}
	return nil
}
