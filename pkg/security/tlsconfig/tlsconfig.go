// Package tlsconfig builds the mTLS *tls.Config used by the node's gRPC
// router (pkg/transport/grpcrouter) and its operator HTTP surface
// (pkg/transport/httpjson) (§4.2, §6). TLS is opt-in: Options.Enable
// false is the common case for a trusted internal network, in which
// every constructor here returns (nil, nil) and callers skip UseTLS.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"sync"
	"time"
)

// reloadTTL bounds how long a hot-reloaded certificate is reused before
// the next handshake re-reads it from disk.
const reloadTTL = 10 * time.Second

// Options configures mTLS for a node's listeners and outbound dials.
type Options struct {
	Enable             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	ServerName         string
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pem)
	return pool, nil
}

// Server returns a *tls.Config for the router/HTTP listeners, or nil if
// TLS is disabled. Supplying CAFile turns on mutual TLS
// (ClientAuth RequireAndVerifyClientCert); without one the server takes
// any client certificate or none at all.
func (o Options) Server() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("tlsconfig: server requires CertFile and KeyFile when TLS is enabled")
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Client returns a *tls.Config for dialing a peer node's router, or nil if
// TLS is disabled.
func (o Options) Client() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
	if o.ServerName != "" {
		cfg.ServerName = o.ServerName
	}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// certCache lazily (re)loads a keypair from disk, reusing it for
// reloadTTL before the next handshake re-reads it — cheap support for an
// operator rotating a certificate file without restarting the node.
type certCache struct {
	certFile, keyFile string

	mu       sync.RWMutex
	cached   *tls.Certificate
	loadedAt time.Time
}

func (c *certCache) get() (*tls.Certificate, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.loadedAt) < reloadTTL {
		cert := *c.cached
		c.mu.RUnlock()
		return &cert, nil
	}
	c.mu.RUnlock()

	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cached = &cert
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return &cert, nil
}

// ServerHotReload is Server, except the certificate is re-read from disk
// on the first handshake after reloadTTL has elapsed since it was last
// loaded, so a rotated
// certificate takes effect without restarting the node. The CA pool is
// loaded once, at construction.
func (o Options) ServerHotReload() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("tlsconfig: server requires CertFile and KeyFile when TLS is enabled")
	}
	cfg := &tls.Config{}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
	cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return cache.get() }
	return cfg, nil
}

// ClientHotReload is Client, except the client certificate, if any, is
// re-read from disk on the same reloadTTL cadence as ServerHotReload. The
// CA pool is loaded once, at construction.
func (o Options) ClientHotReload() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
	if o.ServerName != "" {
		cfg.ServerName = o.ServerName
	}
	if o.CAFile != "" {
		pool, err := loadCAPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return cfg, nil
	}
	cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
	cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return cache.get() }
	return cfg, nil
}
