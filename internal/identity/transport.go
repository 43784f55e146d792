// Package identity builds the mTLS client identity used to reach the token
// endpoint and keeps the current one available to concurrent requests.
package identity

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/credential"
)

const buildOp = "identity.Build"

// Options tunes the outbound transport.
type Options struct {
	// RootCAs replaces the system pool when set. Server verification is
	// always on; this only changes what is trusted.
	RootCAs *x509.CertPool

	// Timeout bounds every request made through the transport.
	Timeout time.Duration
}

// Transport is an HTTP client presenting a fixed client certificate over
// TLS 1.2. It holds no per-request state and is safe for concurrent use.
type Transport struct {
	client      *http.Client
	fingerprint string
	subject     string
	notAfter    time.Time
}

// Build turns a decoded bundle into a Transport. It fails with
// apperr.ErrIdentityConstruction when the key and certificate do not match or
// the TLS stack rejects them.
func Build(bundle *credential.Bundle, opts Options) (*Transport, error) {
	if bundle == nil || len(bundle.PrivateKeyPEM) == 0 || len(bundle.CertificatePEM) == 0 {
		return nil, apperr.New(apperr.KindIdentityConstruction, buildOp, "credential bundle is empty")
	}

	cert, err := tls.X509KeyPair(bundle.CertificatePEM, bundle.PrivateKeyPEM)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIdentityConstruction, buildOp, "client key and certificate were rejected", err)
	}

	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIdentityConstruction, buildOp, "client certificate could not be parsed", err)
		}
		cert.Leaf = leaf
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      opts.RootCAs,
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}

	httpTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	sum := blake3.Sum256(leaf.Raw)

	return &Transport{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: httpTransport,
		},
		fingerprint: "blake3:" + hex.EncodeToString(sum[:]),
		subject:     leaf.Subject.String(),
		notAfter:    leaf.NotAfter,
	}, nil
}

// Do sends req over the mTLS connection.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// Fingerprint identifies the client certificate (blake3:<hex> of its DER).
func (t *Transport) Fingerprint() string {
	return t.fingerprint
}

// Subject is the client certificate subject DN.
func (t *Transport) Subject() string {
	return t.subject
}

// NotAfter is the client certificate expiry.
func (t *Transport) NotAfter() time.Time {
	return t.notAfter
}

// Close releases idle connections.
func (t *Transport) Close() {
	t.client.CloseIdleConnections()
}
