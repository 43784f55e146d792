// Package testutil mints throwaway PKI material and mTLS token endpoints for
// tests. Nothing here is used outside _test.go files.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Identity is a key pair with its certificate.
type Identity struct {
	Key    *ecdsa.PrivateKey
	Cert   *x509.Certificate
	Issuer *Identity
}

// NewCA creates a self-signed CA identity.
func NewCA(t testing.TB, commonName string) *Identity {
	t.Helper()
	return newIdentity(t, commonName, nil, true, time.Now().Add(24*time.Hour))
}

// NewSelfSigned creates a self-signed leaf identity valid until notAfter.
func NewSelfSigned(t testing.TB, commonName string, notAfter time.Time) *Identity {
	t.Helper()
	return newIdentity(t, commonName, nil, false, notAfter)
}

// Issue creates a client leaf signed by ca.
func (ca *Identity) Issue(t testing.TB, commonName string) *Identity {
	t.Helper()
	return newIdentity(t, commonName, ca, false, time.Now().Add(24*time.Hour))
}

func newIdentity(t testing.TB, commonName string, issuer *Identity, isCA bool, notAfter time.Time) *Identity {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"interhook tests"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if isCA {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
		tmpl.ExtKeyUsage = nil
	}

	parent, signer := tmpl, key
	if issuer != nil {
		parent, signer = issuer.Cert, issuer.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	return &Identity{Key: key, Cert: cert, Issuer: issuer}
}

// P12 encodes the identity (and its issuer, if any) as a PKCS#12 bundle.
func (id *Identity) P12(t testing.TB, password string) []byte {
	t.Helper()

	var chain []*x509.Certificate
	if id.Issuer != nil {
		chain = append(chain, id.Issuer.Cert)
	}

	data, err := pkcs12.Modern.Encode(id.Key, id.Cert, chain, password)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}
	return data
}

// P12Base64 is P12 encoded with standard base64, the P12_BASE64 format.
func (id *Identity) P12Base64(t testing.TB, password string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(id.P12(t, password))
}

// CertOnlyP12Base64 returns a bundle that carries certificates but no key.
func (id *Identity) CertOnlyP12Base64(t testing.TB, password string) string {
	t.Helper()

	data, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{id.Cert}, password)
	if err != nil {
		t.Fatalf("encode trust store: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Pool returns a cert pool containing the identity certificate.
func (id *Identity) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.Cert)
	return pool
}

// TokenRequest captures what the token endpoint received.
type TokenRequest struct {
	Method      string
	ContentType string
	Username    string
	Password    string
	Form        url.Values
	PeerCN      string
}

// TokenServer is an httptest TLS server that requires a client certificate
// issued by (or equal to) the trusted identity.
type TokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []TokenRequest
}

// NewTokenServer starts a TLS server that demands client certificates
// verifiable against trusted and answers with respond.
func NewTokenServer(t testing.TB, trusted *x509.CertPool, respond http.HandlerFunc) *TokenServer {
	t.Helper()

	ts := &TokenServer{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, pass, _ := r.BasicAuth()
		rec := TokenRequest{
			Method:      r.Method,
			ContentType: r.Header.Get("Content-Type"),
			Username:    user,
			Password:    pass,
			Form:        r.PostForm,
		}
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			rec.PeerCN = r.TLS.PeerCertificates[0].Subject.CommonName
		}
		ts.mu.Lock()
		ts.requests = append(ts.requests, rec)
		ts.mu.Unlock()

		respond(w, r)
	}))
	srv.TLS = &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  trusted,
		MinVersion: tls.VersionTLS12,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	ts.Server = srv
	return ts
}

// Roots returns a pool that trusts the server certificate.
func (ts *TokenServer) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	return pool
}

// Requests returns a copy of the recorded requests.
func (ts *TokenServer) Requests() []TokenRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]TokenRequest, len(ts.requests))
	copy(out, ts.requests)
	return out
}

// JSON replies with status and body encoded as JSON.
func JSON(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// GrantResponse is a canonical successful token response.
func GrantResponse(token string, expiresIn int) map[string]any {
	return map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"scope":        "boleto-cobranca.write",
	}
}
