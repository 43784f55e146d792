package credential

import (
	"crypto/x509"
	"encoding/pem"
)

// Bundle is a decoded PKCS#12 identity in PEM form.
//
// CertificatePEM holds the leaf first, followed by any chain certificates
// found in the container. A Bundle is short-lived: build the identity from it
// and call Zero.
type Bundle struct {
	PrivateKeyPEM  []byte
	CertificatePEM []byte
}

// Zero overwrites the key and certificate buffers in place.
func (b *Bundle) Zero() {
	if b == nil {
		return
	}
	clear(b.PrivateKeyPEM)
	clear(b.CertificatePEM)
	b.PrivateKeyPEM = nil
	b.CertificatePEM = nil
}

// Leaf parses the first certificate in CertificatePEM.
func (b *Bundle) Leaf() (*x509.Certificate, error) {
	block, _ := pem.Decode(b.CertificatePEM)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, errNoCertificate
	}
	return x509.ParseCertificate(block.Bytes)
}
