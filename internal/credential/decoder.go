// Package credential turns a base64 PKCS#12 bundle and its passphrase into a
// PEM private key and certificate chain.
package credential

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/mattjoyce/interhook/internal/apperr"
)

const (
	op = "credential.Decode"

	pemTypeCertificate = "CERTIFICATE"
	pemTypePrivateKey  = "PRIVATE KEY"
)

var errNoCertificate = errors.New("no certificate block")

// Decode decodes base64Bundle and parses the PKCS#12 container with password.
//
// It returns a complete Bundle or an error, never a partial result:
// apperr.ErrConfiguration when an input is empty, apperr.ErrCertificateParse
// when the base64 is malformed, the password is wrong, or the container has
// no usable key and certificate.
func Decode(base64Bundle, password string) (*Bundle, error) {
	if strings.TrimSpace(base64Bundle) == "" {
		return nil, apperr.New(apperr.KindConfiguration, op, "P12_BASE64 is not set")
	}
	if password == "" {
		return nil, apperr.New(apperr.KindConfiguration, op, "P12_PASSWORD is not set")
	}

	der, err := decodeBase64(base64Bundle)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCertificateParse, op, "P12 bundle is not valid base64", err)
	}
	defer clear(der)

	key, leaf, chain, err := pkcs12.DecodeChain(der, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, apperr.New(apperr.KindCertificateParse, op, "P12 password is incorrect")
		}
		return nil, apperr.Wrap(apperr.KindCertificateParse, op, "P12 bundle could not be parsed", err)
	}
	if key == nil || leaf == nil {
		return nil, apperr.New(apperr.KindCertificateParse, op, "P12 bundle holds no key and certificate pair")
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCertificateParse, op, "P12 private key type is not supported", err)
	}
	defer clear(keyDER)

	var certPEM bytes.Buffer
	for _, c := range append([]*x509.Certificate{leaf}, chain...) {
		if err := pem.Encode(&certPEM, &pem.Block{Type: pemTypeCertificate, Bytes: c.Raw}); err != nil {
			return nil, apperr.Wrap(apperr.KindCertificateParse, op, "certificate could not be PEM encoded", err)
		}
	}

	return &Bundle{
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: keyDER}),
		CertificatePEM: certPEM.Bytes(),
	}, nil
}

// decodeBase64 accepts padded or unpadded standard base64 and ignores the
// line breaks secret managers tend to insert.
func decodeBase64(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	if der, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return der, nil
	}
	return base64.RawStdEncoding.DecodeString(cleaned)
}
