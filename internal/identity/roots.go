package identity

import (
	"crypto/x509"
	"os"

	"github.com/mattjoyce/interhook/internal/apperr"
)

// LoadRootCAs returns the system pool extended with the PEM certificates in
// caFile. An empty caFile yields nil, which means the system pool.
func LoadRootCAs(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "identity.LoadRootCAs", "CA file could not be read", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, apperr.New(apperr.KindConfiguration, "identity.LoadRootCAs", "CA file contains no PEM certificates")
	}
	return pool, nil
}
