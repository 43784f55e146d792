package identity

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/testutil"
)

func TestLoadRootCAs(t *testing.T) {
	dir := t.TempDir()
	ca := testutil.NewCA(t, "extra-root")

	good := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(good, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw}), 0o600))
	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a certificate"), 0o600))

	t.Run("empty path uses system pool", func(t *testing.T) {
		pool, err := LoadRootCAs("")
		require.NoError(t, err)
		assert.Nil(t, pool)
	})

	t.Run("pem file", func(t *testing.T) {
		pool, err := LoadRootCAs(good)
		require.NoError(t, err)
		require.NotNil(t, pool)

		_, err = ca.Cert.Verify(x509.VerifyOptions{Roots: pool})
		assert.NoError(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRootCAs(filepath.Join(dir, "absent.pem"))
		assert.ErrorIs(t, err, apperr.ErrConfiguration)
	})

	t.Run("no certificates", func(t *testing.T) {
		_, err := LoadRootCAs(junk)
		assert.ErrorIs(t, err, apperr.ErrConfiguration)
	})
}
