package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/testutil"
)

const testPassword = "doctor-pass"

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	id := testutil.NewSelfSigned(t, "doctor-client", time.Now().Add(365*24*time.Hour))

	cfg := config.Defaults()
	cfg.Credentials.P12Base64 = config.Secret(id.P12Base64(t, testPassword))
	cfg.Credentials.P12Password = testPassword
	cfg.OAuth.ClientID = "client"
	cfg.OAuth.ClientSecret = "secret"
	cfg.OAuth.Scope = "boleto-cobranca.write"
	cfg.OAuth.TokenURL = "https://cdpj.partners.example.com/oauth/v2/token"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("expected no warnings, got: %v", r.Warnings)
	}
	if !strings.HasPrefix(r.Fingerprint, "blake3:") {
		t.Errorf("Fingerprint = %q, want blake3 prefix", r.Fingerprint)
	}
	if !strings.Contains(r.Subject, "doctor-client") {
		t.Errorf("Subject = %q, want doctor-client", r.Subject)
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Credentials.P12Base64 = ""
	cfg.Credentials.P12Password = ""
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "credentials", "P12_BASE64")
	assertHasError(t, r, "credentials", "P12_PASSWORD")
}

func TestValidate_WrongPassword(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Credentials.P12Password = "wrong"
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "credentials", "password is incorrect")
	if strings.Contains(FormatHuman(r), "wrong") {
		t.Error("report must not echo the password")
	}
}

func TestValidate_BadBase64(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Credentials.P12Base64 = "!!!not-base64!!!"
	r := New(cfg).Validate()
	assertHasError(t, r, "credentials", "base64")
}

func TestValidate_MissingOAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.OAuth.ClientID = ""
	cfg.OAuth.TokenURL = ""
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "oauth", config.EnvClientID)
	assertHasError(t, r, "oauth", config.EnvTokenURL)
}

func TestValidate_TokenURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"http://auth.example.com/token", "not https"},
		{"auth.example.com/token", "absolute"},
	}
	for _, tt := range tests {
		cfg := validConfig(t)
		cfg.OAuth.TokenURL = tt.url
		r := New(cfg).Validate()
		assertHasError(t, r, "oauth", tt.want)
	}
}

func TestValidate_CertificateExpiry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		notAfter time.Duration
		want     string
	}{
		{"expiring soon", 10 * 24 * time.Hour, "expires in"},
		{"expired", -30 * time.Minute, "expired on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			id := testutil.NewSelfSigned(t, "short-lived", time.Now().Add(tt.notAfter))
			cfg.Credentials.P12Base64 = config.Secret(id.P12Base64(t, testPassword))

			r := New(cfg).Validate()
			if !r.Valid {
				t.Fatalf("expiry is a warning, got errors: %v", r.Errors)
			}
			assertHasWarning(t, r, "credentials", tt.want)
		})
	}
}

func TestValidate_CAFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(junk, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig(t)
	cfg.Credentials.CAFile = junk
	assertHasError(t, New(cfg).Validate(), "credentials", "no PEM certificates")

	cfg.Credentials.CAFile = filepath.Join(dir, "absent.pem")
	assertHasError(t, New(cfg).Validate(), "credentials", "could not be read")
}

func TestValidate_SettingWarnings(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Breaker.Failures = 0
	cfg.OAuth.Cache = true
	cfg.OAuth.RenewalBuffer = 0
	cfg.OAuth.Timeout = 2 * time.Minute

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "breaker", "disabled")
	assertHasWarning(t, r, "oauth", "renewal buffer")
	assertHasWarning(t, r, "oauth", "timeout")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "oauth", Field: "INTER_CLIENT_ID", Message: "INTER_CLIENT_ID is not set"}},
		Warnings: []Issue{{Category: "breaker", Message: "circuit breaker is disabled"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Errorf("unexpected header: %s", out)
	}
	if !strings.Contains(out, "ERROR [oauth] INTER_CLIENT_ID") {
		t.Errorf("missing error line: %s", out)
	}
	if !strings.Contains(out, "WARN  [breaker] circuit breaker is disabled") {
		t.Errorf("missing warning line: %s", out)
	}

	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Errorf("FormatHuman(valid) = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true, Fingerprint: "blake3:ab"})
	if err != nil {
		t.Fatalf("FormatJSON() error = %v", err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"fingerprint": "blake3:ab"`) {
		t.Errorf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substring) || e.Field == substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
