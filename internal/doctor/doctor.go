// Package doctor validates interhook configuration and credentials offline,
// without contacting the token endpoint.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/credential"
	"github.com/mattjoyce/interhook/internal/identity"
)

// ExpiryWarning is how close to NotAfter a client certificate starts to warn.
const ExpiryWarning = 30 * 24 * time.Hour

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Subject     string  `json:"subject,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
	now func() time.Time
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, now: time.Now}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCredentials(r)
	d.validateOAuth(r)
	d.validateCAFile(r)
	d.warnSettings(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCredentials decodes the bundle and builds the identity exactly as
// the server would at startup.
func (d *Doctor) validateCredentials(r *Result) {
	missing := d.cfg.MissingCredentials()
	for _, name := range missing {
		d.addError(r, "credentials", name, name+" is not set")
	}
	if len(missing) > 0 {
		return
	}

	bundle, err := credential.Decode(d.cfg.Credentials.P12Base64.Reveal(), d.cfg.Credentials.P12Password.Reveal())
	if err != nil {
		msg, _ := apperr.Public(err)
		d.addError(r, "credentials", config.EnvP12Base64, msg)
		return
	}
	defer bundle.Zero()

	transport, err := identity.Build(bundle, identity.Options{})
	if err != nil {
		msg, _ := apperr.Public(err)
		d.addError(r, "credentials", config.EnvP12Base64, msg)
		return
	}
	defer transport.Close()

	r.Fingerprint = transport.Fingerprint()
	r.Subject = transport.Subject()

	remaining := transport.NotAfter().Sub(d.now())
	switch {
	case remaining <= 0:
		d.addWarning(r, "credentials", config.EnvP12Base64,
			fmt.Sprintf("client certificate expired on %s", transport.NotAfter().UTC().Format(time.RFC3339)))
	case remaining < ExpiryWarning:
		d.addWarning(r, "credentials", config.EnvP12Base64,
			fmt.Sprintf("client certificate expires in %d day(s)", int(remaining.Hours()/24)))
	}
}

// validateOAuth checks the client-credentials settings.
func (d *Doctor) validateOAuth(r *Result) {
	for _, name := range d.cfg.MissingOAuth() {
		d.addError(r, "oauth", name, name+" is not set")
	}

	raw := d.cfg.OAuth.TokenURL
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		d.addError(r, "oauth", config.EnvTokenURL, "token URL is not an absolute URL")
		return
	}
	if u.Scheme != "https" {
		d.addError(r, "oauth", config.EnvTokenURL,
			fmt.Sprintf("token URL scheme %q is not https; mTLS requires https", u.Scheme))
	}
}

// validateCAFile checks that the extra trust roots are usable.
func (d *Doctor) validateCAFile(r *Result) {
	if d.cfg.Credentials.CAFile == "" {
		return
	}
	if _, err := identity.LoadRootCAs(d.cfg.Credentials.CAFile); err != nil {
		msg, _ := apperr.Public(err)
		d.addError(r, "credentials", config.EnvCAFile, msg)
	}
}

// warnSettings flags settings that are valid but likely unintended.
func (d *Doctor) warnSettings(r *Result) {
	if d.cfg.Breaker.Failures == 0 {
		d.addWarning(r, "breaker", config.EnvBreakerFails, "circuit breaker is disabled")
	}
	if d.cfg.OAuth.Cache && d.cfg.OAuth.RenewalBuffer <= 0 {
		d.addWarning(r, "oauth", config.EnvRenewalBuffer,
			"token cache has no renewal buffer; tokens may be used up to their expiry instant")
	}
	if d.cfg.OAuth.Timeout > time.Minute {
		d.addWarning(r, "oauth", config.EnvTokenTimeout,
			fmt.Sprintf("token timeout %s is long; webhook senders may give up first", d.cfg.OAuth.Timeout))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Subject != "" {
		fmt.Fprintf(&b, "Client certificate: %s (%s)\n", r.Subject, r.Fingerprint)
	}

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
