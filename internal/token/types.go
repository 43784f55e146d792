package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/config"
)

// AccessToken is the result of one client-credentials grant.
type AccessToken struct {
	// Value is the bearer credential. It never renders in logs or JSON.
	Value      config.Secret
	TokenType  string
	ExpiresIn  int
	Scope      string
	ObtainedAt time.Time
}

// ExpiresAt is ObtainedAt plus ExpiresIn.
func (t *AccessToken) ExpiresAt() time.Time {
	return t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Request identifies one client-credentials grant.
type Request struct {
	TokenURL     string
	ClientID     string
	ClientSecret config.Secret
	Scope        string
}

// RequestFrom builds a Request from cfg.
func RequestFrom(cfg *config.Config) Request {
	return Request{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scope:        cfg.OAuth.Scope,
	}
}

// Validate fails with apperr.ErrConfiguration naming every absent field.
func (r Request) Validate() error {
	var missing []string
	if r.ClientID == "" {
		missing = append(missing, config.EnvClientID)
	}
	if r.ClientSecret.IsZero() {
		missing = append(missing, config.EnvClientSecret)
	}
	if r.Scope == "" {
		missing = append(missing, config.EnvScope)
	}
	if r.TokenURL == "" {
		missing = append(missing, config.EnvTokenURL)
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindConfiguration, "token.Request", "missing OAuth settings: "+strings.Join(missing, ", "))
	}
	return nil
}

// UpstreamError is the diagnostic attached to an authentication failure.
type UpstreamError struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

// grantResponse is the token endpoint's JSON body. Pointers distinguish
// absent fields from zero values.
type grantResponse struct {
	AccessToken *string    `json:"access_token"`
	TokenType   *string    `json:"token_type"`
	ExpiresIn   *expiresIn `json:"expires_in"`
	Scope       string     `json:"scope"`
}

// expiresIn accepts a JSON number or a numeric string; some gateways quote
// it and some render it as a float. Fractional values are rejected.
type expiresIn int

func (e *expiresIn) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	raw := string(data)
	if n, err := strconv.Atoi(raw); err == nil {
		*e = expiresIn(n)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("expires_in is not an integer: %q", raw)
	}
	*e = expiresIn(int(f))
	return nil
}
