// Package token performs the OAuth2 client-credentials grant over an mTLS
// transport and optionally caches the resulting tokens.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/identity"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/metrics"
)

const (
	acquireOp = "token.Acquire"

	maxResponseBytes = 1 << 20
	maxDetailBytes   = 2048
)

// Acquirer obtains an access token over transport.
type Acquirer interface {
	Acquire(ctx context.Context, transport *identity.Transport, req Request) (*AccessToken, error)
}

// Client talks to the token endpoint. It performs no retries.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewClient creates a token client. Both arguments may be nil.
func NewClient(logger *slog.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{logger: logger, metrics: m, now: time.Now}
}

// Acquire executes the grant. Failures are classified as
// apperr.ErrConfiguration (incomplete request), apperr.ErrTransport (the
// endpoint could not be reached), apperr.ErrAuthentication (non-2xx) or
// apperr.ErrProtocol (2xx with an unusable body).
func (c *Client) Acquire(ctx context.Context, transport *identity.Transport, req Request) (*AccessToken, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, apperr.New(apperr.KindConfiguration, acquireOp, "mTLS identity is not available")
	}

	endpoint, err := url.Parse(req.TokenURL)
	if err != nil || endpoint.Scheme != "https" || endpoint.Host == "" {
		return nil, apperr.New(apperr.KindConfiguration, acquireOp, "INTER_TOKEN_URL must be an absolute https URL")
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {req.Scope},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, acquireOp, "token request could not be built", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(req.ClientID, req.ClientSecret.Reveal())

	start := time.Now()
	tok, err := c.do(transport, httpReq)
	outcome := "success"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	c.metrics.RecordTokenRequest(outcome, time.Since(start))

	if err != nil {
		c.logger.Warn("token request failed",
			"token_url", endpoint.Redacted(),
			"kind", outcome,
			"error", err,
		)
		return nil, err
	}

	c.logger.Debug("token acquired",
		"token_url", endpoint.Redacted(),
		"token_type", tok.TokenType,
		"expires_in", tok.ExpiresIn,
		"fingerprint", transport.Fingerprint(),
	)
	return tok, nil
}

func (c *Client) do(transport *identity.Transport, httpReq *http.Request) (*AccessToken, error) {
	resp, err := transport.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, acquireOp, "token endpoint could not be reached", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, acquireOp, "token response could not be read", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := apperr.New(apperr.KindAuthentication, acquireOp,
			fmt.Sprintf("token endpoint rejected the request (status %d)", resp.StatusCode))
		e.Detail = UpstreamError{Status: resp.StatusCode, Body: upstreamBody(body)}
		return nil, e
	}

	var grant grantResponse
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, apperr.Wrap(apperr.KindProtocol, acquireOp, "token response is not valid JSON", err)
	}
	switch {
	case grant.AccessToken == nil || *grant.AccessToken == "":
		return nil, apperr.New(apperr.KindProtocol, acquireOp, "token response is missing access_token")
	case grant.TokenType == nil || *grant.TokenType == "":
		return nil, apperr.New(apperr.KindProtocol, acquireOp, "token response is missing token_type")
	case grant.ExpiresIn == nil:
		return nil, apperr.New(apperr.KindProtocol, acquireOp, "token response is missing expires_in")
	case *grant.ExpiresIn < 0:
		return nil, apperr.New(apperr.KindProtocol, acquireOp, "token response has a negative expires_in")
	}

	return &AccessToken{
		Value:      config.Secret(*grant.AccessToken),
		TokenType:  *grant.TokenType,
		ExpiresIn:  int(*grant.ExpiresIn),
		Scope:      grant.Scope,
		ObtainedAt: c.now(),
	}, nil
}

// upstreamBody returns the error body as JSON when it parses, otherwise as
// truncated text.
func upstreamBody(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxDetailBytes {
		text = text[:maxDetailBytes]
	}
	if text == "" {
		return nil
	}
	return text
}
