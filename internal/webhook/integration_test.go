package webhook_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/identity"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/metrics"
	"github.com/mattjoyce/interhook/internal/pipeline"
	"github.com/mattjoyce/interhook/internal/testutil"
	"github.com/mattjoyce/interhook/internal/token"
	"github.com/mattjoyce/interhook/internal/webhook"
)

const p12Password = "s3cr3t-p12"

type harness struct {
	handler http.Handler
	tokens  *testutil.TokenServer
}

// newHarness wires the real receiver against a TLS token endpoint that
// requires the client certificate. mutate adjusts the config before wiring.
func newHarness(t *testing.T, respond http.HandlerFunc, mutate func(*config.Config)) *harness {
	t.Helper()

	client := testutil.NewCA(t, "interhook-test-ca").Issue(t, "interhook-client")
	ts := testutil.NewTokenServer(t, client.Issuer.Pool(), respond)

	cfg := config.Defaults()
	cfg.Credentials.P12Base64 = config.Secret(client.P12Base64(t, p12Password))
	cfg.Credentials.P12Password = p12Password
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.Scope = "boleto-cobranca.write"
	cfg.OAuth.TokenURL = ts.URL + "/oauth/v2/token"
	cfg.OAuth.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	logger := log.Discard()

	provider := identity.NewProvider(identity.Options{RootCAs: ts.Roots(), Timeout: cfg.OAuth.Timeout}, logger, m)
	_, _ = provider.Rebuild(identity.CredentialsFrom(cfg))

	p := pipeline.New(cfg, provider, token.NewClient(logger, m), logger)

	wc, err := webhook.FromConfig(cfg)
	require.NoError(t, err)

	return &harness{
		handler: webhook.New(wc, p, m, logger).Handler(),
		tokens:  ts,
	}
}

func (h *harness) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ObtainsTokenOverMTLS(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusOK, testutil.GrantResponse("tok-123", 3600)), nil)

	rec := h.post(`{"evento":"pedido","idRetorno":"123"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "tok-123")

	var resp webhook.AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)

	reqs := h.tokens.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "interhook-client", reqs[0].PeerCN)
	assert.Equal(t, "client-id", reqs[0].Username)
	assert.Equal(t, "client-secret", reqs[0].Password)
	assert.Equal(t, "client_credentials", reqs[0].Form.Get("grant_type"))
	assert.Equal(t, "boleto-cobranca.write", reqs[0].Form.Get("scope"))
}

func TestWebhook_UpstreamRejectsClient(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusUnauthorized, map[string]any{"error": "invalid_client"}), nil)

	rec := h.post(`{"evento":"pedido"}`)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Error   string `json:"error"`
		Details struct {
			Status int            `json:"status"`
			Body   map[string]any `json:"body"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusUnauthorized, resp.Details.Status)
	assert.Equal(t, "invalid_client", resp.Details.Body["error"])
	assert.NotContains(t, rec.Body.String(), "client-secret")
}

func TestWebhook_MissingBundleIsForbidden(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusOK, testutil.GrantResponse("tok", 60)), func(cfg *config.Config) {
		cfg.Credentials.P12Base64 = ""
	})

	rec := h.post(`{"evento":"pedido"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "P12_BASE64")
	assert.NotContains(t, rec.Body.String(), p12Password)
	assert.Empty(t, h.tokens.Requests())
}

func TestWebhook_WrongPasswordIsForbidden(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusOK, testutil.GrantResponse("tok", 60)), func(cfg *config.Config) {
		cfg.Credentials.P12Password = "not-the-password"
	})

	rec := h.post(`{"evento":"pedido"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "not-the-password")
	assert.Empty(t, h.tokens.Requests())
}

func TestWebhook_EmptyPayloadMakesNoNetworkCall(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusOK, testutil.GrantResponse("tok", 60)), nil)

	rec := h.post(`{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.tokens.Requests())
}

func TestWebhook_MalformedTokenResponse(t *testing.T) {
	h := newHarness(t, testutil.JSON(http.StatusOK, map[string]any{"token_type": "Bearer"}), nil)

	rec := h.post(`{"evento":"pedido"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "details")
}
