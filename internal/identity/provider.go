package identity

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/credential"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/metrics"
)

// Credentials is the PKCS#12 input to a build.
type Credentials struct {
	P12Base64   config.Secret
	P12Password config.Secret
}

// CredentialsFrom extracts the PKCS#12 settings from cfg.
func CredentialsFrom(cfg *config.Config) Credentials {
	return Credentials{
		P12Base64:   cfg.Credentials.P12Base64,
		P12Password: cfg.Credentials.P12Password,
	}
}

type state struct {
	transport *Transport
	err       error
	builtAt   time.Time
}

// Provider owns the current Transport. Reads are lock-free; Rebuild swaps in
// a new identity for credential rotation.
type Provider struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current atomic.Pointer[state]
}

// NewProvider creates a Provider with no identity. Call Rebuild before use.
func NewProvider(opts Options, logger *slog.Logger, m *metrics.Metrics) *Provider {
	if logger == nil {
		logger = log.Discard()
	}
	p := &Provider{opts: opts, logger: logger, metrics: m}
	p.current.Store(&state{
		err: apperr.New(apperr.KindConfiguration, "identity.Current", "mTLS identity has not been built"),
	})
	return p
}

// Rebuild decodes creds and replaces the current identity. On failure the
// current identity is replaced by the failure, so stale credentials are not
// kept in use, and the error is returned.
func (p *Provider) Rebuild(creds Credentials) (*Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	transport, err := p.build(creds)
	previous := p.current.Swap(&state{transport: transport, err: err, builtAt: time.Now()})
	if previous != nil && previous.transport != nil && previous.transport != transport {
		previous.transport.Close()
	}

	if err != nil {
		p.metrics.RecordIdentityBuild("failure")
		p.logger.Error("mTLS identity unavailable",
			"kind", apperr.KindOf(err).String(),
			"error", err,
		)
		return nil, err
	}

	p.metrics.RecordIdentityBuild("success")
	p.logger.Info("mTLS identity ready",
		"subject", transport.Subject(),
		"fingerprint", transport.Fingerprint(),
		"not_after", transport.NotAfter().UTC().Format(time.RFC3339),
	)
	if time.Until(transport.NotAfter()) < 0 {
		p.logger.Warn("client certificate has expired", "not_after", transport.NotAfter())
	}
	return transport, nil
}

func (p *Provider) build(creds Credentials) (*Transport, error) {
	bundle, err := credential.Decode(creds.P12Base64.Reveal(), creds.P12Password.Reveal())
	if err != nil {
		return nil, err
	}
	defer bundle.Zero()

	return Build(bundle, p.opts)
}

// Current returns the active Transport, or the error from the last build.
func (p *Provider) Current() (*Transport, error) {
	s := p.current.Load()
	if s.err != nil {
		return nil, s.err
	}
	return s.transport, nil
}

// BuiltAt returns when the current state was produced.
func (p *Provider) BuiltAt() time.Time {
	return p.current.Load().builtAt
}
