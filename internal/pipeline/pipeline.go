// Package pipeline runs the certificate-to-token flow for one webhook call:
// current mTLS identity, request validation, then the client-credentials
// grant behind a circuit breaker.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/config"
	"github.com/mattjoyce/interhook/internal/identity"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/token"
)

const runOp = "pipeline.Run"

// IdentitySource yields the current mTLS transport.
type IdentitySource interface {
	Current() (*identity.Transport, error)
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	identities IdentitySource
	tokens     token.Acquirer
	request    token.Request
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// New wires a pipeline from cfg. The request settings are captured once.
func New(cfg *config.Config, identities IdentitySource, tokens token.Acquirer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = log.Discard()
	}

	failures := cfg.Breaker.Failures
	settings := gobreaker.Settings{
		Name:        "token-endpoint",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		// Only an unreachable endpoint counts against the breaker; a
		// rejection is a healthy endpoint answering, and a caller that gave
		// up says nothing about the endpoint.
		IsSuccessful: func(err error) bool {
			var aborted *callerAborted
			if errors.As(err, &aborted) {
				return true
			}
			return err == nil || !errors.Is(err, apperr.ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Pipeline{
		identities: identities,
		tokens:     tokens,
		request:    token.RequestFrom(cfg),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// Run acquires an access token for the configured client.
func (p *Pipeline) Run(ctx context.Context) (*token.AccessToken, error) {
	transport, err := p.identities.Current()
	if err != nil {
		return nil, err
	}

	if err := p.request.Validate(); err != nil {
		return nil, err
	}

	v, err := p.breaker.Execute(func() (any, error) {
		tok, err := p.tokens.Acquire(ctx, transport, p.request)
		if err != nil && ctx.Err() != nil {
			return nil, &callerAborted{err: err}
		}
		return tok, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperr.Wrap(apperr.KindTransport, runOp, "token endpoint circuit open", err)
	}
	var aborted *callerAborted
	if errors.As(err, &aborted) {
		return nil, aborted.err
	}
	if err != nil {
		return nil, err
	}
	return v.(*token.AccessToken), nil
}

// callerAborted marks a failure caused by the caller's own context ending.
type callerAborted struct {
	err error
}

func (e *callerAborted) Error() string { return e.err.Error() }

func (e *callerAborted) Unwrap() error { return e.err }

// BreakerState reports the circuit breaker state for diagnostics.
func (p *Pipeline) BreakerState() string {
	return p.breaker.State().String()
}
