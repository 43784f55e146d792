package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/interhook/internal/token"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/mattjoyce/interhook/internal/webhook TokenPipeline

// TokenPipeline acquires an access token for one webhook delivery.
type TokenPipeline interface {
	Run(ctx context.Context) (*token.AccessToken, error)
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the bind address, e.g. ":8080".
	Listen string

	// MaxBodySize is the maximum accepted request body in bytes (default: 1MB).
	MaxBodySize int64

	// StrictPayload answers empty payloads with 400 instead of a 200 echo.
	StrictPayload bool

	// TokenTimeout is the outbound token call bound; the server write
	// timeout is derived from it.
	TokenTimeout time.Duration
}

// AcceptedResponse is the JSON response for a processed delivery. It never
// carries the access token itself.
type AcceptedResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ReceiptID string `json:"receiptId"`
	Event     string `json:"event,omitempty"`
	TokenType string `json:"tokenType"`
	ExpiresIn int    `json:"expiresIn"`
}

// EmptyPayloadResponse acknowledges a delivery that carried no data.
type EmptyPayloadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Default values
const (
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultTokenTimeout = 10 * time.Second
)

const livenessMessage = "interhook webhook receiver is up and accepting POST /"
