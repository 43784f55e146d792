// Package webhook implements the inbound HTTP receiver.
//
// Every non-empty POST / triggers one run of the token pipeline: the current
// mTLS identity is used to perform an OAuth2 client-credentials grant against
// the configured token endpoint. The access token itself never leaves the
// process; callers only see its type and lifetime.
//
// # Routes
//
//   - GET /         liveness text, no pipeline call
//   - POST /        webhook delivery (JSON or URL-encoded form)
//   - GET /metrics  Prometheus exposition
//
// # Error Responses
//
//   - 400 Bad Request: body is not JSON or a form, or empty in strict mode
//   - 401 Unauthorized: the token endpoint rejected the client (details echo
//     the upstream status and body)
//   - 403 Forbidden: the PKCS#12 bundle is missing, unreadable or unusable
//   - 413 Payload Too Large: body exceeds MaxBodySize
//   - 500 Internal Server Error: transport or protocol failure (no details)
//
// Request logging excludes payloads and credentials.
package webhook
