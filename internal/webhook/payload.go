package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

var errInvalidPayload = errors.New("payload must be a JSON object or array, or a URL-encoded form")

// Payload is a parsed webhook body. Only its shape is inspected; the content
// is not retained after the request.
type Payload struct {
	Fields map[string]any
	Items  int
}

// Empty reports whether the delivery carried no data.
func (p *Payload) Empty() bool {
	return len(p.Fields) == 0 && p.Items == 0
}

// Field returns a top-level field rendered as a string, or "".
func (p *Payload) Field(name string) string {
	v, ok := p.Fields[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// parsePayload accepts JSON or application/x-www-form-urlencoded. A body
// without a Content-Type is read as JSON; any other media type carries no
// fields and yields an empty payload.
func parsePayload(contentType string, body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Payload{}, nil
	}

	if strings.TrimSpace(contentType) == "" {
		return parseJSON(trimmed)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	switch {
	case err != nil:
		return &Payload{}, nil
	case mediaType == "application/x-www-form-urlencoded":
		return parseForm(trimmed)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return parseJSON(trimmed)
	default:
		return &Payload{}, nil
	}
}

func parseForm(body []byte) (*Payload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errInvalidPayload
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		if k == "" {
			continue
		}
		if len(v) == 1 {
			fields[k] = v[0]
		} else {
			fields[k] = v
		}
	}
	return &Payload{Fields: fields}, nil
}

func parseJSON(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errInvalidPayload
	}
	if dec.More() {
		return nil, errInvalidPayload
	}

	switch t := v.(type) {
	case nil:
		return &Payload{}, nil
	case map[string]any:
		return &Payload{Fields: t}, nil
	case []any:
		return &Payload{Items: len(t)}, nil
	default:
		return nil, errInvalidPayload
	}
}
