package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxRequestBodyBytes caps the size of a query request body.
const MaxRequestBodyBytes = 1 << 20

// ErrInvalidRequest marks a request body that does not carry a usable query.
var ErrInvalidRequest = errors.New("invalid request")

// QueryRequest is the JSON body of /write-query and /read-query.
type QueryRequest struct {
	Query string `json:"query"`
}

// DecodeQueryRequest reads a {"query": "..."} body and returns the query text.
// The text is returned as sent; it is never parsed or rewritten.
func DecodeQueryRequest(body io.Reader) (string, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(body, MaxRequestBodyBytes)).Decode(&raw); err != nil {
		return "", fmt.Errorf("%w: body must be a JSON object: %v", ErrInvalidRequest, err)
	}

	field, ok := raw["query"]
	if !ok {
		return "", fmt.Errorf("%w: missing field 'query'", ErrInvalidRequest)
	}

	var text string
	if err := json.Unmarshal(field, &text); err != nil {
		return "", fmt.Errorf("%w: field 'query' must be a string", ErrInvalidRequest)
	}
	if text == "" {
		return "", fmt.Errorf("%w: field 'query' must not be empty", ErrInvalidRequest)
	}
	return text, nil
}
