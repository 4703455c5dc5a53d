package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 64 << 10
)

// Transport sends one JSON call to the auth service. body may be nil; out may be nil when
// the response body is not needed.
type Transport interface {
	Send(ctx context.Context, method, path string, body, out any) error
}

// HTTPTransport is a plain Transport without credential handling. It is used for the refresh
// call, which must never pass through the gateway.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// NewHTTPTransport creates a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, options ...HTTPTransportOption) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, errors.New("[NewHTTPTransport] base url is required")
	}
	t := &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

func (t *HTTPTransport) Send(ctx context.Context, method, path string, body, out any) error {
	req, err := NewRequest(ctx, t.baseURL, method, path, body)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("[HTTPTransport Send] %s %s: %w", method, path, err)
	}
	return DecodeResponse(resp, path, out)
}

// NewRequest builds a JSON request for baseURL+path. The body is encoded afresh on every call
// so a request can be rebuilt for a replay.
func NewRequest(ctx context.Context, baseURL, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[auth NewRequest] encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("[auth NewRequest] %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// DecodeResponse closes resp. A 2xx body is decoded into out (when non-nil); anything else
// becomes an *APIError built from the error body.
func DecodeResponse(resp *http.Response, path string, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Path: path}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var body ErrorBody
		if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
			apiErr.Code = body.ErrorCode
			apiErr.Message = body.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("[auth DecodeResponse] %s: %w", path, err)
	}
	return nil
}
