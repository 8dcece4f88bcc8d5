package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"geobatch/pkg/config"
	"geobatch/pkg/model"
	"geobatch/pkg/version"
)

const userAgent = "geobatch/" + version.Version

// MessageStream is an open response stream. Next returns io.EOF once the
// stream is exhausted.
type MessageStream interface {
	Next() (*model.StreamMessage, error)
	Close() error
}

// Transport dispatches one batch request and returns its response stream.
type Transport interface {
	Send(ctx context.Context, req *model.BatchRequest) (MessageStream, error)
}

// HTTPTransport talks to the geocoding service over HTTP: one POST per
// run, the response body a sequence of newline-delimited JSON messages
// read incrementally. No automatic retries; the caller re-submits.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPTransport creates a transport for the configured service.
func NewHTTPTransport(cfg config.Service) *HTTPTransport {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &HTTPTransport{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Send implements Transport. Cancelling ctx tears down the connection and
// surfaces as ctx.Err() from the stream's Next.
func (t *HTTPTransport) Send(ctx context.Context, req *model.BatchRequest) (MessageStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/geocode/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	httpReq.Header.Set("User-Agent", userAgent)
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	return &ndjsonStream{ctx: ctx, dec: json.NewDecoder(resp.Body), body: resp.Body}, nil
}

type ndjsonStream struct {
	ctx  context.Context
	dec  *json.Decoder
	body io.ReadCloser
}

func (s *ndjsonStream) Next() (*model.StreamMessage, error) {
	var msg model.StreamMessage
	if err := s.dec.Decode(&msg); err != nil {
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: malformed message: %v", ErrProtocol, err)
	}
	return &msg, nil
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
