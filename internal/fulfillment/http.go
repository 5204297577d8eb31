package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPConfig configures the JSON-over-HTTP provider adapter.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider posts purchase orders to a VTU aggregator's REST endpoint.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	return &HTTPProvider{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		// The per-call context deadline governs; the client timeout is a backstop.
		httpClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type fulfillResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (p *HTTPProvider) Fulfill(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode fulfill request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/fulfill", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build fulfill request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out fulfillResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	ok := resp.StatusCode < 300 && strings.EqualFold(out.Status, "success")
	msg := out.Message
	if !ok && msg == "" {
		msg = fmt.Sprintf("provider rejected the request (status %d)", resp.StatusCode)
	}
	return Result{Success: ok, ProviderReference: out.Reference, Message: msg}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
