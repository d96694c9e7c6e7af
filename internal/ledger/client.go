package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// GatewayConfig configures the connection to the ledger gateway.
type GatewayConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// GatewayClient talks JSON over HTTP to the ledger gateway. It implements
// Client: one Submit per Operation, Query for read-only enumeration. The
// gateway provides per-operation atomicity only; nothing here composes
// operations into larger transactions.
type GatewayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewGatewayClient creates a ledger gateway client.
func NewGatewayClient(cfg GatewayConfig, logger *zap.Logger) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GatewayClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Submit sends one Operation to the gateway and decodes its Receipt.
//
// Error mapping: transport failures and gateway 5xx responses are
// TransientError (no definitive outcome); a 4xx response with a ledger code
// is a RejectionError. A well-formed Receipt with StatusFailure is returned
// with a nil error: the ledger executed the operation and reported the
// rejection inside the receipt.
func (c *GatewayClient) Submit(ctx context.Context, op *Operation) (*Receipt, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation %s: %w", op.Action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op.Action, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &TransientError{Op: op.Action, Err: fmt.Errorf("gateway returned %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Op: op.Action, Err: fmt.Errorf("gateway throttled the request")}
	case resp.StatusCode >= 400:
		var rejection struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil || rejection.Code == "" {
			rejection.Code = resp.Status
		}
		return nil, &RejectionError{Action: op.Action, Code: rejection.Code, Detail: rejection.Detail}
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, &TransientError{Op: op.Action, Err: fmt.Errorf("failed to decode receipt: %w", err)}
	}
	if receipt.Status != StatusSuccess && receipt.Status != StatusFailure {
		return nil, &TransientError{Op: op.Action, Err: fmt.Errorf("receipt carries unknown status %q", receipt.Status)}
	}

	c.logger.Debug("ledger operation submitted",
		zap.String("action", op.Action),
		zap.String("status", string(receipt.Status)),
		zap.Int("created_objects", len(receipt.CreatedObjects)))

	return &receipt, nil
}

// Query enumerates object handles matching the filter, in ledger-assigned
// order. Failures are always TransientError: a read that didn't complete has
// no definitive outcome by definition.
func (c *GatewayClient) Query(ctx context.Context, filter Filter) ([]ObjectHandle, error) {
	params := url.Values{}
	if filter.Owner != "" {
		params.Set("owner", filter.Owner)
	}
	if filter.LogicalType != "" {
		params.Set("logical_type", filter.LogicalType)
	}
	if filter.Handle != "" {
		params.Set("handle", string(filter.Handle))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/objects?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "query", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransientError{Op: "query", Err: fmt.Errorf("gateway returned %s", resp.Status)}
	}

	var result struct {
		Handles []ObjectHandle `json:"handles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransientError{Op: "query", Err: fmt.Errorf("failed to decode query result: %w", err)}
	}

	return result.Handles, nil
}

func (c *GatewayClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
