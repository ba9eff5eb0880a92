// Package metaapi wraps the MetaApi cloud REST API used for market data,
// order execution and account state on the bridged MT5 account.
package metaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrRateLimited is returned on HTTP 429 so callers can apply their own backoff.
var ErrRateLimited = errors.New("metaapi: rate limited")

// APIError carries a non-2xx upstream response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("metaapi: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("metaapi: HTTP %d", e.Status)
}

// Client is a REST client bound to one account in one region.
type Client struct {
	Token      string
	AccountID  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a client for the given credentials.
func NewClient(token, accountID, region string) *Client {
	return &Client{
		Token:      token,
		AccountID:  accountID,
		BaseURL:    BaseURL(region),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetSymbolPrice fetches the current bid/ask for one symbol.
// A 404 means the broker does not offer the symbol; that is reported as
// (nil, nil), not an error.
func (c *Client) GetSymbolPrice(ctx context.Context, symbol string) (*Price, error) {
	u := fmt.Sprintf("%s/users/current/accounts/%s/symbols/%s/current-price", c.BaseURL, c.AccountID, symbol)

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var p Price
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode price for %s: %w", symbol, err)
	}
	p.Symbol = symbol
	return &p, nil
}

// SubmitTrade posts an order or close request to the account.
func (c *Client) SubmitTrade(ctx context.Context, req TradeRequest) (*TradeResponse, error) {
	u := fmt.Sprintf("%s/users/current/accounts/%s/trade", c.BaseURL, c.AccountID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode trade request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}

	var resp TradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trade response: %w", err)
	}
	return &resp, nil
}

// GetAccountInformation fetches account-level connection and balance state.
func (c *Client) GetAccountInformation(ctx context.Context) (*AccountInformation, error) {
	u := fmt.Sprintf("%s/users/current/accounts/%s/account-information", c.BaseURL, c.AccountID)

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var info AccountInformation
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account information: %w", err)
	}
	return &info, nil
}

// GetPositions lists the open positions on the account.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	u := fmt.Sprintf("%s/users/current/accounts/%s/positions", c.BaseURL, c.AccountID)

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var positions []Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("auth-token", c.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Status: res.StatusCode, Message: upstreamMessage(body)}
	}
	return body, nil
}

// upstreamMessage pulls a human-readable message out of an error body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}
