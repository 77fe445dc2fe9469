package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"main/internal/schema"

	shopspring "github.com/shopspring/decimal"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const defaultTimeout = 5 * time.Second

// Config holds the REST brokerage credentials and endpoint.
type Config struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Account   string
	Timeout   time.Duration
}

// Client is a KIS-style REST brokerage adapter. Transport failures map to
// ErrUnreachable; a timeout is treated as a rejection to be reconciled on the
// next balance sync, never as an assumed fill.
type Client struct {
	cfg   Config
	http  *http.Client
	token string
}

// NewClient builds a REST client from credentials.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type tokenRequest struct {
	AppKey    string `json:"appKey"`
	AppSecret string `json:"appSecret"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// IssueToken exchanges the app credentials for an access token.
func (c *Client) IssueToken(ctx context.Context) error {
	var out tokenResponse
	err := c.post(ctx, "/oauth2/token", tokenRequest{
		AppKey:    c.cfg.AppKey,
		AppSecret: c.cfg.AppSecret,
	}, &out)
	if err != nil {
		return errors.Wrap(err, "issue token")
	}
	if out.AccessToken == "" {
		return errors.New("empty access token")
	}
	c.token = out.AccessToken
	return nil
}

type orderPayload struct {
	Account      string `json:"account"`
	InstrumentID string `json:"instrumentId"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	Side         string `json:"side"`
}

type orderResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceOrder forwards one order. Price zero is sent as a market order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) error {
	payload := orderPayload{
		Account:      c.cfg.Account,
		InstrumentID: req.InstrumentID,
		Price:        req.Price.String(),
		Quantity:     req.Quantity,
		Side:         req.Side.String(),
	}
	var out orderResponse
	if err := c.post(ctx, "/orders", payload, &out); err != nil {
		return fmt.Errorf("%w, err: %v", ErrUnreachable, err)
	}
	if out.Code != 0 {
		return errors.Errorf("order rejected by broker, code: %d, message: %s", out.Code, out.Message)
	}
	return nil
}

type balancePayload struct {
	Cash     decimal.Decimal `json:"cash"`
	Holdings []struct {
		InstrumentID string          `json:"instrumentId"`
		Shares       int64           `json:"shares"`
		AvgCost      decimal.Decimal `json:"avgCost"`
	} `json:"holdings"`
}

// FetchBalance returns the broker's authoritative account state.
func (c *Client) FetchBalance(ctx context.Context) (Balance, error) {
	var out balancePayload
	path := fmt.Sprintf("/accounts/%s/balance", c.cfg.Account)
	if err := c.get(ctx, path, &out); err != nil {
		return Balance{}, fmt.Errorf("%w, err: %v", ErrUnreachable, err)
	}

	cash, err := shopspring.NewFromString(out.Cash.String())
	if err != nil {
		return Balance{}, errors.Wrap(err, "parse cash")
	}
	balance := Balance{Cash: cash}
	for _, h := range out.Holdings {
		avgCost, err := shopspring.NewFromString(h.AvgCost.String())
		if err != nil {
			return Balance{}, errors.Wrap(err, "parse avg cost").With("instrument", h.InstrumentID)
		}
		balance.Positions = append(balance.Positions, schema.Position{
			InstrumentID: h.InstrumentID,
			Shares:       h.Shares,
			AvgCost:      avgCost,
		})
	}
	return balance, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "http do")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("unexpected status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
