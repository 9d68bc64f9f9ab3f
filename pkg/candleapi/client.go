// Package candleapi is a REST client for the historical-candle provider.
// The provider authenticates sessions with a TOTP code derived from a shared
// secret; the client generates a fresh code on every login.
package candleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"ema-traderv1/internal/model"
)

const defaultTimeout = 7 * time.Second

// ErrUnauthorized is returned when the session token is missing or expired.
var ErrUnauthorized = errors.New("candleapi: unauthorized")

// Config holds provider credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	Timeout    time.Duration
}

// Client talks to the candle provider. Login before fetching candles.
type Client struct {
	cfg        Config
	httpClient *http.Client

	accessToken string

	// now is swappable for TOTP tests.
	now func() time.Time
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		JWTToken string `json:"jwtToken"`
	} `json:"data"`
}

// Login opens a session: generates a fresh TOTP code and exchanges the
// credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return fmt.Errorf("candleapi: generate totp: %w", err)
	}

	body, err := c.post(ctx, "/auth/v1/login", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("candleapi: decode login response: %w", err)
	}
	if !resp.Status || resp.Data.JWTToken == "" {
		return fmt.Errorf("candleapi: login failed: %s", resp.Message)
	}

	c.accessToken = resp.Data.JWTToken
	return nil
}

type candleResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    [][]json.Number `json:"data"` // [ts, open, high, low, close, volume]
}

// GetCandles fetches hourly candles for pair in [from, to], chronologically
// ordered. Requires a prior Login.
func (c *Client) GetCandles(ctx context.Context, pair string, from, to time.Time) ([]model.Candle, error) {
	if c.accessToken == "" {
		return nil, ErrUnauthorized
	}

	body, err := c.post(ctx, "/historical/v1/getCandleData", map[string]any{
		"pair":     pair,
		"interval": "1h",
		"fromdate": from.UTC().Format(time.RFC3339),
		"todate":   to.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("candleapi: decode candle response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("candleapi: get candles failed: %s", resp.Message)
	}

	candles := make([]model.Candle, 0, len(resp.Data))
	for i, row := range resp.Data {
		if len(row) != 6 {
			return nil, fmt.Errorf("candleapi: row %d: expected 6 fields, got %d", i, len(row))
		}
		vals := make([]float64, 6)
		for j, n := range row {
			v, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("candleapi: row %d field %d: %w", i, j, err)
			}
			vals[j] = v
		}
		candles = append(candles, model.Candle{
			Pair:   pair,
			TS:     time.Unix(int64(vals[0]), 0).UTC(),
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return candles, nil
}

func (c *Client) post(ctx context.Context, path string, params map[string]any) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("candleapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("candleapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("candleapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("candleapi: read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("candleapi: %s: status %d: %s", path, resp.StatusCode, body)
	}
}
