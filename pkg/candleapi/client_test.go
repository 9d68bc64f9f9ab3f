package candleapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/v1/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ClientCode string `json:"clientcode"`
			Password   string `json:"password"`
			TOTP       string `json:"totp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode login: %v", err)
		}
		if r.Header.Get("X-PrivateKey") != "test-key" {
			t.Errorf("missing api key header")
		}
		if req.ClientCode != "C123" || req.Password != "hunter2" || !totp.Validate(req.TOTP, testSecret) {
			json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"jwtToken": "jwt-abc"},
		})
	})

	mux.HandleFunc("/historical/v1/getCandleData", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": [][]any{
				{1640995200, 100.0, 101.5, 99.5, 101.0, 12.5},
				{1640998800, 101.0, 102.0, 100.0, 101.5, 8.25},
			},
		})
	})

	return httptest.NewServer(mux)
}

func testClient(srv *httptest.Server) *Client {
	return New(Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		ClientCode: "C123",
		Password:   "hunter2",
		TOTPSecret: testSecret,
	})
}

func TestLoginAndGetCandles(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testClient(srv)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	candles, err := c.GetCandles(context.Background(), "WETH-USDC",
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 1, 1, 2, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	first := candles[0]
	if !first.TS.Equal(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected ts: %v", first.TS)
	}
	if first.Pair != "WETH-USDC" || first.Open != 100 || first.High != 101.5 || first.Low != 99.5 || first.Close != 101 {
		t.Errorf("unexpected candle: %+v", first)
	}
}

func TestLoginBadSecret(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := testClient(srv)
	c.cfg.TOTPSecret = "NB2W45DFOIZA" // wrong secret, valid base32

	if err := c.Login(context.Background()); err == nil {
		t.Fatal("expected login failure with wrong totp secret")
	}
}

func TestGetCandlesWithoutLogin(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testClient(srv)

	_, err := c.GetCandles(context.Background(), "WETH-USDC", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetCandlesExpiredToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := testClient(srv)
	c.accessToken = "stale"

	_, err := c.GetCandles(context.Background(), "WETH-USDC", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
