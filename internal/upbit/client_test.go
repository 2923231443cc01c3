package upbit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient("access", "secret", server.URL, 5*time.Second)
	return client, server
}

func TestFetchMinuteCandles(t *testing.T) {
	var gotQuery string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/v1/candles/minutes/1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("candle endpoint must not be authenticated")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"market": "KRW-ETH",
			"candle_date_time_utc": "2024-01-15T01:00:00",
			"candle_date_time_kst": "2024-01-15T10:00:00",
			"opening_price": 3000000,
			"high_price": 3010000,
			"low_price": 2990000,
			"trade_price": 3005000,
			"candle_acc_trade_volume": 12.5
		}]`))
	})
	defer server.Close()

	to := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	candles, err := client.FetchMinuteCandles(context.Background(), "KRW-ETH", 200, to)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].OpeningPrice.String() != "3000000" {
		t.Errorf("unexpected open: %s", candles[0].OpeningPrice)
	}

	if !strings.Contains(gotQuery, "count=200") {
		t.Errorf("count missing from query: %s", gotQuery)
	}
	// `to` is ISO-8601 without timezone, UTC
	if !strings.Contains(gotQuery, "to=2024-01-15T01%3A00%3A00") {
		t.Errorf("to cursor malformed: %s", gotQuery)
	}
}

func TestFetchMinuteCandlesCapsCount(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") != "200" {
			t.Errorf("count must cap at 200, got %s", r.URL.Query().Get("count"))
		}
		w.Write([]byte(`[]`))
	})
	defer server.Close()

	if _, err := client.FetchMinuteCandles(context.Background(), "KRW-ETH", 9999, time.Time{}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
}

func TestAccountsCarryAuthToken(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("expected bearer token, got %q", auth)
		}
		// JWT: three dot-separated segments
		if parts := strings.Split(strings.TrimPrefix(auth, "Bearer "), "."); len(parts) != 3 {
			t.Errorf("expected a JWT, got %q", auth)
		}
		w.Write([]byte(`[{"currency": "KRW", "balance": "1000.5", "locked": "0", "avg_buy_price": "0"}]`))
	})
	defer server.Close()

	balances, err := client.FetchAccounts(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(balances) != 1 || balances[0].Currency != "KRW" {
		t.Fatalf("unexpected balances: %+v", balances)
	}
	if balances[0].Balance.String() != "1000.5" {
		t.Errorf("string-encoded decimal must parse, got %s", balances[0].Balance)
	}
}

func TestErrorEnvelopeSurfaced(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"name": "invalid_access_key", "message": "bad key"}}`))
	})
	defer server.Close()

	_, err := client.FetchAccounts(context.Background())
	if err == nil {
		t.Fatal("non-2xx must error")
	}
	if !strings.Contains(err.Error(), "bad key") {
		t.Errorf("upstream message must surface: %v", err)
	}
}

func TestRateLimiterWindows(t *testing.T) {
	limiter := NewRateLimiter(3, 100)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("wait %d failed: %v", i, err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("first requests inside the budget must not block")
	}

	// Fourth request exceeds the per-second window and must wait
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Errorf("fourth request should block until the window slides, waited %s", time.Since(start))
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	limiter := NewRateLimiter(1, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	if err := limiter.Wait(ctx); err == nil {
		t.Error("cancelled context must abort the wait")
	}
}
