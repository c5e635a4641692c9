package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const marketsBody = `[
  {"id":"1","question":"Will BTC hit $100k?","slug":"btc-100k","outcomes":"[\"Yes\", \"No\"]","outcomePrices":"[\"0.42\", \"0.58\"]",
   "volume24hr":12000.5,"liquidity":"3400.25","active":true,"closed":false,"endDate":"2026-06-01T00:00:00Z","events":[{"slug":"bitcoin"}]},
  {"id":"2","question":"Broken market","outcomes":"[\"Yes\", \"No\"]","outcomePrices":"","active":true},
  {"id":"3","question":"Reversed outcomes","outcomes":["No","Yes"],"outcomePrices":["0.3","0.7"],"volume24hr":"50","active":true}
]`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{GammaAPIURL: srv.URL, Timeout: 5 * time.Second, RequestsPerSecond: 100, MaxRetryTime: 2 * time.Second})
	c.initialBackoff = 10 * time.Millisecond
	return c
}

func TestFetchMarkets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("active") != "true" || q.Get("closed") != "false" || q.Get("order") != "volume24hr" || q.Get("limit") != "10" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(marketsBody))
	})

	markets, err := c.FetchMarkets(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 valid markets, got %d", len(markets))
	}

	m := markets[0]
	if m.Ref != "1" || m.YesPrice != 0.42 || m.Volume24hr != 12000.5 || m.Liquidity != 3400.25 {
		t.Errorf("unexpected market: %+v", m)
	}
	if m.EventURL != "https://polymarket.com/event/bitcoin" {
		t.Errorf("EventURL = %q", m.EventURL)
	}
	if !m.EndDate.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EndDate = %v", m.EndDate)
	}
	if markets[1].YesPrice != 0.7 || markets[1].Volume24hr != 50 {
		t.Errorf("YES price must follow the Yes outcome: %+v", markets[1])
	}
}

func TestFetchMarket_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "42", "question": "Resolved?", "outcomes": `["Yes","No"]`, "outcomePrices": `["1","0"]`, "closed": true,
		})
	})

	m, err := c.FetchMarket(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchMarket: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if !m.Closed || m.YesPrice != 1 {
		t.Errorf("unexpected market: %+v", m)
	}
}

func TestFetchMarket_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchMarket(context.Background(), "missing")
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestParseYesPrice(t *testing.T) {
	tests := []struct {
		name     string
		outcomes string
		prices   string
		want     float64
		wantErr  bool
	}{
		{"string encoded", `"[\"Yes\", \"No\"]"`, `"[\"0.75\", \"0.25\"]"`, 0.75, false},
		{"array encoded", `["Yes","No"]`, `["0.1","0.9"]`, 0.1, false},
		{"numeric prices", `["Yes","No"]`, `[0.33,0.67]`, 0.33, false},
		{"no yes label uses first", `["Up","Down"]`, `["0.6","0.4"]`, 0.6, false},
		{"empty prices", `["Yes","No"]`, `""`, 0, true},
		{"garbage price", `["Yes","No"]`, `["abc","0.5"]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseYesPrice(PolymarketMarket{Outcomes: json.RawMessage(tt.outcomes), OutcomePrices: json.RawMessage(tt.prices)})
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseYesPrice: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseYesPrice() = %v, want %v", got, tt.want)
			}
		})
	}
}
