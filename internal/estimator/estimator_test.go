package estimator

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

func chatServer(t *testing.T, status int, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if gotPrompt != nil && len(req.Messages) == 2 {
			*gotPrompt = req.Messages[1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testMarket() models.Market {
	return models.Market{
		Ref:        "123",
		Question:   "Will BTC close above $100k?",
		YesPrice:   0.42,
		Volume24hr: 50000,
		Liquidity:  20000,
		EndDate:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestClient_Estimate(t *testing.T) {
	var prompt string
	srv := chatServer(t, http.StatusOK,
		"```json\n{\"probability\": 0.61, \"confidence\": \"high\", \"reasoning\": \"ETF flows\", \"recommendation\": \"BUY_YES\"}\n```",
		&prompt)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model", Timeout: 5 * time.Second})

	est, err := c.Estimate(context.Background(), testMarket(), "crypto", "LESSONS FROM PAST MISTAKES:\n1. Be humble")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Probability != 0.61 || est.Confidence != models.ConfidenceHigh || est.Suggested != models.BuyYes {
		t.Errorf("unexpected estimate: %+v", est)
	}
	if !strings.Contains(prompt, "Will BTC close above $100k?") || !strings.Contains(prompt, "Be humble") {
		t.Errorf("prompt missing question or lessons:\n%s", prompt)
	}
}

func TestClient_EstimateServerError(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "", nil)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m", Timeout: 5 * time.Second})
	if _, err := c.Estimate(context.Background(), testMarket(), "", ""); err == nil {
		t.Error("expected error for server failure")
	}
}

func TestClient_Complete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "analysis text", nil)
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "m"})
	got, err := c.Complete(context.Background(), "system", "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "analysis text" {
		t.Errorf("Complete() = %q", got)
	}
}

func TestParseEstimate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantProb float64
		wantNaN  bool
		wantConf models.Confidence
		wantRec  models.Recommendation
	}{
		{"plain json", `{"probability":0.3,"confidence":"LOW","recommendation":"SKIP"}`, 0.3, false, models.ConfidenceLow, models.Skip},
		{"prose around json", `Sure! {"probability":"0.72","confidence":"Medium"} hope that helps`, 0.72, false, models.ConfidenceMedium, ""},
		{"percentage string", `{"probability":"65%","confidence":"HIGH"}`, 0.65, false, models.ConfidenceHigh, ""},
		{"missing probability", `{"confidence":"HIGH"}`, 0, true, models.ConfidenceHigh, ""},
		{"garbage probability", `{"probability":"likely","confidence":"HIGH"}`, 0, true, models.ConfidenceHigh, ""},
		{"no json", `I cannot answer that`, 0, true, "", ""},
		{"broken json", `{"probability": 0.4,`, 0, true, "", ""},
		{"out of range kept for sanitiser", `{"probability":1.7,"confidence":"VERY HIGH"}`, 1.7, false, "VERY HIGH", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEstimate(tt.content)
			if tt.wantNaN {
				if !math.IsNaN(got.Probability) {
					t.Errorf("probability = %v, want NaN", got.Probability)
				}
			} else if math.Abs(got.Probability-tt.wantProb) > 1e-9 {
				t.Errorf("probability = %v, want %v", got.Probability, tt.wantProb)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %q, want %q", got.Confidence, tt.wantConf)
			}
			if got.Suggested != tt.wantRec {
				t.Errorf("suggested = %q, want %q", got.Suggested, tt.wantRec)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	m := testMarket()
	m.Description = "Resolves YES if the daily close exceeds $100,000."
	got := BuildPrompt(m, "crypto", "", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{
		"QUESTION: Will BTC close above $100k?",
		"CATEGORY: crypto",
		"YES price: $0.420 (market implies 42.0% probability)",
		"RESOLUTION RULES:",
		"End date: 2026-06-01T00:00:00Z",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "LESSONS") {
		t.Error("empty lessons must not render a section")
	}
}
