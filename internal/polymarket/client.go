package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const eventURLPrefix = "https://polymarket.com/event/"

// Config holds client settings.
type Config struct {
	GammaAPIURL       string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetryTime      time.Duration
}

// Client provides access to the Polymarket Gamma API.
type Client struct {
	gammaAPIURL    string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetryTime   time.Duration
	initialBackoff time.Duration
	now            func() time.Time
}

// PolymarketMarket represents a market from the Gamma API.
type PolymarketMarket struct {
	ID            string          `json:"id"`
	ConditionID   string          `json:"conditionId"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	Description   string          `json:"description"`
	Outcomes      json.RawMessage `json:"outcomes"`      // "[\"Yes\", \"No\"]" or ["Yes","No"]
	OutcomePrices json.RawMessage `json:"outcomePrices"` // "[\"0.75\", \"0.25\"]" or ["0.75","0.25"]
	Volume24hr    number          `json:"volume24hr"`
	Liquidity     number          `json:"liquidity"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	EndDate       string          `json:"endDate"`
	Events        []struct {
		Slug string `json:"slug"`
	} `json:"events"`
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NewClient creates a new Polymarket client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	return &Client{
		gammaAPIURL:    strings.TrimRight(cfg.GammaAPIURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxRetryTime:   cfg.MaxRetryTime,
		initialBackoff: 500 * time.Millisecond,
		now:            time.Now,
	}
}

// FetchMarkets retrieves the top active markets by 24h volume. Markets
// without a usable YES price are skipped.
func (c *Client) FetchMarkets(ctx context.Context, limit int) ([]models.Market, error) {
	u, err := url.Parse(c.gammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	var raw []PolymarketMarket
	if err := c.getJSON(ctx, u.String(), &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to fetch markets: %v", models.ErrDataUnavailable, err)
	}

	markets := make([]models.Market, 0, len(raw))
	for _, pm := range raw {
		m, err := c.toMarket(pm)
		if err != nil {
			logger.Debug("Skipping market %s: %v", pm.ID, err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// FetchMarket retrieves a single market by its provider id.
func (c *Client) FetchMarket(ctx context.Context, ref string) (models.Market, error) {
	var pm PolymarketMarket
	if err := c.getJSON(ctx, c.gammaAPIURL+"/markets/"+url.PathEscape(ref), &pm); err != nil {
		return models.Market{}, fmt.Errorf("%w: failed to fetch market %s: %v", models.ErrDataUnavailable, ref, err)
	}
	m, err := c.toMarket(pm)
	if err != nil {
		return models.Market{}, fmt.Errorf("%w: market %s: %v", models.ErrDataUnavailable, ref, err)
	}
	return m, nil
}

func (c *Client) toMarket(pm PolymarketMarket) (models.Market, error) {
	yes, err := parseYesPrice(pm)
	if err != nil {
		return models.Market{}, err
	}
	m := models.Market{
		Ref:         pm.ID,
		Slug:        pm.Slug,
		Question:    pm.Question,
		Description: pm.Description,
		YesPrice:    yes,
		Volume24hr:  float64(pm.Volume24hr),
		Liquidity:   float64(pm.Liquidity),
		Active:      pm.Active,
		Closed:      pm.Closed,
		FetchedAt:   c.now().UTC(),
	}
	if pm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, pm.EndDate); err == nil {
			m.EndDate = t.UTC()
		}
	}
	slug := pm.Slug
	if len(pm.Events) > 0 && pm.Events[0].Slug != "" {
		slug = pm.Events[0].Slug
	}
	if slug != "" {
		m.EventURL = eventURLPrefix + slug
	}
	if err := m.Validate(); err != nil {
		return models.Market{}, err
	}
	return m, nil
}

// parseYesPrice extracts the YES price, falling back to the first outcome
// when no outcome is labelled Yes.
func parseYesPrice(market PolymarketMarket) (float64, error) {
	outcomes, err := stringList(market.Outcomes)
	if err != nil {
		return 0, fmt.Errorf("failed to parse outcomes: %w", err)
	}
	prices, err := stringList(market.OutcomePrices)
	if err != nil {
		return 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	if len(prices) == 0 {
		return 0, errors.New("no outcome prices")
	}

	idx := 0
	for i, outcome := range outcomes {
		if strings.EqualFold(outcome, "Yes") {
			idx = i
			break
		}
	}
	if idx >= len(prices) {
		return 0, errors.New("outcome prices shorter than outcomes")
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(prices[idx]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid yes price %q: %w", prices[idx], err)
	}
	return price, nil
}

// stringList decodes either a JSON array or a string holding a JSON array.
func stringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		if inner == "" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = fmt.Sprint(v)
	}
	return out, nil
}

// getJSON performs a rate-limited GET with exponential backoff. Server
// errors and transport failures are retried; client errors are not.
func (c *Client) getJSON(ctx context.Context, urlStr string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxElapsedTime = c.maxRetryTime
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// number accepts a JSON number or a numeric string. Unparsable values decode as zero.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*n = number(v)
	return nil
}
