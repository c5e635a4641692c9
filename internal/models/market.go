// Package models defines the core domain entities: markets, estimates, predictions,
// proposals and the rollups derived from them.
package models

import (
	"errors"
	"time"
)

// Market is a single yes/no prediction market as reported by the market data provider.
type Market struct {
	Ref         string    `json:"ref"`
	Slug        string    `json:"slug,omitempty"`
	Question    string    `json:"question"`
	Description string    `json:"description,omitempty"`
	EventURL    string    `json:"event_url,omitempty"`
	YesPrice    float64   `json:"yes_price"`
	Volume24hr  float64   `json:"volume_24hr"`
	Liquidity   float64   `json:"liquidity"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	EndDate     time.Time `json:"end_date"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.Ref == "" {
		return errors.New("market ref must not be empty")
	}
	if m.Question == "" {
		return errors.New("market question must not be empty")
	}
	if m.YesPrice < 0.0 || m.YesPrice > 1.0 {
		return errors.New("yes price must be between 0.0 and 1.0")
	}
	if m.Volume24hr < 0 {
		return errors.New("volume 24hr must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}

// Text is the free text used for classification and prompting.
func (m *Market) Text() string {
	if m.Description == "" {
		return m.Question
	}
	return m.Question + " " + m.Description
}

// ClosesWithin reports whether the market has a known end date inside [now, now+d].
func (m *Market) ClosesWithin(now time.Time, d time.Duration) bool {
	if m.EndDate.IsZero() {
		return false
	}
	return !m.EndDate.Before(now) && m.EndDate.Sub(now) <= d
}
