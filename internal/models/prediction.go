package models

import (
	"errors"
	"fmt"
	"time"
)

// Resolution is the terminal outcome of a market.
type Resolution string

const (
	ResolutionYes Resolution = "YES"
	ResolutionNo  Resolution = "NO"
)

// Horizon is a snapshot checkpoint measured in hours since signal creation.
type Horizon int

// Horizons lists every snapshot checkpoint in ascending order.
var Horizons = []Horizon{1, 6, 24, 48, 168}

func (h Horizon) Duration() time.Duration {
	return time.Duration(h) * time.Hour
}

func (h Horizon) String() string {
	if h%24 == 0 && h >= 168 {
		return fmt.Sprintf("%dd", h/24)
	}
	return fmt.Sprintf("%dh", int(h))
}

// Snapshot is a price observed at a horizon.
type Snapshot struct {
	Horizon Horizon   `json:"horizon"`
	Price   float64   `json:"price"`
	TakenAt time.Time `json:"taken_at"`
}

// CounterpartyStatus tracks an attached large trade.
type CounterpartyStatus string

const (
	CounterpartyHolding CounterpartyStatus = "HOLDING"
	CounterpartyExited  CounterpartyStatus = "EXITED"
)

// Counterparty is an external large trade attached to a prediction.
type Counterparty struct {
	Source  string             `json:"source"`
	TradeID string             `json:"trade_id"`
	Size    float64            `json:"size"`
	Price   float64            `json:"price"`
	Status  CounterpartyStatus `json:"status"`
}

// Prediction is one traded signal tracked from creation to resolution.
type Prediction struct {
	ID            int64          `json:"id"`
	MarketRef     string         `json:"market_ref"`
	Question      string         `json:"question"`
	Signal        Recommendation `json:"signal_type"`
	AIProbability float64        `json:"ai_probability"`
	MarketPrice   float64        `json:"market_price_at_signal"`
	Edge          float64        `json:"edge"`
	Confidence    Confidence     `json:"confidence"`
	Category      string         `json:"category"`
	Reasoning     string         `json:"reasoning,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	MarketEndDate time.Time      `json:"market_end_date"`

	Snapshots map[Horizon]Snapshot `json:"snapshots,omitempty"`

	Resolution       Resolution `json:"final_resolution,omitempty"`
	ResolvedAt       time.Time  `json:"resolved_at"`
	PnL              float64    `json:"hypothetical_pnl"`
	DirectionCorrect bool       `json:"direction_correct"`

	OriginalSignal      Recommendation `json:"original_signal_type,omitempty"`
	OriginalProbability float64        `json:"original_ai_probability,omitempty"`
	OriginalEdge        float64        `json:"original_edge,omitempty"`
	RevisedAt           time.Time      `json:"revised_at"`
	RevisionReason      string         `json:"revision_reason,omitempty"`

	Counterparty *Counterparty `json:"counterparty,omitempty"`
}

// IsResolved reports whether the prediction reached its terminal state.
func (p *Prediction) IsResolved() bool {
	return p.Resolution != ""
}

// IsRevised reports whether the prediction has been revised at least once.
func (p *Prediction) IsRevised() bool {
	return p.OriginalSignal != ""
}

// LatestSnapshot returns the snapshot at the largest filled horizon.
func (p *Prediction) LatestSnapshot() (Snapshot, bool) {
	for i := len(Horizons) - 1; i >= 0; i-- {
		if s, ok := p.Snapshots[Horizons[i]]; ok {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Validate checks the fields required to insert a new prediction.
func (p *Prediction) Validate() error {
	if p.MarketRef == "" {
		return errors.New("market ref must not be empty")
	}
	if !p.Signal.IsDirectional() {
		return fmt.Errorf("signal type must be BUY_YES or BUY_NO, got %q", p.Signal)
	}
	if p.AIProbability < 0.0 || p.AIProbability > 1.0 {
		return errors.New("ai probability must be between 0.0 and 1.0")
	}
	if p.MarketPrice < 0.0 || p.MarketPrice > 1.0 {
		return errors.New("market price must be between 0.0 and 1.0")
	}
	if _, ok := ParseConfidence(string(p.Confidence)); !ok {
		return fmt.Errorf("unknown confidence %q", p.Confidence)
	}
	if p.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	return nil
}
