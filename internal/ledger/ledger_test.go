package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
	"github.com/oraclesentinel/oracle-sentinel/internal/storage"
)

type fakeMarkets struct {
	markets map[string]models.Market
	err     error
	calls   int
}

func (f *fakeMarkets) FetchMarket(_ context.Context, ref string) (models.Market, error) {
	f.calls++
	if f.err != nil {
		return models.Market{}, f.err
	}
	m, ok := f.markets[ref]
	if !ok {
		return models.Market{}, fmt.Errorf("market %s: %w", ref, models.ErrDataUnavailable)
	}
	return m, nil
}

type fakeEvaluator struct {
	rec   models.Recommendation
	calls int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, m models.Market, category string) (models.Evaluation, error) {
	f.calls++
	return models.Evaluation{
		Market:   m,
		Category: category,
		Decision: models.Decision{
			Recommendation:      f.rec,
			Edge:                -4,
			AdjustedProbability: 0.38,
			Confidence:          models.ConfidenceMedium,
		},
	}, nil
}

func newTestLedger(t *testing.T, markets *fakeMarkets, ev Evaluator) (*Ledger, *storage.Storage) {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, markets, ev), s
}

func buyEvaluation(ref string, price float64, at time.Time) models.Evaluation {
	return models.Evaluation{
		Market: models.Market{
			Ref: ref, Question: "Will " + ref + " happen?", YesPrice: price, Active: true,
			EndDate: at.Add(10 * 24 * time.Hour),
		},
		Category: "crypto",
		Estimate: models.Estimate{Probability: 0.7, Confidence: models.ConfidenceHigh, Reasoning: "because"},
		Decision: models.Decision{
			Recommendation:      models.BuyYes,
			Edge:                30,
			AdjustedProbability: 0.7,
			Confidence:          models.ConfidenceHigh,
		},
		Evaluated: at,
	}
}

func TestComputeOutcome(t *testing.T) {
	tests := []struct {
		name        string
		signal      models.Recommendation
		price       float64
		res         models.Resolution
		wantPnL     float64
		wantCorrect bool
	}{
		{"buy yes wins at 0.40", models.BuyYes, 0.40, models.ResolutionYes, 150, true},
		{"buy yes loses at 0.40", models.BuyYes, 0.40, models.ResolutionNo, -100, false},
		{"buy no wins at 0.60", models.BuyNo, 0.60, models.ResolutionNo, 150, true},
		{"buy no loses", models.BuyNo, 0.60, models.ResolutionYes, -100, false},
		{"rounded to cents", models.BuyYes, 0.30, models.ResolutionYes, 233.33, true},
		{"no trade carries no position", models.NoTrade, 0.40, models.ResolutionYes, 0, false},
		{"zero entry guarded", models.BuyNo, 1.0, models.ResolutionNo, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pnl, correct := ComputeOutcome(tt.signal, tt.price, tt.res)
			if pnl != tt.wantPnL || correct != tt.wantCorrect {
				t.Errorf("ComputeOutcome() = (%v, %v), want (%v, %v)", pnl, correct, tt.wantPnL, tt.wantCorrect)
			}
		})
	}
}

func TestClassifyResolution(t *testing.T) {
	tests := []struct {
		name   string
		market models.Market
		want   models.Resolution
		wantOK bool
	}{
		{"open market", models.Market{YesPrice: 0.99}, "", false},
		{"closed yes", models.Market{Closed: true, YesPrice: 0.95}, models.ResolutionYes, true},
		{"closed no", models.Market{Closed: true, YesPrice: 0.05}, models.ResolutionNo, true},
		{"closed ambiguous", models.Market{Closed: true, YesPrice: 0.50}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyResolution(tt.market)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ClassifyResolution() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDueHorizons(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := models.Prediction{CreatedAt: created, Snapshots: map[models.Horizon]models.Snapshot{1: {Horizon: 1}}}

	if got := DueHorizons(p, created.Add(30*time.Minute)); len(got) != 0 {
		t.Errorf("expected nothing due before 1h, got %v", got)
	}
	got := DueHorizons(p, created.Add(25*time.Hour))
	if len(got) != 2 || got[0] != 6 || got[1] != 24 {
		t.Errorf("DueHorizons() = %v, want [6 24]", got)
	}
}

func TestLedger_CreateRejectsDuplicate(t *testing.T) {
	l, _ := newTestLedger(t, &fakeMarkets{}, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, now))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 || p.Signal != models.BuyYes || p.MarketPrice != 0.40 {
		t.Errorf("unexpected prediction: %+v", p)
	}
	if _, err := l.Create(ctx, buyEvaluation("m-1", 0.41, now)); !errors.Is(err, models.ErrDuplicateSignal) {
		t.Errorf("expected ErrDuplicateSignal, got %v", err)
	}
	if ok, err := l.HasActive(ctx, "m-1"); err != nil || !ok {
		t.Errorf("HasActive(m-1) = %v, %v", ok, err)
	}
	if ok, err := l.HasActive(ctx, "m-2"); err != nil || ok {
		t.Errorf("HasActive(m-2) = %v, %v", ok, err)
	}
}

func TestLedger_CreateRejectsNonDirectional(t *testing.T) {
	l, _ := newTestLedger(t, &fakeMarkets{}, nil)
	ev := buyEvaluation("m-1", 0.40, time.Now())
	ev.Decision.Recommendation = models.NoTrade
	if _, err := l.Create(context.Background(), ev); err == nil {
		t.Error("expected error for NO_TRADE decision")
	}
}

func TestLedger_UpdateSnapshotsIdempotent(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]models.Market{"m-1": {Ref: "m-1", YesPrice: 0.46}}}
	l, s := newTestLedger(t, markets, nil)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, created))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := created.Add(7 * time.Hour)
	res, err := l.UpdateSnapshots(ctx, now)
	if err != nil {
		t.Fatalf("UpdateSnapshots: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("processed = %d, want 1", res.Processed)
	}

	markets.markets["m-1"] = models.Market{Ref: "m-1", YesPrice: 0.90}
	res, _ = l.UpdateSnapshots(ctx, now)
	if res.Processed != 0 || res.Skipped != 1 {
		t.Errorf("second run should skip: %+v", res)
	}

	got, _ := s.GetPrediction(ctx, p.ID)
	if len(got.Snapshots) != 2 {
		t.Fatalf("expected 1h and 6h snapshots, got %v", got.Snapshots)
	}
	for h, snap := range got.Snapshots {
		if snap.Price != 0.46 {
			t.Errorf("%s snapshot overwritten: %v", h, snap.Price)
		}
	}
}

func TestLedger_UpdateSnapshotsSkipsUnavailable(t *testing.T) {
	l, _ := newTestLedger(t, &fakeMarkets{markets: map[string]models.Market{}}, nil)
	ctx := context.Background()
	created := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := l.Create(ctx, buyEvaluation("gone", 0.40, created)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	res, err := l.UpdateSnapshots(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("UpdateSnapshots: %v", err)
	}
	if res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestLedger_CheckResolutions(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]models.Market{
		"won":       {Ref: "won", Closed: true, YesPrice: 0.99},
		"lost":      {Ref: "lost", Closed: true, YesPrice: 0.01},
		"ambiguous": {Ref: "ambiguous", Closed: true, YesPrice: 0.50},
		"open":      {Ref: "open", YesPrice: 0.98},
	}}
	l, s := newTestLedger(t, markets, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, ref := range []string{"won", "lost", "ambiguous", "open", "missing"} {
		if _, err := l.Create(ctx, buyEvaluation(ref, 0.40, now)); err != nil {
			t.Fatalf("Create %s: %v", ref, err)
		}
	}

	res, resolved, err := l.CheckResolutions(ctx)
	if err != nil {
		t.Fatalf("CheckResolutions: %v", err)
	}
	if res.Processed != 2 || res.Skipped != 3 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved, got %d", len(resolved))
	}
	byRef := map[string]models.Prediction{}
	for _, p := range resolved {
		byRef[p.MarketRef] = p
	}
	if p := byRef["won"]; p.PnL != 150 || !p.DirectionCorrect || p.Resolution != models.ResolutionYes {
		t.Errorf("won: %+v", p)
	}
	if p := byRef["lost"]; p.PnL != -100 || p.DirectionCorrect {
		t.Errorf("lost: %+v", p)
	}

	active, _ := s.ActivePredictions(ctx)
	if len(active) != 3 {
		t.Errorf("expected 3 active predictions, got %d", len(active))
	}

	res, resolved, _ = l.CheckResolutions(ctx)
	if res.Processed != 0 || len(resolved) != 0 {
		t.Errorf("second run must not resolve again: %+v", res)
	}
}

func TestLedger_ReviseKeepsOriginal(t *testing.T) {
	l, s := newTestLedger(t, &fakeMarkets{}, nil)
	ctx := context.Background()
	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i, rec := range []models.Recommendation{models.NoTrade, models.BuyNo} {
		d := models.Decision{Recommendation: rec, AdjustedProbability: 0.3, Edge: -10, Confidence: models.ConfidenceHigh}
		if err := l.Revise(ctx, p.ID, d, fmt.Sprintf("pass %d", i)); err != nil {
			t.Fatalf("Revise: %v", err)
		}
	}
	got, _ := s.GetPrediction(ctx, p.ID)
	if got.OriginalSignal != models.BuyYes || got.OriginalProbability != 0.7 {
		t.Errorf("original not preserved: %+v", got)
	}
	if got.Signal != models.BuyNo || got.RevisionReason != "pass 1" {
		t.Errorf("current not overwritten: %+v", got)
	}
}

func TestLedger_FlippedSignalKeepsSignalTimeEntry(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]models.Market{"m-1": {Ref: "m-1", Closed: true, YesPrice: 0.01}}}
	l, s := newTestLedger(t, markets, nil)
	ctx := context.Background()
	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	d := models.Decision{Recommendation: models.BuyNo, AdjustedProbability: 0.2, Edge: -20, Confidence: models.ConfidenceHigh}
	if err := l.Revise(ctx, p.ID, d, "flipped"); err != nil {
		t.Fatalf("Revise: %v", err)
	}

	if _, _, err := l.CheckResolutions(ctx); err != nil {
		t.Fatalf("CheckResolutions: %v", err)
	}
	got, _ := s.GetPrediction(ctx, p.ID)
	// NO entry is 1 - 0.40 from signal time, whatever the price was at revision.
	if got.Resolution != models.ResolutionNo || got.PnL != 66.67 || !got.DirectionCorrect {
		t.Errorf("unexpected outcome: resolution=%s pnl=%v correct=%v", got.Resolution, got.PnL, got.DirectionCorrect)
	}
}

func TestLedger_HandleCounterpartyExit(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]models.Market{"m-1": {Ref: "m-1", YesPrice: 0.42}}}
	ev := &fakeEvaluator{rec: models.NoTrade}
	l, s := newTestLedger(t, markets, ev)
	ctx := context.Background()
	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No counterparty attached yet.
	rev, err := l.HandleCounterpartyExit(ctx, p.ID)
	if err != nil || rev.Revised || ev.calls != 0 {
		t.Fatalf("exit without counterparty: rev=%+v err=%v calls=%d", rev, err, ev.calls)
	}

	if err := l.AttachCounterparty(ctx, p.ID, models.Counterparty{Source: "whale", TradeID: "t1", Size: 10000, Price: 0.39}); err != nil {
		t.Fatalf("AttachCounterparty: %v", err)
	}
	rev, err = l.HandleCounterpartyExit(ctx, p.ID)
	if err != nil {
		t.Fatalf("HandleCounterpartyExit: %v", err)
	}
	if !rev.Revised || rev.Before != models.BuyYes || rev.Decision.Recommendation != models.NoTrade {
		t.Errorf("unexpected revision: %+v", rev)
	}

	got, _ := s.GetPrediction(ctx, p.ID)
	if got.Counterparty.Status != models.CounterpartyExited || got.Signal != models.NoTrade || !got.IsRevised() {
		t.Errorf("unexpected prediction: %+v", got)
	}

	// Repeated event is ignored.
	rev, err = l.HandleCounterpartyExit(ctx, p.ID)
	if err != nil || rev.Revised || ev.calls != 1 {
		t.Errorf("repeated exit: rev=%+v err=%v calls=%d", rev, err, ev.calls)
	}
}

func TestLedger_ReevaluateUnchanged(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]models.Market{"m-1": {Ref: "m-1", YesPrice: 0.40}}}
	l, s := newTestLedger(t, markets, &fakeEvaluator{rec: models.BuyYes})
	ctx := context.Background()
	p, err := l.Create(ctx, buyEvaluation("m-1", 0.40, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rev, err := l.Reevaluate(ctx, *p, "pre-close")
	if err != nil {
		t.Fatalf("Reevaluate: %v", err)
	}
	if rev.Revised {
		t.Error("same recommendation must not revise")
	}
	got, _ := s.GetPrediction(ctx, p.ID)
	if got.IsRevised() {
		t.Error("prediction should not be marked revised")
	}
}
