package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const predictionCols = `id, market_ref, question, signal_type, ai_probability, market_price_at_signal,
	edge_at_signal, confidence, category, reasoning, created_at, market_end_date,
	final_resolution, resolved_at, hypothetical_pnl, direction_correct,
	original_signal_type, original_ai_probability, original_edge, revised_at, revision_reason,
	signal_source, counterparty_id, counterparty_size, counterparty_price, counterparty_status`

type predictionRow struct {
	ID                  int64           `db:"id"`
	MarketRef           string          `db:"market_ref"`
	Question            string          `db:"question"`
	SignalType          string          `db:"signal_type"`
	AIProbability       float64         `db:"ai_probability"`
	MarketPrice         float64         `db:"market_price_at_signal"`
	Edge                float64         `db:"edge_at_signal"`
	Confidence          string          `db:"confidence"`
	Category            string          `db:"category"`
	Reasoning           string          `db:"reasoning"`
	CreatedAt           int64           `db:"created_at"`
	MarketEndDate       sql.NullInt64   `db:"market_end_date"`
	FinalResolution     sql.NullString  `db:"final_resolution"`
	ResolvedAt          sql.NullInt64   `db:"resolved_at"`
	PnL                 sql.NullFloat64 `db:"hypothetical_pnl"`
	DirectionCorrect    sql.NullBool    `db:"direction_correct"`
	OriginalSignal      sql.NullString  `db:"original_signal_type"`
	OriginalProbability sql.NullFloat64 `db:"original_ai_probability"`
	OriginalEdge        sql.NullFloat64 `db:"original_edge"`
	RevisedAt           sql.NullInt64   `db:"revised_at"`
	RevisionReason      sql.NullString  `db:"revision_reason"`
	SignalSource        sql.NullString  `db:"signal_source"`
	CounterpartyID      sql.NullString  `db:"counterparty_id"`
	CounterpartySize    sql.NullFloat64 `db:"counterparty_size"`
	CounterpartyPrice   sql.NullFloat64 `db:"counterparty_price"`
	CounterpartyStatus  sql.NullString  `db:"counterparty_status"`
}

func (r predictionRow) toModel() models.Prediction {
	p := models.Prediction{
		ID:                  r.ID,
		MarketRef:           r.MarketRef,
		Question:            r.Question,
		Signal:              models.Recommendation(r.SignalType),
		AIProbability:       r.AIProbability,
		MarketPrice:         r.MarketPrice,
		Edge:                r.Edge,
		Confidence:          models.Confidence(r.Confidence),
		Category:            r.Category,
		Reasoning:           r.Reasoning,
		CreatedAt:           time.Unix(0, r.CreatedAt).UTC(),
		MarketEndDate:       fromNanos(r.MarketEndDate),
		Resolution:          models.Resolution(r.FinalResolution.String),
		ResolvedAt:          fromNanos(r.ResolvedAt),
		PnL:                 r.PnL.Float64,
		DirectionCorrect:    r.DirectionCorrect.Bool,
		OriginalSignal:      models.Recommendation(r.OriginalSignal.String),
		OriginalProbability: r.OriginalProbability.Float64,
		OriginalEdge:        r.OriginalEdge.Float64,
		RevisedAt:           fromNanos(r.RevisedAt),
		RevisionReason:      r.RevisionReason.String,
		Snapshots:           map[models.Horizon]models.Snapshot{},
	}
	if r.CounterpartyStatus.Valid {
		p.Counterparty = &models.Counterparty{
			Source:  r.SignalSource.String,
			TradeID: r.CounterpartyID.String,
			Size:    r.CounterpartySize.Float64,
			Price:   r.CounterpartyPrice.Float64,
			Status:  models.CounterpartyStatus(r.CounterpartyStatus.String),
		}
	}
	return p
}

// CreatePrediction inserts a new ACTIVE prediction and sets p.ID. It returns
// an error wrapping models.ErrDuplicateSignal when an unresolved prediction
// already exists for the market, including when another process inserted it
// first.
func (s *Storage) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}
	var source sql.NullString
	if p.Counterparty != nil {
		source = nullString(p.Counterparty.Source)
	}
	// The partial unique index on market_ref is the only dedup check. The
	// insert must be the first statement so a writer waiting on another
	// process re-reads the table instead of failing with SQLITE_BUSY.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions
			(market_ref, question, signal_type, ai_probability, market_price_at_signal,
			 edge_at_signal, confidence, category, reasoning, created_at, market_end_date, signal_source)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.MarketRef, p.Question, string(p.Signal), p.AIProbability, p.MarketPrice,
		p.Edge, string(p.Confidence), p.Category, p.Reasoning, p.CreatedAt.UnixNano(),
		nanos(p.MarketEndDate), source,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: market %s", models.ErrDuplicateSignal, p.MarketRef)
	}
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read prediction id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPrediction loads one prediction with its snapshots.
func (s *Storage) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	var row predictionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+predictionCols+` FROM predictions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	preds := []models.Prediction{row.toModel()}
	if err := s.attachSnapshots(ctx, preds); err != nil {
		return nil, err
	}
	return &preds[0], nil
}

// ActivePredictionByMarket returns the unresolved prediction for a market.
func (s *Storage) ActivePredictionByMarket(ctx context.Context, marketRef string) (*models.Prediction, error) {
	var row predictionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+predictionCols+` FROM predictions WHERE market_ref = ? AND final_resolution IS NULL`, marketRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active prediction for %s: %w", marketRef, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	preds := []models.Prediction{row.toModel()}
	if err := s.attachSnapshots(ctx, preds); err != nil {
		return nil, err
	}
	return &preds[0], nil
}

// ActivePredictions returns every unresolved prediction, oldest first.
func (s *Storage) ActivePredictions(ctx context.Context) ([]models.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE final_resolution IS NULL ORDER BY created_at, id`)
}

// AllPredictions returns every prediction ordered by id.
func (s *Storage) AllPredictions(ctx context.Context) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, `SELECT `+predictionCols+` FROM predictions ORDER BY id`)
}

// UnrevisedClosingBetween returns active, never-revised predictions whose
// market ends within [from, to].
func (s *Storage) UnrevisedClosingBetween(ctx context.Context, from, to time.Time) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, `
		SELECT `+predictionCols+` FROM predictions
		WHERE final_resolution IS NULL
		  AND revised_at IS NULL
		  AND market_end_date IS NOT NULL
		  AND market_end_date BETWEEN ? AND ?
		ORDER BY market_end_date, id`, from.UnixNano(), to.UnixNano())
}

// WrongWithoutAnalysis returns resolved directional calls that were wrong and
// have no error analysis yet.
func (s *Storage) WrongWithoutAnalysis(ctx context.Context, limit int) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, `
		SELECT p.* FROM predictions p
		LEFT JOIN error_analyses ea ON ea.prediction_id = p.id
		WHERE p.final_resolution IS NOT NULL
		  AND p.direction_correct = 0
		  AND p.signal_type IN ('BUY_YES', 'BUY_NO')
		  AND ea.id IS NULL
		ORDER BY p.resolved_at, p.id
		LIMIT ?`, limit)
}

// UncategorizedPredictions returns predictions with an empty category.
func (s *Storage) UncategorizedPredictions(ctx context.Context) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, `SELECT `+predictionCols+` FROM predictions WHERE category = '' ORDER BY id`)
}

// SetCategory updates a prediction's category label.
func (s *Storage) SetCategory(ctx context.Context, id int64, category string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE predictions SET category = ? WHERE id = ?`, category, id); err != nil {
		return fmt.Errorf("failed to set category: %w", err)
	}
	return nil
}

// InsertSnapshot fills the horizon slot for a prediction if it is still
// empty. It reports whether a row was written.
func (s *Storage) InsertSnapshot(ctx context.Context, predictionID int64, h models.Horizon, price float64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO prediction_snapshots (prediction_id, horizon_hours, price, taken_at)
		VALUES (?,?,?,?)`, predictionID, int(h), price, at.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResolvePrediction records the terminal outcome. It reports false when the
// prediction was already resolved.
func (s *Storage) ResolvePrediction(ctx context.Context, id int64, res models.Resolution, pnl float64, correct bool, at time.Time) (bool, error) {
	r, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET final_resolution = ?, resolved_at = ?, hypothetical_pnl = ?, direction_correct = ?
		WHERE id = ? AND final_resolution IS NULL`,
		string(res), at.UnixNano(), pnl, boolToInt(correct), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve prediction: %w", err)
	}
	n, _ := r.RowsAffected()
	return n > 0, nil
}

// Revision is the new current state written by RevisePrediction.
type Revision struct {
	Signal      models.Recommendation
	Probability float64
	Edge        float64
	Confidence  models.Confidence
	Reason      string
	At          time.Time
}

// RevisePrediction overwrites the current signal of an ACTIVE prediction.
// The first revision archives the original signal, probability and edge;
// later revisions leave the archive untouched.
func (s *Storage) RevisePrediction(ctx context.Context, id int64, rev Revision) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET
			original_signal_type    = COALESCE(original_signal_type, signal_type),
			original_ai_probability = COALESCE(original_ai_probability, ai_probability),
			original_edge           = COALESCE(original_edge, edge_at_signal),
			signal_type = ?, ai_probability = ?, edge_at_signal = ?, confidence = ?,
			revised_at = ?, revision_reason = ?
		WHERE id = ? AND final_resolution IS NULL`,
		string(rev.Signal), rev.Probability, rev.Edge, string(rev.Confidence),
		rev.At.UnixNano(), rev.Reason, id)
	if err != nil {
		return fmt.Errorf("failed to revise prediction: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.inactiveError(ctx, id)
}

// AttachCounterparty links an external large trade to an ACTIVE prediction.
func (s *Storage) AttachCounterparty(ctx context.Context, id int64, cp models.Counterparty) error {
	if cp.Status == "" {
		cp.Status = models.CounterpartyHolding
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET signal_source = ?, counterparty_id = ?, counterparty_size = ?,
			counterparty_price = ?, counterparty_status = ?
		WHERE id = ? AND final_resolution IS NULL`,
		nullString(cp.Source), nullString(cp.TradeID), cp.Size, cp.Price, string(cp.Status), id)
	if err != nil {
		return fmt.Errorf("failed to attach counterparty: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return s.inactiveError(ctx, id)
}

// MarkCounterpartyExited flips an attached HOLDING counter-party to EXITED.
// It reports whether the status changed.
func (s *Storage) MarkCounterpartyExited(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions SET counterparty_status = ?
		WHERE id = ? AND counterparty_status = ?`,
		string(models.CounterpartyExited), id, string(models.CounterpartyHolding))
	if err != nil {
		return false, fmt.Errorf("failed to mark counterparty exited: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Storage) inactiveError(ctx context.Context, id int64) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM predictions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to look up prediction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("prediction %d: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("prediction %d: %w", id, models.ErrNotActive)
}

func (s *Storage) queryPredictions(ctx context.Context, query string, args ...any) ([]models.Prediction, error) {
	var rows []predictionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	preds := make([]models.Prediction, 0, len(rows))
	for _, r := range rows {
		preds = append(preds, r.toModel())
	}
	if err := s.attachSnapshots(ctx, preds); err != nil {
		return nil, err
	}
	return preds, nil
}

type snapshotRow struct {
	PredictionID int64   `db:"prediction_id"`
	Horizon      int     `db:"horizon_hours"`
	Price        float64 `db:"price"`
	TakenAt      int64   `db:"taken_at"`
}

func (s *Storage) attachSnapshots(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	ids := make([]int64, len(preds))
	index := make(map[int64]int, len(preds))
	for i, p := range preds {
		ids[i] = p.ID
		index[p.ID] = i
	}
	query, args, err := sqlx.In(`
		SELECT prediction_id, horizon_hours, price, taken_at
		FROM prediction_snapshots WHERE prediction_id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build snapshot query: %w", err)
	}
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to query snapshots: %w", err)
	}
	for _, r := range rows {
		p := &preds[index[r.PredictionID]]
		h := models.Horizon(r.Horizon)
		p.Snapshots[h] = models.Snapshot{Horizon: h, Price: r.Price, TakenAt: time.Unix(0, r.TakenAt).UTC()}
	}
	return nil
}
