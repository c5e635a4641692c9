package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

type proposalRow struct {
	ID               string         `db:"id"`
	DiagnosisType    string         `db:"diagnosis_type"`
	Detail           string         `db:"diagnosis_detail"`
	CategoryAffected string         `db:"category_affected"`
	Severity         string         `db:"severity"`
	ProposedFix      string         `db:"proposed_fix"`
	ExpectedImpact   string         `db:"expected_impact"`
	FixType          string         `db:"fix_type"`
	FixParams        string         `db:"fix_params"`
	Status           string         `db:"status"`
	FailureReason    sql.NullString `db:"failure_reason"`
	CreatedAt        int64          `db:"created_at"`
	AppliedAt        sql.NullInt64  `db:"applied_at"`
}

const proposalCols = `id, diagnosis_type, diagnosis_detail, category_affected, severity, proposed_fix,
	expected_impact, fix_type, fix_params, status, failure_reason, created_at, applied_at`

func (r proposalRow) toModel() (models.Proposal, error) {
	p := models.Proposal{
		ID:               r.ID,
		DiagnosisType:    r.DiagnosisType,
		Detail:           r.Detail,
		CategoryAffected: r.CategoryAffected,
		Severity:         models.Severity(r.Severity),
		ProposedFix:      r.ProposedFix,
		ExpectedImpact:   r.ExpectedImpact,
		FixType:          models.FixType(r.FixType),
		Status:           models.ProposalStatus(r.Status),
		FailureReason:    r.FailureReason.String,
		CreatedAt:        time.Unix(0, r.CreatedAt).UTC(),
		AppliedAt:        fromNanos(r.AppliedAt),
	}
	if r.FixParams != "" {
		if err := json.Unmarshal([]byte(r.FixParams), &p.FixParams); err != nil {
			return p, fmt.Errorf("failed to decode fix params for proposal %s: %w", r.ID, err)
		}
	}
	return p, nil
}

// InsertProposals persists proposals with status=proposed, assigning IDs
// where missing. Insertion order breaks ties on created_at.
func (s *Storage) InsertProposals(ctx context.Context, proposals []models.Proposal) error {
	if len(proposals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range proposals {
		p := &proposals[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.Status = models.ProposalProposed
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		params, err := json.Marshal(p.FixParams)
		if err != nil {
			return fmt.Errorf("failed to encode fix params: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposals
				(id, diagnosis_type, diagnosis_detail, category_affected, severity, proposed_fix,
				 expected_impact, fix_type, fix_params, status, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.DiagnosisType, p.Detail, p.CategoryAffected, string(p.Severity), p.ProposedFix,
			p.ExpectedImpact, string(p.FixType), string(params), string(p.Status), p.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert proposal: %w", err)
		}
	}
	return tx.Commit()
}

// PendingProposals returns status=proposed rows in creation order.
func (s *Storage) PendingProposals(ctx context.Context) ([]models.Proposal, error) {
	return s.queryProposals(ctx, `SELECT `+proposalCols+` FROM proposals
		WHERE status = 'proposed' ORDER BY created_at ASC, rowid ASC`)
}

// RecentProposals returns the newest proposals of any status.
func (s *Storage) RecentProposals(ctx context.Context, limit int) ([]models.Proposal, error) {
	return s.queryProposals(ctx, `SELECT `+proposalCols+` FROM proposals
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// MarkProposals moves proposals out of status=proposed. Rows already moved
// are left untouched, so a second call with the same outcomes is a no-op.
// It returns the number of rows changed.
func (s *Storage) MarkProposals(ctx context.Context, outcomes []models.ProposalOutcome, at time.Time) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	changed := 0
	for _, o := range outcomes {
		var appliedAt sql.NullInt64
		if o.Status == models.ProposalApplied {
			appliedAt = nanos(at)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE proposals SET status = ?, applied_at = ?, failure_reason = ?
			WHERE id = ? AND status = 'proposed'`,
			string(o.Status), appliedAt, nullString(o.Reason), o.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to mark proposal %s: %w", o.ID, err)
		}
		n, _ := res.RowsAffected()
		changed += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit proposal statuses: %w", err)
	}
	return changed, nil
}

func (s *Storage) queryProposals(ctx context.Context, query string, args ...any) ([]models.Proposal, error) {
	var rows []proposalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	out := make([]models.Proposal, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			// Undecodable params surface as an apply failure downstream.
			p.FixParams = models.FixParams{}
		}
		out = append(out, p)
	}
	return out, nil
}
