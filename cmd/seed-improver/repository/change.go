package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/db"
)

// ChangeRepository handles database operations for recommendations.
// Rows are never deleted; every mutation below is a guarded field update.
type ChangeRepository struct {
	db *db.DB
}

// NewChangeRepository creates a new change repository
func NewChangeRepository(database *db.DB) *ChangeRepository {
	return &ChangeRepository{db: database}
}

const changeColumns = `
	id, run_id, seq, priority, hypothesis, change_summary, risk_assessment, expected_impact,
	category, pair, strategy, risk_category, strategy_affecting, estimated_impact, analysis_confidence,
	config_patch, pattern_key, compatibility_check,
	verdict, verdict_reason, verdict_confidence, risk_score,
	implementation_branch, implementation_commit_sha, implementation_outcome, created_at`

// Create inserts a new change
func (r *ChangeRepository) Create(ctx context.Context, c *models.Change) error {
	if err := validateChange(c); err != nil {
		return err
	}

	var patch any
	if len(c.ConfigPatch) > 0 {
		patch = []byte(c.ConfigPatch)
	}

	query := `
		INSERT INTO seed_improver_changes (
			id, run_id, seq, priority, hypothesis, change_summary, risk_assessment, expected_impact,
			category, pair, strategy, risk_category, strategy_affecting, estimated_impact,
			analysis_confidence, config_patch, pattern_key, compatibility_check, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.RunID,
		c.Seq,
		string(c.Priority),
		c.Hypothesis,
		c.ChangeSummary,
		c.RiskAssessment,
		c.ExpectedImpact,
		string(c.Category),
		c.Pair,
		c.Strategy,
		string(c.RiskCategory),
		c.StrategyAffecting,
		c.EstimatedImpact,
		c.AnalysisConfidence,
		patch,
		c.PatternKey,
		c.CompatibilityCheck,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create change: %w", err)
	}

	return nil
}

// ListByRun retrieves all changes of a run in detection order
func (r *ChangeRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Change, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+changeColumns+`
		FROM seed_improver_changes
		WHERE run_id = $1
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var changes []*models.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return changes, nil
}

// GetByID retrieves a single change
func (r *ChangeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Change, error) {
	row := r.db.QueryRow(ctx, `SELECT `+changeColumns+` FROM seed_improver_changes WHERE id = $1`, id)

	c, err := scanChange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change: %w", err)
	}

	return c, nil
}

// SetPatternKey links a change to its pattern
func (r *ChangeRepository) SetPatternKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.exec(ctx, "set pattern key",
		`UPDATE seed_improver_changes SET pattern_key = $2 WHERE id = $1`, id, key)
}

// AppendCheck appends a line to the compatibility annotation
func (r *ChangeRepository) AppendCheck(ctx context.Context, id uuid.UUID, note string) error {
	return r.exec(ctx, "append compatibility check", `
		UPDATE seed_improver_changes
		SET compatibility_check = CASE
			WHEN compatibility_check = '' THEN $2
			ELSE compatibility_check || E'\n' || $2
		END
		WHERE id = $1
	`, id, note)
}

// SetVerdict records the judge's verdict. A verdict is written at most once.
func (r *ChangeRepository) SetVerdict(ctx context.Context, id uuid.UUID, j models.Judgement) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE seed_improver_changes
		SET verdict = $2, verdict_reason = $3, verdict_confidence = $4, risk_score = $5
		WHERE id = $1 AND verdict IS NULL
	`, id, string(j.Verdict), j.Reason, j.Confidence, string(j.RiskScore))
	if err != nil {
		return fmt.Errorf("failed to set verdict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyJudged
	}
	return nil
}

// SetImplementation records the auto-implementation outcome of an approved change
func (r *ChangeRepository) SetImplementation(ctx context.Context, id uuid.UUID, impl models.Implementation) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE seed_improver_changes
		SET implementation_outcome = $2,
		    implementation_branch = NULLIF($3, ''),
		    implementation_commit_sha = NULLIF($4, ''),
		    compatibility_check = CASE
		        WHEN $5 = '' THEN compatibility_check
		        WHEN compatibility_check = '' THEN $5
		        ELSE compatibility_check || E'\n' || $5
		    END
		WHERE id = $1 AND verdict = 'approve' AND implementation_outcome IS NULL
	`, id, string(impl.Outcome), impl.Branch, impl.Commit, impl.Detail)
	if err != nil {
		return fmt.Errorf("failed to set implementation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrImplementationNotAllowed
	}
	return nil
}

func (r *ChangeRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChange(row pgx.Row) (*models.Change, error) {
	var (
		c            models.Change
		priority     string
		category     string
		riskCategory string
		patch        []byte
		verdict      *string
		riskScore    *string
		outcome      *string
	)

	if err := row.Scan(
		&c.ID,
		&c.RunID,
		&c.Seq,
		&priority,
		&c.Hypothesis,
		&c.ChangeSummary,
		&c.RiskAssessment,
		&c.ExpectedImpact,
		&category,
		&c.Pair,
		&c.Strategy,
		&riskCategory,
		&c.StrategyAffecting,
		&c.EstimatedImpact,
		&c.AnalysisConfidence,
		&patch,
		&c.PatternKey,
		&c.CompatibilityCheck,
		&verdict,
		&c.VerdictReason,
		&c.VerdictConfidence,
		&riskScore,
		&c.ImplementationBranch,
		&c.ImplementationCommit,
		&outcome,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}

	c.Priority = models.Priority(priority)
	c.Category = models.Category(category)
	c.RiskCategory = models.RiskLevel(riskCategory)
	if len(patch) > 0 {
		c.ConfigPatch = patch
	}
	if verdict != nil {
		v := models.Verdict(*verdict)
		c.Verdict = &v
	}
	if riskScore != nil {
		rs := models.RiskLevel(*riskScore)
		c.RiskScore = &rs
	}
	if outcome != nil {
		o := models.ImplementationOutcome(*outcome)
		c.ImplementationOutcome = &o
	}

	return &c, nil
}
