package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wearsurvey/domain/core"
	"wearsurvey/domain/run"
	"wearsurvey/ports"

	"github.com/jmoiron/sqlx"
)

// resultsJSONB stores the per-parameter results in a JSONB column.
type resultsJSONB []run.ParameterResult

// Value implements driver.Valuer interface
func (r resultsJSONB) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner interface
func (r *resultsJSONB) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*r = resultsJSONB{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported results column type %T", value)
	}
	if len(data) == 0 {
		*r = resultsJSONB{}
		return nil
	}
	var out []run.ParameterResult
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*r = out
	return nil
}

type runRow struct {
	ID           string       `db:"id"`
	Source       string       `db:"source"`
	CohortHash   string       `db:"cohort_hash"`
	PlanHash     string       `db:"plan_hash"`
	SettingsHash string       `db:"settings_hash"`
	CodeVersion  string       `db:"code_version"`
	Fingerprint  string       `db:"fingerprint"`
	Parameters   int          `db:"parameters"`
	Failed       int          `db:"failed"`
	Results      resultsJSONB `db:"results"`
	CreatedAt    time.Time    `db:"created_at"`
}

func (r runRow) toRun() *run.AnalysisRun {
	return &run.AnalysisRun{
		ID:     core.RunID(r.ID),
		Source: r.Source,
		Fingerprint: run.RunFingerprint{
			CohortHash:   core.CohortHash(r.CohortHash),
			PlanHash:     core.Hash(r.PlanHash),
			SettingsHash: core.SettingsHash(r.SettingsHash),
			CodeVersion:  r.CodeVersion,
			Fingerprint:  core.Hash(r.Fingerprint),
		},
		Results:   []run.ParameterResult(r.Results),
		CreatedAt: core.NewTimestamp(r.CreatedAt),
	}
}

// AnalysisRepository implements ports.AnalysisRepository for PostgreSQL
type AnalysisRepository struct {
	db *sqlx.DB
}

var _ ports.AnalysisRepository = (*AnalysisRepository)(nil)

// NewAnalysisRepository creates a new PostgreSQL analysis repository
func NewAnalysisRepository(db *sqlx.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const runColumns = `id, source, cohort_hash, plan_hash, settings_hash, code_version, fingerprint, parameters, failed, results, created_at`

// SaveRun inserts a run, replacing an earlier row with the same id.
func (r *AnalysisRepository) SaveRun(ctx context.Context, ar *run.AnalysisRun) error {
	created := ar.CreatedAt.Time()
	if ar.CreatedAt.IsZero() {
		created = time.Now().UTC()
	}
	row := runRow{
		ID:           ar.ID.String(),
		Source:       ar.Source,
		CohortHash:   ar.Fingerprint.CohortHash.String(),
		PlanHash:     ar.Fingerprint.PlanHash.String(),
		SettingsHash: ar.Fingerprint.SettingsHash.String(),
		CodeVersion:  ar.Fingerprint.CodeVersion,
		Fingerprint:  ar.Fingerprint.Fingerprint.String(),
		Parameters:   len(ar.Results),
		Failed:       ar.FailedCount(),
		Results:      resultsJSONB(ar.Results),
		CreatedAt:    created,
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO analysis_runs (`+runColumns+`)
		VALUES (:id, :source, :cohort_hash, :plan_hash, :settings_hash, :code_version, :fingerprint, :parameters, :failed, :results, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			cohort_hash = EXCLUDED.cohort_hash,
			plan_hash = EXCLUDED.plan_hash,
			settings_hash = EXCLUDED.settings_hash,
			code_version = EXCLUDED.code_version,
			fingerprint = EXCLUDED.fingerprint,
			parameters = EXCLUDED.parameters,
			failed = EXCLUDED.failed,
			results = EXCLUDED.results
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", ar.ID, err)
	}
	return nil
}

// GetRun retrieves a run by id
func (r *AnalysisRepository) GetRun(ctx context.Context, id core.RunID) (*run.AnalysisRun, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toRun(), nil
}

// LatestRun returns the most recently created run
func (r *AnalysisRepository) LatestRun(ctx context.Context) (*run.AnalysisRun, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM analysis_runs ORDER BY created_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRun(), nil
}

// ListRuns returns run summaries, newest first
func (r *AnalysisRepository) ListRuns(ctx context.Context, limit, offset int) ([]run.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []struct {
		ID          string    `db:"id"`
		Source      string    `db:"source"`
		Fingerprint string    `db:"fingerprint"`
		Parameters  int       `db:"parameters"`
		Failed      int       `db:"failed"`
		CreatedAt   time.Time `db:"created_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, source, fingerprint, parameters, failed, created_at
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]run.RunSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, run.RunSummary{
			ID:          core.RunID(row.ID),
			Source:      row.Source,
			Fingerprint: core.Hash(row.Fingerprint),
			Parameters:  row.Parameters,
			Failed:      row.Failed,
			CreatedAt:   core.NewTimestamp(row.CreatedAt),
		})
	}
	return out, nil
}
