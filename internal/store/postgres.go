package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dshills/compliancebot/internal/compliance"
)

// PostgresStore persists runs in the analyses and findings tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and creates the schema when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		repo_full_name TEXT NOT NULL,
		pr_number INTEGER NOT NULL,
		head_sha TEXT,
		status TEXT NOT NULL,
		error TEXT,
		analyzed_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		total_files INTEGER NOT NULL,
		total_findings INTEGER NOT NULL,
		critical_count INTEGER NOT NULL,
		high_count INTEGER NOT NULL,
		medium_count INTEGER NOT NULL,
		low_count INTEGER NOT NULL,
		info_count INTEGER NOT NULL,
		stages JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS analyses_repo_idx ON analyses (repo_full_name, analyzed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id TEXT NOT NULL,
		analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		file TEXT NOT NULL,
		line INTEGER,
		column_offset INTEGER,
		code TEXT,
		fix_suggestion TEXT,
		rule_id TEXT NOT NULL,
		rule_name TEXT NOT NULL,
		source TEXT,
		PRIMARY KEY (analysis_id, position)
	)`,
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) Save(ctx context.Context, run *compliance.AnalysisRun) error {
	if err := checkSavable(run); err != nil {
		return err
	}
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encoding stages: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	s := run.Stats
	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (
			id, repo_full_name, pr_number, head_sha, status, error, analyzed_at, duration_ms,
			total_files, total_findings, critical_count, high_count, medium_count, low_count, info_count, stages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.ID, run.Target.FullName(), run.Target.Number, nullString(run.Target.HeadSHA),
		string(run.Status), nullString(run.Error), run.StartedAt.UTC(), run.DurationMs,
		s.TotalFiles, s.TotalFindings, s.Critical, s.High, s.Medium, s.Low, s.Info, stages)
	if err != nil {
		return fmt.Errorf("inserting analysis %s: %w", run.ID, err)
	}

	if len(run.Findings) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings (
				id, analysis_id, position, type, severity, message, file, line, column_offset,
				code, fix_suggestion, rule_id, rule_name, source
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
		if err != nil {
			return fmt.Errorf("preparing finding insert: %w", err)
		}
		defer stmt.Close()

		for i, f := range run.Findings {
			var line sql.NullInt64
			if f.HasLine() {
				line = sql.NullInt64{Int64: int64(f.Line), Valid: true}
			}
			var col sql.NullInt64
			if f.Column != nil {
				col = sql.NullInt64{Int64: int64(*f.Column), Valid: true}
			}
			_, err := stmt.ExecContext(ctx,
				f.ID, run.ID, i, string(f.Type), f.Severity.String(), f.Message, f.File, line, col,
				nullString(f.Code), nullString(f.FixSuggestion), f.RuleID, f.RuleName, nullString(f.Source))
			if err != nil {
				return fmt.Errorf("inserting finding %s: %w", f.ID, err)
			}
		}
	}
	return tx.Commit()
}

const selectAnalyses = `
	SELECT id, repo_full_name, pr_number, head_sha, status, error, analyzed_at, duration_ms,
		total_files, total_findings, critical_count, high_count, medium_count, low_count, info_count, stages
	FROM analyses`

func (p *PostgresStore) GetRun(ctx context.Context, id string) (*compliance.AnalysisRun, error) {
	row := p.db.QueryRowContext(ctx, selectAnalyses+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching analysis %s: %w", id, err)
	}
	if err := p.loadFindings(ctx, []*compliance.AnalysisRun{run}); err != nil {
		return nil, err
	}
	return run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context, repo string, limit int) ([]*compliance.AnalysisRun, error) {
	limit = normalizeLimit(limit)
	var (
		rows *sql.Rows
		err  error
	)
	if repo == "" {
		rows, err = p.db.QueryContext(ctx, selectAnalyses+` ORDER BY analyzed_at DESC LIMIT $1`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, selectAnalyses+` WHERE repo_full_name = $1 ORDER BY analyzed_at DESC LIMIT $2`, repo, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	var runs []*compliance.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading analysis: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	if err := p.loadFindings(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// loadFindings fetches the findings of every run in one query.
func (p *PostgresStore) loadFindings(ctx context.Context, runs []*compliance.AnalysisRun) error {
	if len(runs) == 0 {
		return nil
	}
	byID := make(map[string]*compliance.AnalysisRun, len(runs))
	ids := make([]string, len(runs))
	for i, r := range runs {
		byID[r.ID] = r
		ids[i] = r.ID
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT analysis_id, id, type, severity, message, file, line, column_offset,
			code, fix_suggestion, rule_id, rule_name, source
		FROM findings WHERE analysis_id = ANY($1) ORDER BY analysis_id, position`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("fetching findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			analysisID, typ, sev string
			line, col            sql.NullInt64
			code, fix, source    sql.NullString
			f                    compliance.Finding
		)
		if err := rows.Scan(&analysisID, &f.ID, &typ, &sev, &f.Message, &f.File, &line, &col,
			&code, &fix, &f.RuleID, &f.RuleName, &source); err != nil {
			return fmt.Errorf("reading finding: %w", err)
		}
		f.Type = compliance.Category(typ)
		if f.Severity, err = compliance.ParseSeverity(sev); err != nil {
			return fmt.Errorf("finding %s: %w", f.ID, err)
		}
		f.Line = int(line.Int64)
		if col.Valid {
			f.Column = compliance.ColumnOf(int(col.Int64))
		}
		f.Code, f.FixSuggestion, f.Source = code.String, fix.String, source.String
		if run, ok := byID[analysisID]; ok {
			run.Findings = append(run.Findings, f)
		}
	}
	return rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context) (Summary, error) {
	var (
		s   Summary
		avg sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_findings), 0),
			COALESCE(SUM(critical_count), 0),
			COALESCE(SUM(high_count), 0),
			COALESCE(SUM(medium_count), 0),
			COALESCE(SUM(low_count), 0),
			COALESCE(SUM(info_count), 0),
			AVG(duration_ms)
		FROM analyses WHERE status = 'completed'`).
		Scan(&s.TotalAnalyses, &s.TotalFindings, &s.Critical, &s.High, &s.Medium, &s.Low, &s.Info, &avg)
	if err != nil {
		return Summary{}, fmt.Errorf("computing stats: %w", err)
	}
	s.AvgDurationMs = avg.Float64
	return s, nil
}

func (p *PostgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*compliance.AnalysisRun, error) {
	var (
		run        compliance.AnalysisRun
		fullName   string
		status     string
		headSHA    sql.NullString
		errText    sql.NullString
		analyzedAt time.Time
		stages     []byte
	)
	s := &run.Stats
	err := row.Scan(&run.ID, &fullName, &run.Target.Number, &headSHA, &status, &errText, &analyzedAt,
		&run.DurationMs, &s.TotalFiles, &s.TotalFindings, &s.Critical, &s.High, &s.Medium, &s.Low, &s.Info, &stages)
	if err != nil {
		return nil, err
	}
	if owner, repo, ok := strings.Cut(fullName, "/"); ok {
		run.Target.Owner, run.Target.Repo = owner, repo
	} else {
		run.Target.Repo = fullName
	}
	run.Target.HeadSHA = headSHA.String
	run.Status = compliance.RunStatus(status)
	run.Error = errText.String
	run.StartedAt = analyzedAt
	run.Findings = []compliance.Finding{}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &run.Stages); err != nil {
			return nil, fmt.Errorf("decoding stages: %w", err)
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
