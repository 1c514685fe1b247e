package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/types"
)

// Store manages the PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "New", "parse connection string")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "Store", "New", "connect to database")
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	var cols strings.Builder
	for _, f := range frame.Fields {
		fmt.Fprintf(&cols, "\t\t\t%s %s,\n", f.Column, f.SQLType())
	}

	query := `
		CREATE TABLE IF NOT EXISTS analysis_run (
			id TEXT PRIMARY KEY,
			result_path TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS frame_feature (
			id BIGSERIAL PRIMARY KEY,
			analysis_id TEXT NOT NULL REFERENCES analysis_run(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			frame_time TIMESTAMPTZ,
			confidences TEXT,
` + cols.String() + `			raw_file_name TEXT,
			UNIQUE (analysis_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS idx_frame_feature_analysis_id ON frame_feature (analysis_id);
		CREATE TABLE IF NOT EXISTS app_config (
			id INT PRIMARY KEY,
			x INT NOT NULL,
			y INT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			lr DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	` + dump.FrameDataSchema()
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

var insertFrameSQL = func() string {
	cols := append([]string{"analysis_id", "frame_index", "created_at", "frame_time", "confidences", "raw_file_name"},
		frame.Columns()...)
	params := make([]string, len(cols))
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO frame_feature (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(params, ", "))
}()

func frameArgs(r *frame.Record) []any {
	args := make([]any, 0, 6+len(frame.Fields))
	var created, confidences, rawName any
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt
	}
	if r.Confidences != "" {
		confidences = r.Confidences
	}
	if r.RawPath != "" {
		rawName = filepath.Base(r.RawPath)
	}
	args = append(args, r.AnalysisID, r.FrameIndex, created, r.Timestamp, confidences, rawName)
	for _, f := range frame.Fields {
		args = append(args, f.Value(r))
	}
	return args
}

// InsertFrames stores a whole batch in one transaction. A re-run of the same analysis
// replaces its previous frames. Any failure rolls the batch back.
func (s *Store) InsertFrames(ctx context.Context, analysis types.Analysis, records []frame.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Store", "InsertFrames", "begin transaction")
	}
	defer tx.Rollback(ctx)

	// Clean up old data to keep re-runs idempotent.
	if _, err := tx.Exec(ctx, "DELETE FROM frame_feature WHERE analysis_id = $1", analysis.ID); err != nil {
		return errors.Wrap(err, "Store", "InsertFrames", "clear previous frames")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO analysis_run (id, result_path, message, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET result_path = EXCLUDED.result_path, message = EXCLUDED.message, created_at = NOW()
	`, analysis.ID, analysis.ResultPath, analysis.Message); err != nil {
		return errors.Wrap(err, "Store", "InsertFrames", "register analysis")
	}

	batch := &pgx.Batch{}
	for i := range records {
		batch.Queue(insertFrameSQL, frameArgs(&records[i])...)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrap(err, "Store", "InsertFrames", fmt.Sprintf("insert frame %d", records[i].FrameIndex))
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "Store", "InsertFrames", "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.WrapTransient(err, "Store", "InsertFrames", "commit")
	}
	return nil
}

// ListAnalyses returns every recorded analysis, newest first, with its frame count.
func (s *Store) ListAnalyses(ctx context.Context) ([]types.Analysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.result_path, a.message, a.created_at, COUNT(f.id)
		FROM analysis_run a
		LEFT JOIN frame_feature f ON f.analysis_id = a.id
		GROUP BY a.id
		ORDER BY a.created_at DESC, a.id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "ListAnalyses", "query")
	}
	defer rows.Close()

	var out []types.Analysis
	for rows.Next() {
		var a types.Analysis
		if err := rows.Scan(&a.ID, &a.ResultPath, &a.Message, &a.CreatedAt, &a.Frames); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnalysis removes an analysis and its frames.
func (s *Store) DeleteAnalysis(ctx context.Context, analysisID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM analysis_run WHERE id = $1", analysisID)
	if err != nil {
		return false, errors.Wrap(err, "Store", "DeleteAnalysis", "delete")
	}
	return tag.RowsAffected() > 0, nil
}

// LoadRegion reads the stored region of interest. found is false when none was saved.
func (s *Store) LoadRegion(ctx context.Context) (region types.Region, found bool, err error) {
	err = s.pool.QueryRow(ctx, "SELECT x, y, width, height, lr FROM app_config WHERE id = 1").
		Scan(&region.X, &region.Y, &region.Width, &region.Height, &region.LR)
	if err == pgx.ErrNoRows {
		return types.Region{}, false, nil
	}
	if err != nil {
		return types.Region{}, false, errors.Wrap(err, "Store", "LoadRegion", "query")
	}
	return region, true, nil
}

// SaveRegion upserts the region of interest.
func (s *Store) SaveRegion(ctx context.Context, r types.Region) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_config (id, x, y, width, height, lr, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET x = EXCLUDED.x, y = EXCLUDED.y, width = EXCLUDED.width,
			height = EXCLUDED.height, lr = EXCLUDED.lr, updated_at = NOW()
	`, r.X, r.Y, r.Width, r.Height, r.LR)
	return errors.Wrap(err, "Store", "SaveRegion", "upsert")
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS frame_data CASCADE;
		DROP TABLE IF EXISTS frame_feature CASCADE;
		DROP TABLE IF EXISTS analysis_run CASCADE;
		DROP TABLE IF EXISTS app_config CASCADE;
	`)
	return err
}
