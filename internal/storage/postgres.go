/**
 * PostgreSQL Client for the Recipe Extraction service
 *
 * Persists one audit row per pipeline run. Recipes themselves are returned to
 * the caller and are never stored here.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/recipe-extractor/internal/processor"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// ExtractionRun is one row of recipe_extraction.extraction_runs
type ExtractionRun struct {
	RequestID        string                 `json:"requestId"`
	Success          bool                   `json:"success"`
	FinalState       string                 `json:"finalState"`
	ErrorCode        string                 `json:"error_code,omitempty"`
	ErrorMessage     string                 `json:"message,omitempty"`
	OCREngine        string                 `json:"ocrEngine,omitempty"`
	OCRConfidence    float64                `json:"ocrConfidence"`
	Language         string                 `json:"language,omitempty"`
	TextLength       int                    `json:"textLength"`
	InterpreterCalls int                    `json:"interpreterCalls"`
	Stages           []string               `json:"stages"`
	Tags             []string               `json:"tags"`
	DurationMs       int64                  `json:"durationMs"`
	Diagnostics      map[string]interface{} `json:"diagnostics,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS recipe_extraction;

	CREATE TABLE IF NOT EXISTS recipe_extraction.extraction_runs (
		request_id        TEXT PRIMARY KEY,
		success           BOOLEAN NOT NULL,
		final_state       TEXT NOT NULL,
		error_code        TEXT,
		error_message     TEXT,
		ocr_engine        TEXT,
		ocr_confidence    NUMERIC(5,4),
		language          TEXT,
		text_length       INTEGER NOT NULL DEFAULT 0,
		interpreter_calls INTEGER NOT NULL DEFAULT 0,
		stages            TEXT[] NOT NULL DEFAULT '{}',
		tags              TEXT[] NOT NULL DEFAULT '{}',
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		diagnostics       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS extraction_runs_error_code_idx
		ON recipe_extraction.extraction_runs (error_code)
		WHERE error_code IS NOT NULL;
`

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0] so it always fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the audit table when it does not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create extraction_runs schema: %w", err)
	}
	return nil
}

// RunFromResult flattens a pipeline result into an audit row
func RunFromResult(result *processor.PipelineResult) *ExtractionRun {
	d := result.Diagnostics
	run := &ExtractionRun{
		RequestID:        d.RequestID,
		Success:          result.Success(),
		FinalState:       string(d.FinalState),
		OCREngine:        d.OCREngine,
		OCRConfidence:    sanitizeConfidence(d.OCRConfidence),
		Language:         d.Language,
		TextLength:       d.TextLength,
		InterpreterCalls: d.InterpreterCalls,
		Stages:           make([]string, 0, len(d.Stages)),
		Tags:             []string{},
		DurationMs:       d.Duration.Milliseconds(),
		Diagnostics:      make(map[string]interface{}),
	}

	timings := make(map[string]int64, len(d.Stages))
	for _, st := range d.Stages {
		run.Stages = append(run.Stages, string(st.Stage))
		timings[string(st.Stage)] = st.Duration.Milliseconds()
	}
	run.Diagnostics["stage_ms"] = timings

	if result.Recipe != nil {
		run.Tags = append(run.Tags, result.Recipe.Tags...)
		run.Diagnostics["ingredients"] = len(result.Recipe.Ingredients)
		run.Diagnostics["instructions"] = len(result.Recipe.Instructions)
	}

	if result.Err != nil {
		run.ErrorCode = string(result.Err.Kind)
		run.ErrorMessage = result.Err.Message
		for k, v := range result.Err.ToMap() {
			if k == "error_code" || k == "message" || k == "timestamp" {
				continue
			}
			run.Diagnostics[k] = v
		}
	}

	return run
}

// RecordRun persists the outcome of one pipeline run. It satisfies
// processor.RunRecorder.
func (p *PostgresClient) RecordRun(ctx context.Context, result *processor.PipelineResult) error {
	if result == nil {
		return fmt.Errorf("pipeline result is required")
	}
	return p.InsertRun(ctx, RunFromResult(result))
}

// InsertRun writes an audit row. Replaying the same request ID overwrites the
// earlier row.
func (p *PostgresClient) InsertRun(ctx context.Context, run *ExtractionRun) error {
	if run.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}

	diagnosticsJSON, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}

	confidence := sanitizeConfidence(run.OCRConfidence)

	query := `
		INSERT INTO recipe_extraction.extraction_runs (
			request_id, success, final_state, error_code, error_message,
			ocr_engine, ocr_confidence, language, text_length, interpreter_calls,
			stages, tags, duration_ms, diagnostics, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, ''), $7::NUMERIC(5,4), NULLIF($8, ''), $9, $10,
			$11, $12, $13, COALESCE($14::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (request_id) DO UPDATE SET
			success = EXCLUDED.success,
			final_state = EXCLUDED.final_state,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			ocr_engine = COALESCE(EXCLUDED.ocr_engine, recipe_extraction.extraction_runs.ocr_engine),
			ocr_confidence = EXCLUDED.ocr_confidence,
			language = COALESCE(EXCLUDED.language, recipe_extraction.extraction_runs.language),
			text_length = EXCLUDED.text_length,
			interpreter_calls = EXCLUDED.interpreter_calls,
			stages = EXCLUDED.stages,
			tags = EXCLUDED.tags,
			duration_ms = EXCLUDED.duration_ms,
			diagnostics = EXCLUDED.diagnostics,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(
		ctx,
		query,
		run.RequestID,        // $1
		run.Success,          // $2
		run.FinalState,       // $3
		run.ErrorCode,        // $4
		run.ErrorMessage,     // $5
		run.OCREngine,        // $6
		confidence,           // $7 - sanitized to 4 decimals
		run.Language,         // $8
		run.TextLength,       // $9
		run.InterpreterCalls, // $10
		pq.Array(run.Stages), // $11
		pq.Array(run.Tags),   // $12
		run.DurationMs,       // $13
		diagnosticsJSON,      // $14
	)
	if err != nil {
		return fmt.Errorf("failed to record extraction run (request=%s, state=%s, confidence=%.4f): %w",
			run.RequestID, run.FinalState, confidence, err)
	}

	return nil
}

// GetRun retrieves an audit row by request ID
func (p *PostgresClient) GetRun(ctx context.Context, requestID string) (*ExtractionRun, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request ID is required")
	}

	query := `
		SELECT
			request_id, success, final_state, error_code, error_message,
			ocr_engine, ocr_confidence, language, text_length, interpreter_calls,
			stages, tags, duration_ms, diagnostics, created_at
		FROM recipe_extraction.extraction_runs
		WHERE request_id = $1
	`

	var (
		run                     ExtractionRun
		errorCode, errorMessage sql.NullString
		ocrEngine, language     sql.NullString
		confidence              sql.NullFloat64
		stages, tags            pq.StringArray
		diagnosticsJSON         []byte
	)

	err := p.db.QueryRowContext(ctx, query, requestID).Scan(
		&run.RequestID, &run.Success, &run.FinalState, &errorCode, &errorMessage,
		&ocrEngine, &confidence, &language, &run.TextLength, &run.InterpreterCalls,
		&stages, &tags, &run.DurationMs, &diagnosticsJSON, &run.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("extraction run not found: %s", requestID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get extraction run: %w", err)
	}

	run.ErrorCode = errorCode.String
	run.ErrorMessage = errorMessage.String
	run.OCREngine = ocrEngine.String
	run.Language = language.String
	run.OCRConfidence = confidence.Float64
	run.Stages = []string(stages)
	run.Tags = []string(tags)

	if len(diagnosticsJSON) > 0 {
		if err := json.Unmarshal(diagnosticsJSON, &run.Diagnostics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diagnostics: %w", err)
		}
	}

	return &run, nil
}

// CountFailures returns failed runs per error code since the given time
func (p *PostgresClient) CountFailures(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT error_code, COUNT(*)
		FROM recipe_extraction.extraction_runs
		WHERE success = FALSE AND error_code IS NOT NULL AND created_at >= $1
		GROUP BY error_code
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		counts[code] = n
	}
	return counts, rows.Err()
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
