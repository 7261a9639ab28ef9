// Package store persists analysis runs in SQLite. All mutation goes through
// conditional single-statement updates; callers learn about lost races from
// the boolean results instead of clobbering concurrent writers. No other
// locking is used: duplicated invocations are expected and cheap to tolerate.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tradecrew-ai/tradecrew/internal/workflow"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store is the SQLite-backed record store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath. ":memory:" is
// accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dbPath += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// activeRunGuard limits writes to runs that have not reached a terminal
// status. Late writers from abandoned attempts are fenced out here.
const activeRunGuard = "SELECT 1 FROM runs WHERE id = ? AND status IN ('pending', 'running')"

// CreateRun inserts a new run plus a pending step row for every (phase,
// agent) pair in the topology.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, ticker, user_id, status, current_phase, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Ticker, run.UserID, run.Status, run.CurrentPhase, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, phase := range workflow.AllPhases() {
		for _, agent := range workflow.PhaseAgents(phase) {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO steps (run_id, phase, agent, status, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, run.ID, phase, agent, workflow.StepPending, now)
			if err != nil {
				return fmt.Errorf("inserting step %s/%s: %w", phase, agent, err)
			}
		}
	}

	return tx.Commit()
}

// GetRun loads a run by ID. Returns (nil, nil) when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	var run workflow.Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticker, user_id, status, current_phase, decision, confidence, reason, created_at, updated_at
		FROM runs WHERE id = ?
	`, id).Scan(
		&run.ID, &run.Ticker, &run.UserID, &run.Status, &run.CurrentPhase,
		&run.Decision, &run.Confidence, &run.Reason, &run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the user's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]workflow.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, user_id, status, current_phase, decision, confidence, reason, created_at, updated_at
		FROM runs WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []workflow.Run
	for rows.Next() {
		var run workflow.Run
		if err := rows.Scan(
			&run.ID, &run.Ticker, &run.UserID, &run.Status, &run.CurrentPhase,
			&run.Decision, &run.Confidence, &run.Reason, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetRunStatus conditionally moves a run to toStatus, only when its current
// status is in fromSet. Returns false when the precondition lost the race.
func (s *Store) SetRunStatus(ctx context.Context, runID string, fromSet []workflow.RunStatus, to workflow.RunStatus, reason string) (bool, error) {
	placeholders := make([]string, len(fromSet))
	args := []any{to, reason, time.Now().UTC(), runID}
	for i, st := range fromSet {
		placeholders[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE runs SET status = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return false, fmt.Errorf("setting run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRunPhase advances the run's current phase while it is still active.
// The from-phase precondition makes the advance idempotent: a duplicate
// last-in-phase signal finds the run already moved on and backs off.
func (s *Store) SetRunPhase(ctx context.Context, runID string, from, to workflow.Phase) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET current_phase = ?, updated_at = ?
		WHERE id = ? AND current_phase = ? AND status IN ('pending', 'running')
	`, to, time.Now().UTC(), runID, from)
	if err != nil {
		return false, fmt.Errorf("setting run phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetDecision records the final trading intent. Only the risk/portfolio
// stage calls this, once, while the run is still active.
func (s *Store) SetDecision(ctx context.Context, runID, decision string, confidence float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET decision = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND decision = '' AND status IN ('pending', 'running')
	`, decision, confidence, time.Now().UTC(), runID)
	if err != nil {
		return false, fmt.Errorf("setting decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetStepStatus conditionally moves a step to toStatus when its current
// status is in fromSet. The returned bool is the caller's race detector: a
// duplicate invocation finds the step already completed and backs off.
func (s *Store) SetStepStatus(ctx context.Context, runID string, phase workflow.Phase, agent string, fromSet []workflow.StepStatus, to workflow.StepStatus) (bool, error) {
	placeholders := make([]string, len(fromSet))
	args := []any{to, time.Now().UTC(), runID, phase, agent}
	for i, st := range fromSet {
		placeholders[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE steps SET status = ?, updated_at = ?
		WHERE run_id = ? AND phase = ? AND agent = ? AND status IN (%s)
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return false, fmt.Errorf("setting step status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkStepError records a terminal step failure with its classified type.
// Steps already completed are left untouched.
func (s *Store) MarkStepError(ctx context.Context, runID string, phase workflow.Phase, agent, message string, errType workflow.ErrorType) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status = ?, error = ?, error_type = ?, updated_at = ?
		WHERE run_id = ? AND phase = ? AND agent = ? AND status IN ('pending', 'running')
	`, workflow.StepError, message, errType, time.Now().UTC(), runID, phase, agent)
	if err != nil {
		return false, fmt.Errorf("marking step error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BumpStepAttempt records a watchdog re-invocation against the step row.
func (s *Store) BumpStepAttempt(ctx context.Context, runID string, phase workflow.Phase, agent string, attempt int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET attempt = MAX(attempt, ?), updated_at = ?
		WHERE run_id = ? AND phase = ? AND agent = ?
	`, attempt, time.Now().UTC(), runID, phase, agent)
	if err != nil {
		return fmt.Errorf("recording step attempt: %w", err)
	}
	return nil
}

// ResetStep returns a failed or stale step to pending for a resume. Steps
// already completed are never reset.
func (s *Store) ResetStep(ctx context.Context, runID string, phase workflow.Phase, agent string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status = ?, error = '', error_type = '', attempt = 0, updated_at = ?
		WHERE run_id = ? AND phase = ? AND agent = ? AND status IN ('error', 'running', 'pending')
	`, workflow.StepPending, time.Now().UTC(), runID, phase, agent)
	if err != nil {
		return false, fmt.Errorf("resetting step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSteps returns all step rows for a run in topology order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]workflow.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase, agent, status, attempt, error, error_type, updated_at
		FROM steps WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]workflow.Step)
	for rows.Next() {
		var st workflow.Step
		if err := rows.Scan(&st.RunID, &st.Phase, &st.Agent, &st.Status, &st.Attempt, &st.Error, &st.ErrorType, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		byKey[string(st.Phase)+"/"+st.Agent] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []workflow.Step
	for _, phase := range workflow.AllPhases() {
		for _, agent := range workflow.PhaseAgents(phase) {
			if st, ok := byKey[string(phase)+"/"+agent]; ok {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// MergeInsight deep-merges value into the agent's insight document using
// SQLite's json_patch, atomically and only while the run is active.
func (s *Store) MergeInsight(ctx context.Context, runID, agent string, value any) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshaling insight: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (run_id, agent, payload, updated_at)
		SELECT ?, ?, ?, ? WHERE EXISTS (`+activeRunGuard+`)
		ON CONFLICT (run_id, agent) DO UPDATE SET
			payload = json_patch(insights.payload, excluded.payload),
			updated_at = excluded.updated_at
	`, runID, agent, string(payload), time.Now().UTC(), runID)
	if err != nil {
		return false, fmt.Errorf("merging insight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetInsight loads one agent's insight document. Returns (nil, nil) when
// the agent has written nothing.
func (s *Store) GetInsight(ctx context.Context, runID, agent string) (*workflow.Insight, error) {
	var in workflow.Insight
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, agent, payload, updated_at FROM insights WHERE run_id = ? AND agent = ?
	`, runID, agent).Scan(&in.RunID, &in.Agent, &payload, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading insight: %w", err)
	}
	in.Payload = json.RawMessage(payload)
	return &in, nil
}

// ListInsights returns all insight documents for a run keyed by agent.
func (s *Store) ListInsights(ctx context.Context, runID string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, payload FROM insights WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var agent, payload string
		if err := rows.Scan(&agent, &payload); err != nil {
			return nil, fmt.Errorf("scanning insight: %w", err)
		}
		out[agent] = json.RawMessage(payload)
	}
	return out, rows.Err()
}

// DebateSide selects which half of a round a researcher writes.
type DebateSide string

const (
	SideBull DebateSide = "bull"
	SideBear DebateSide = "bear"
)

// AppendDebateText writes one side of a debate round. The write is
// conditional on that side still being empty, so the first writer wins and
// a duplicate or late attempt is told so. The run must still be active.
func (s *Store) AppendDebateText(ctx context.Context, runID string, round int, side DebateSide, text string, points []string) (bool, error) {
	if text == "" {
		return false, fmt.Errorf("debate text cannot be empty")
	}
	pointsJSON, err := json.Marshal(points)
	if err != nil {
		return false, fmt.Errorf("marshaling debate points: %w", err)
	}
	if points == nil {
		pointsJSON = []byte("[]")
	}

	var query string
	switch side {
	case SideBull:
		query = `
		INSERT INTO debate_rounds (run_id, round, bull_text, bull_points)
		SELECT ?, ?, ?, ? WHERE EXISTS (` + activeRunGuard + `)
		ON CONFLICT (run_id, round) DO UPDATE SET
			bull_text = excluded.bull_text,
			bull_points = excluded.bull_points
		WHERE debate_rounds.bull_text = ''`
	case SideBear:
		query = `
		INSERT INTO debate_rounds (run_id, round, bear_text, bear_points)
		SELECT ?, ?, ?, ? WHERE EXISTS (` + activeRunGuard + `)
		ON CONFLICT (run_id, round) DO UPDATE SET
			bear_text = excluded.bear_text,
			bear_points = excluded.bear_points
		WHERE debate_rounds.bear_text = ''`
	default:
		return false, fmt.Errorf("unknown debate side %q", side)
	}

	res, err := s.db.ExecContext(ctx, query, runID, round, text, string(pointsJSON), runID)
	if err != nil {
		return false, fmt.Errorf("appending debate text: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRounds returns the run's debate rounds in order.
func (s *Store) ListRounds(ctx context.Context, runID string) ([]workflow.DebateRound, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, round, bull_text, bear_text, bull_points, bear_points
		FROM debate_rounds WHERE run_id = ? ORDER BY round
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	defer rows.Close()

	var rounds []workflow.DebateRound
	for rows.Next() {
		var r workflow.DebateRound
		var bullPoints, bearPoints string
		if err := rows.Scan(&r.RunID, &r.Number, &r.BullText, &r.BearText, &bullPoints, &bearPoints); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		if err := json.Unmarshal([]byte(bullPoints), &r.BullPoints); err != nil {
			return nil, fmt.Errorf("unmarshaling bull points: %w", err)
		}
		if err := json.Unmarshal([]byte(bearPoints), &r.BearPoints); err != nil {
			return nil, fmt.Errorf("unmarshaling bear points: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// CompleteRounds counts debate rounds with both sides written.
func (s *Store) CompleteRounds(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM debate_rounds
		WHERE run_id = ? AND bull_text != '' AND bear_text != ''
	`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting complete rounds: %w", err)
	}
	return n, nil
}
