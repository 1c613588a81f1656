package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Surveys ---

func (s *PostgresStore) CreateSurvey(ctx context.Context, survey *models.Survey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO surveys (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		survey.ID, survey.Name, survey.CreatedAt, survey.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create survey: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSurvey(ctx context.Context, id uuid.UUID) (*models.Survey, error) {
	var sv models.Survey
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM surveys WHERE id = $1`, id,
	).Scan(&sv.ID, &sv.Name, &sv.CreatedAt, &sv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get survey: %w", err)
	}
	return &sv, nil
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, question *models.Question) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, survey_id, prompt, mode, type, thread_group, scale, display_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		question.ID, question.SurveyID, question.Prompt, question.Mode, question.Type,
		question.ThreadGroup, question.Scale, question.DisplayOrder, question.CreatedAt)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// ListQuestions returns a survey's questions in stored display order.
func (s *PostgresStore) ListQuestions(ctx context.Context, surveyID uuid.UUID) ([]models.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, survey_id, prompt, mode, type, thread_group, scale, display_order, created_at
		 FROM questions WHERE survey_id = $1 ORDER BY display_order ASC, created_at ASC`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.SurveyID, &q.Prompt, &q.Mode, &q.Type,
			&q.ThreadGroup, &q.Scale, &q.DisplayOrder, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *PostgresStore) CreateVariable(ctx context.Context, variable *models.Variable) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO survey_variables (id, survey_id, name, default_value) VALUES ($1, $2, $3, $4)`,
		variable.ID, variable.SurveyID, variable.Name, variable.DefaultValue)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create variable: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVariables(ctx context.Context, surveyID uuid.UUID) ([]models.Variable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, survey_id, name, default_value FROM survey_variables WHERE survey_id = $1 ORDER BY name ASC`,
		surveyID)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var variables []models.Variable
	for rows.Next() {
		var v models.Variable
		if err := rows.Scan(&v.ID, &v.SurveyID, &v.Name, &v.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		variables = append(variables, v)
	}
	return variables, rows.Err()
}

// --- Model targets ---

func (s *PostgresStore) CreateModelTarget(ctx context.Context, target *models.ModelTarget) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_targets (id, provider, model, input_price_per_million, output_price_per_million, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		target.ID, target.Provider, target.Model,
		target.InputPricePerMillion, target.OutputPricePerMillion, target.CreatedAt)
	if err != nil {
		return fmt.Errorf("create model target: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetModelTarget(ctx context.Context, id uuid.UUID) (*models.ModelTarget, error) {
	var t models.ModelTarget
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider, model, input_price_per_million, output_price_per_million, created_at
		 FROM model_targets WHERE id = $1`, id,
	).Scan(&t.ID, &t.Provider, &t.Model, &t.InputPricePerMillion, &t.OutputPricePerMillion, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model target: %w", err)
	}
	return &t, nil
}

// ListModelTargets returns targets for the given ids, preserving the order
// of the ids argument. Unknown ids are an error: a run must never be
// allocated against a target that does not exist.
func (s *PostgresStore) ListModelTargets(ctx context.Context, ids []uuid.UUID) ([]models.ModelTarget, error) {
	targets := make([]models.ModelTarget, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetModelTarget(ctx, id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.SurveyRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO survey_runs (id, survey_id, status, model_target_ids, variable_overrides,
		                          estimated_cost_usd, estimated_tokens, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.SurveyID, run.Status, run.ModelTargetIDs, run.VariableOverrides,
		run.EstimatedCostUSD, run.EstimatedTokens, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.SurveyRun, error) {
	var r models.SurveyRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, survey_id, status, model_target_ids, variable_overrides,
		        estimated_cost_usd, estimated_tokens, started_at, completed_at, created_at, updated_at
		 FROM survey_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.SurveyID, &r.Status, &r.ModelTargetIDs, &r.VariableOverrides,
		&r.EstimatedCostUSD, &r.EstimatedTokens, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// MarkRunQueued moves a draft run to queued once its jobs exist.
func (s *PostgresStore) MarkRunQueued(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE survey_runs SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, models.RunStatusQueued, models.RunStatusDraft)
	if err != nil {
		return fmt.Errorf("mark run queued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRunRunning records that execution has begun. A no-op when the run has
// already left queued; concurrent callers are harmless.
func (s *PostgresStore) MarkRunRunning(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE survey_runs SET status = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, models.RunStatusRunning, models.RunStatusQueued)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return nil
}

// CancelRun marks the run cancelled and bulk-cancels its not-yet-started
// jobs in one transaction. Returns false when the run was already terminal
// and ErrNotFound when no such run exists. In-flight running jobs are left
// to finish; their completion checks observe the terminal run and no-op.
func (s *PostgresStore) CancelRun(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin cancel run: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE survey_runs SET status = $2, completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4, $5)`,
		id, models.RunStatusCancelled,
		models.RunStatusDraft, models.RunStatusQueued, models.RunStatusRunning)
	if err != nil {
		return false, fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM survey_runs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("check run exists: %w", err)
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = $2, finished_at = now(), updated_at = now()
		 WHERE run_id = $1 AND status IN ($3, $4)`,
		id, models.JobStatusCancelled, models.JobStatusPending, models.JobStatusRetrying)
	if err != nil {
		return false, fmt.Errorf("cancel run jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit cancel run: %w", err)
	}
	return true, nil
}

// RunProgress returns the execute-job roll-up and current status for a run.
func (s *PostgresStore) RunProgress(ctx context.Context, runID uuid.UUID) (*models.RunProgress, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM survey_runs WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run status: %w", err)
	}

	p := &models.RunProgress{RunID: runID, Status: status}
	err = s.pool.QueryRow(ctx, `
		SELECT
		    count(*),
		    count(*) FILTER (WHERE status = 'succeeded'),
		    count(*) FILTER (WHERE status = 'failed'),
		    count(*) FILTER (WHERE status = 'running'),
		    count(*) FILTER (WHERE status IN ('pending', 'retrying'))
		FROM jobs WHERE run_id = $1 AND type = $2`,
		runID, models.JobTypeExecuteQuestion,
	).Scan(&p.Total, &p.Succeeded, &p.Failed, &p.Running, &p.Pending)
	if err != nil {
		return nil, fmt.Errorf("run progress counts: %w", err)
	}
	return p, nil
}

// --- Responses, threads, analysis ---

func (s *PostgresStore) CreateResponse(ctx context.Context, resp *models.LlmResponse) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_responses (id, run_id, job_id, question_id, model_target_id, raw_text, parsed,
		                            parse_error, answer_text, score, reasoning, citations,
		                            input_tokens, output_tokens, cost_usd, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		resp.ID, resp.RunID, resp.JobID, resp.QuestionID, resp.ModelTargetID, resp.RawText, resp.Parsed,
		resp.ParseError, resp.AnswerText, resp.Score, resp.Reasoning, resp.Citations,
		resp.InputTokens, resp.OutputTokens, resp.CostUSD, resp.LatencyMS, resp.CreatedAt)
	if err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, id uuid.UUID) (*models.LlmResponse, error) {
	var r models.LlmResponse
	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, job_id, question_id, model_target_id, raw_text, parsed, parse_error,
		        answer_text, score, reasoning, citations, input_tokens, output_tokens, cost_usd, latency_ms, created_at
		 FROM llm_responses WHERE id = $1`, id,
	).Scan(&r.ID, &r.RunID, &r.JobID, &r.QuestionID, &r.ModelTargetID, &r.RawText, &r.Parsed, &r.ParseError,
		&r.AnswerText, &r.Score, &r.Reasoning, &r.Citations, &r.InputTokens, &r.OutputTokens, &r.CostUSD,
		&r.LatencyMS, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadKey uuid.UUID) (*models.ConversationThread, error) {
	var t models.ConversationThread
	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, model_target_id, thread_key, messages, created_at, updated_at
		 FROM conversation_threads WHERE thread_key = $1`, threadKey,
	).Scan(&t.ID, &t.RunID, &t.ModelTargetID, &t.ThreadKey, &t.Messages, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// AppendThreadMessages appends turns to a thread, creating it if absent.
// Appends only: messages are never reordered or deleted. The single handler
// owning the thread key is the only concurrent writer.
func (s *PostgresStore) AppendThreadMessages(ctx context.Context, runID, modelTargetID, threadKey uuid.UUID, messages []models.ThreadMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_threads (id, run_id, model_target_id, thread_key, messages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (thread_key) DO UPDATE SET
		   messages = conversation_threads.messages || EXCLUDED.messages,
		   updated_at = now()`,
		uuid.New(), runID, modelTargetID, threadKey, messages)
	if err != nil {
		return fmt.Errorf("append thread messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAnalysisResult(ctx context.Context, result *models.AnalysisResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_results (id, response_id, run_id, job_id, sentiment, entities, brands, institutions, flags, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.ID, result.ResponseID, result.RunID, result.JobID, result.Sentiment,
		result.Entities, result.Brands, result.Institutions, result.Flags, result.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create analysis result: %w", err)
	}
	return nil
}

// ExportRows returns one row per response of a run, joined with question,
// model target, and analysis sentiment, in allocation order (model, then
// question display order).
func (s *PostgresStore) ExportRows(ctx context.Context, runID uuid.UUID) ([]ExportRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.prompt, t.model, t.provider, r.answer_text, r.citations, a.sentiment, r.cost_usd
		FROM llm_responses r
		JOIN questions q ON q.id = r.question_id
		JOIN model_targets t ON t.id = r.model_target_id
		LEFT JOIN analysis_results a ON a.response_id = r.id
		WHERE r.run_id = $1
		ORDER BY t.model ASC, q.display_order ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var row ExportRow
		if err := rows.Scan(&row.Question, &row.Model, &row.Provider, &row.Answer,
			&row.Citations, &row.Sentiment, &row.CostUSD); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
