package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/internal/llm"
	"github.com/rahulkarwa/promptpoll/internal/llm/mock"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// memStore is an in-memory store.Store for handler tests. Only the paths the
// worker exercises are fully modeled.
type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	targets   map[uuid.UUID]*models.ModelTarget
	responses map[uuid.UUID]*models.LlmResponse
	threads   map[uuid.UUID]*models.ConversationThread
	analysis  map[uuid.UUID]*models.AnalysisResult
	runStatus map[uuid.UUID]string
	exportRws []store.ExportRow

	resolveStatus  string
	resolveApplied bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[uuid.UUID]*models.Job),
		targets:   make(map[uuid.UUID]*models.ModelTarget),
		responses: make(map[uuid.UUID]*models.LlmResponse),
		threads:   make(map[uuid.UUID]*models.ConversationThread),
		analysis:  make(map[uuid.UUID]*models.AnalysisResult),
		runStatus: make(map[uuid.UUID]string),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateSurvey(context.Context, *models.Survey) error { return nil }
func (m *memStore) GetSurvey(context.Context, uuid.UUID) (*models.Survey, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) CreateQuestion(context.Context, *models.Question) error { return nil }
func (m *memStore) ListQuestions(context.Context, uuid.UUID) ([]models.Question, error) {
	return nil, nil
}
func (m *memStore) CreateVariable(context.Context, *models.Variable) error { return nil }
func (m *memStore) ListVariables(context.Context, uuid.UUID) ([]models.Variable, error) {
	return nil, nil
}

func (m *memStore) CreateModelTarget(_ context.Context, t *models.ModelTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID] = t
	return nil
}

func (m *memStore) GetModelTarget(_ context.Context, id uuid.UUID) (*models.ModelTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) ListModelTargets(context.Context, []uuid.UUID) ([]models.ModelTarget, error) {
	return nil, nil
}

func (m *memStore) CreateRun(context.Context, *models.SurveyRun) error { return nil }
func (m *memStore) GetRun(context.Context, uuid.UUID) (*models.SurveyRun, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) MarkRunQueued(context.Context, uuid.UUID) error { return nil }

func (m *memStore) MarkRunRunning(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runStatus[id] = models.RunStatusRunning
	return nil
}

func (m *memStore) CancelRun(context.Context, uuid.UUID) (bool, error) {
	return false, store.ErrNotFound
}

func (m *memStore) ResolveRunIfComplete(context.Context, uuid.UUID) (string, bool, error) {
	return m.resolveStatus, m.resolveApplied, nil
}

func (m *memStore) RunProgress(context.Context, uuid.UUID) (*models.RunProgress, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) CreateJobs(_ context.Context, jobs []*models.Job) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, j := range jobs {
		dup := false
		for _, existing := range m.jobs {
			if existing.IdempotencyKey == j.IdempotencyKey {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.jobs[j.ID] = j
		inserted++
	}
	return inserted, nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (m *memStore) ClaimJob(_ context.Context, jobType string, exclude []uuid.UUID, lease time.Duration) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var best *models.Job
	for _, j := range m.jobs {
		if j.Type != jobType {
			continue
		}
		eligible := j.Status == models.JobStatusPending ||
			(j.Status == models.JobStatusRetrying && j.NextAttemptAt != nil && !j.NextAttemptAt.After(now))
		if !eligible {
			continue
		}
		held := false
		for _, id := range exclude {
			if id == j.ID {
				held = true
				break
			}
		}
		if held {
			continue
		}
		if best == nil || j.CreatedAt.Before(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.JobStatusRunning
	best.Attempts++
	expiry := now.Add(lease)
	best.LeaseExpiresAt = &expiry
	claimed := *best
	return &claimed, nil
}

func (m *memStore) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusPending
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.LeaseExpiresAt = nil
	return nil
}

func (m *memStore) MarkJobSucceeded(_ context.Context, id uuid.UUID) error {
	return m.setJob(id, models.JobStatusSucceeded, nil)
}

func (m *memStore) MarkJobFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	return m.setJob(id, models.JobStatusFailed, &errMsg)
}

func (m *memStore) MarkJobRetrying(_ context.Context, id uuid.UUID, errMsg string, _ time.Time) error {
	return m.setJob(id, models.JobStatusRetrying, &errMsg)
}

func (m *memStore) setJob(id uuid.UUID, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	j.LastError = errMsg
	return nil
}

func (m *memStore) SweepExpiredLeases(context.Context) (int, error) { return 0, nil }

func (m *memStore) CreateResponse(_ context.Context, resp *models.LlmResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ID] = resp
	return nil
}

func (m *memStore) GetResponse(_ context.Context, id uuid.UUID) (*models.LlmResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) GetThread(_ context.Context, threadKey uuid.UUID) (*models.ConversationThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *memStore) AppendThreadMessages(_ context.Context, runID, modelTargetID, threadKey uuid.UUID, messages []models.ThreadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadKey]
	if !ok {
		t = &models.ConversationThread{
			ID:            uuid.New(),
			RunID:         runID,
			ModelTargetID: modelTargetID,
			ThreadKey:     threadKey,
		}
		m.threads[threadKey] = t
	}
	t.Messages = append(t.Messages, messages...)
	return nil
}

func (m *memStore) CreateAnalysisResult(_ context.Context, result *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.analysis {
		if existing.ResponseID == result.ResponseID {
			return store.ErrDuplicateKey
		}
	}
	m.analysis[result.ID] = result
	return nil
}

func (m *memStore) ExportRows(context.Context, uuid.UUID) ([]store.ExportRow, error) {
	return m.exportRws, nil
}

var _ store.Store = (*memStore)(nil)

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		PollInterval:    10 * time.Millisecond,
		ExecuteCap:      2,
		AnalyzeCap:      2,
		ExportCap:       1,
		MaxAttempts:     3,
		RetryBase:       time.Millisecond,
		LeaseDuration:   time.Minute,
		SweepInterval:   time.Minute,
		ShutdownTimeout: time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestWorker(t *testing.T, st store.Store, provider *mock.MockProvider) *Worker {
	t.Helper()
	registry := llm.NewRegistry(config.LLMConfig{RequestTimeout: time.Second})
	registry.Register("mock", provider)
	return New(st, nil, registry, testWorkerConfig(), config.ExportConfig{Dir: t.TempDir()}, testLogger())
}

func seedExecuteJob(t *testing.T, st *memStore, payload models.ExecuteQuestionPayload) *models.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	job := &models.Job{
		ID:       uuid.New(),
		RunID:    payload.RunID,
		Type:     models.JobTypeExecuteQuestion,
		Status:   models.JobStatusRunning,
		Attempts: 1,
		Payload:  body,
	}
	st.jobs[job.ID] = job
	return job
}

func seedTarget(st *memStore) *models.ModelTarget {
	target := &models.ModelTarget{
		ID:                    uuid.New(),
		Provider:              "mock",
		Model:                 "mock-v1",
		InputPricePerMillion:  3.0,
		OutputPricePerMillion: 15.0,
	}
	st.targets[target.ID] = target
	return target
}

func TestExecuteQuestion_OpenSuccess(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)

	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(_ context.Context, model string, messages []models.ChatMessage) (models.ChatResult, error) {
			assert.Equal(t, "mock-v1", model)
			require.Len(t, messages, 2)
			assert.Equal(t, models.RoleSystem, messages[0].Role)
			assert.Contains(t, messages[1].Content, "What do you think of Acme?")
			assert.Contains(t, messages[1].Content, "JSON object matching this schema")
			return models.ChatResult{
				Text:         `{"answer": "Acme makes reliable products.", "citations": ["https://acme.example"]}`,
				InputTokens:  1000,
				OutputTokens: 200,
				Latency:      20 * time.Millisecond,
			}, nil
		},
	}
	w := newTestWorker(t, st, provider)

	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		ThreadKey:     uuid.New(),
		Prompt:        "What do you think of Acme?",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeOpen,
	})

	w.dispatch(context.Background(), job)

	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)

	require.Len(t, st.responses, 1)
	for _, resp := range st.responses {
		assert.Equal(t, "Acme makes reliable products.", resp.AnswerText)
		assert.Equal(t, []string{"https://acme.example"}, resp.Citations)
		assert.Nil(t, resp.ParseError)
		// 1000×3/1e6 + 200×15/1e6
		assert.InDelta(t, 0.006, resp.CostUSD, 1e-9)
	}

	// Stateless mode never touches threads; analysis fanned out.
	assert.Empty(t, st.threads)
	analysisJobs := 0
	for _, j := range st.jobs {
		if j.Type == models.JobTypeAnalyzeResponse {
			analysisJobs++
		}
	}
	assert.Equal(t, 1, analysisJobs)
}

func TestExecuteQuestion_ParseFailureStillSucceeds(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)

	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(context.Context, string, []models.ChatMessage) (models.ChatResult, error) {
			return models.ChatResult{Text: "I cannot answer in JSON, sorry."}, nil
		},
	}
	w := newTestWorker(t, st, provider)

	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		Prompt:        "Anything?",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeOpen,
	})

	w.dispatch(context.Background(), job)

	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)
	require.Len(t, st.responses, 1)
	for _, resp := range st.responses {
		assert.Nil(t, resp.Parsed)
		require.NotNil(t, resp.ParseError)
		assert.Equal(t, "I cannot answer in JSON, sorry.", resp.RawText)
		assert.Empty(t, resp.AnswerText)
	}
}

func TestExecuteQuestion_ProviderErrorRetriesThenFails(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)

	provider := mock.NewFailingProvider(errors.New("connection refused"))
	w := newTestWorker(t, st, provider)

	payload := models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		Prompt:        "Anything?",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeOpen,
	}

	job := seedExecuteJob(t, st, payload)
	w.dispatch(context.Background(), job)
	assert.Equal(t, models.JobStatusRetrying, st.jobs[job.ID].Status)
	require.NotNil(t, st.jobs[job.ID].LastError)
	assert.Contains(t, *st.jobs[job.ID].LastError, "connection refused")

	// Attempt budget exhausted: permanent failure.
	job.Status = models.JobStatusRunning
	job.Attempts = 3
	w.dispatch(context.Background(), job)
	assert.Equal(t, models.JobStatusFailed, st.jobs[job.ID].Status)
	assert.Empty(t, st.responses)
}

func TestExecuteQuestion_ThreadedHistoryAndAppend(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)
	threadKey := uuid.New()
	runID := uuid.New()

	st.threads[threadKey] = &models.ConversationThread{
		ID:        uuid.New(),
		RunID:     runID,
		ThreadKey: threadKey,
		Messages: []models.ThreadMessage{
			{Role: models.RoleUser, Content: "First question?"},
			{Role: models.RoleAssistant, Content: "First answer."},
		},
	}

	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(_ context.Context, _ string, messages []models.ChatMessage) (models.ChatResult, error) {
			// system + two history turns + new user message
			require.Len(t, messages, 4)
			assert.Equal(t, "First question?", messages[1].Content)
			assert.Equal(t, "First answer.", messages[2].Content)
			return models.ChatResult{Text: `{"answer": "Second answer."}`}, nil
		},
	}
	w := newTestWorker(t, st, provider)

	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         runID,
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		ThreadKey:     threadKey,
		Prompt:        "Second question?",
		Mode:          models.QuestionModeThreaded,
		QuestionType:  models.QuestionTypeOpen,
	})

	w.dispatch(context.Background(), job)

	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)
	require.Len(t, st.threads[threadKey].Messages, 4)
	assert.Equal(t, models.RoleUser, st.threads[threadKey].Messages[2].Role)
	assert.Contains(t, st.threads[threadKey].Messages[2].Content, "Second question?")
	assert.Equal(t, models.RoleAssistant, st.threads[threadKey].Messages[3].Role)
	assert.Equal(t, `{"answer": "Second answer."}`, st.threads[threadKey].Messages[3].Content)
}

func TestExecuteQuestion_RankedClampAndSkipAnalysis(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)

	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(context.Context, string, []models.ChatMessage) (models.ChatResult, error) {
			return models.ChatResult{Text: `{"score": 15}`}, nil
		},
	}
	w := newTestWorker(t, st, provider)

	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		Prompt:        "Rate Acme 1-10.",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeRanked,
		Scale:         &models.RankedScale{Min: 1, Max: 10, IncludeReasoning: false},
	})

	w.dispatch(context.Background(), job)

	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)
	for _, resp := range st.responses {
		require.NotNil(t, resp.Score)
		assert.Equal(t, 10.0, *resp.Score)
	}
	// Ranked without reasoning has nothing to analyze.
	for _, j := range st.jobs {
		assert.NotEqual(t, models.JobTypeAnalyzeResponse, j.Type)
	}
}

func TestAnalyzeResponse_Flags(t *testing.T) {
	st := newMemStore()
	w := newTestWorker(t, st, mock.NewMockProvider())
	runID := uuid.New()

	cases := []struct {
		name      string
		resp      *models.LlmResponse
		wantFlags []string
	}{
		{
			name: "invalid json short circuits",
			resp: &models.LlmResponse{ID: uuid.New(), RunID: runID},
			wantFlags: []string{
				models.FlagInvalidJSON,
			},
		},
		{
			name: "empty answer short circuits",
			resp: &models.LlmResponse{
				ID:     uuid.New(),
				RunID:  runID,
				Parsed: json.RawMessage(`{"answer": ""}`),
			},
			wantFlags: []string{models.FlagEmptyAnswer},
		},
		{
			name: "extreme sentiment and short answer",
			resp: &models.LlmResponse{
				ID:         uuid.New(),
				RunID:      runID,
				Parsed:     json.RawMessage(`{"answer": "Excellent amazing product"}`),
				AnswerText: "Excellent amazing product",
			},
			wantFlags: []string{models.FlagShortAnswer, models.FlagExtremeSentiment},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st.responses[tc.resp.ID] = tc.resp
			body, err := json.Marshal(models.AnalyzeResponsePayload{ResponseID: tc.resp.ID, RunID: runID})
			require.NoError(t, err)
			job := &models.Job{
				ID:       uuid.New(),
				RunID:    runID,
				Type:     models.JobTypeAnalyzeResponse,
				Status:   models.JobStatusRunning,
				Attempts: 1,
				Payload:  body,
			}
			st.jobs[job.ID] = job

			w.dispatch(context.Background(), job)
			assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)

			var found *models.AnalysisResult
			for _, r := range st.analysis {
				if r.ResponseID == tc.resp.ID {
					found = r
				}
			}
			require.NotNil(t, found)
			for _, flag := range tc.wantFlags {
				assert.Contains(t, found.Flags, flag)
			}
		})
	}
}

func TestAnalyzeResponse_DuplicateIsSuccess(t *testing.T) {
	st := newMemStore()
	w := newTestWorker(t, st, mock.NewMockProvider())
	runID := uuid.New()

	resp := &models.LlmResponse{
		ID:         uuid.New(),
		RunID:      runID,
		Parsed:     json.RawMessage(`{"answer": "fine"}`),
		AnswerText: "fine",
	}
	st.responses[resp.ID] = resp
	st.analysis[uuid.New()] = &models.AnalysisResult{ID: uuid.New(), ResponseID: resp.ID}

	body, _ := json.Marshal(models.AnalyzeResponsePayload{ResponseID: resp.ID, RunID: runID})
	job := &models.Job{
		ID: uuid.New(), RunID: runID, Type: models.JobTypeAnalyzeResponse,
		Status: models.JobStatusRunning, Attempts: 1, Payload: body,
	}
	st.jobs[job.ID] = job

	w.dispatch(context.Background(), job)
	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)
}

func TestExportRun_WritesArtifacts(t *testing.T) {
	st := newMemStore()
	sentiment := 0.25
	st.exportRws = []store.ExportRow{
		{Question: "Q1", Model: "m", Provider: "mock", Answer: "A1", Sentiment: &sentiment, CostUSD: 0.001},
	}
	w := newTestWorker(t, st, mock.NewMockProvider())
	runID := uuid.New()

	body, _ := json.Marshal(models.ExportRunPayload{RunID: runID})
	job := &models.Job{
		ID: uuid.New(), RunID: runID, Type: models.JobTypeExportRun,
		Status: models.JobStatusRunning, Attempts: 1, Payload: body,
	}
	st.jobs[job.ID] = job

	w.dispatch(context.Background(), job)
	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)

	csvBytes, err := os.ReadFile(filepath.Join(w.exportDir, "run-"+runID.String()+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csvBytes), "Q1")

	_, err = os.Stat(filepath.Join(w.exportDir, "run-"+runID.String()+".xlsx"))
	require.NoError(t, err)
}

func TestCompletedRunEnqueuesExport(t *testing.T) {
	st := newMemStore()
	st.resolveStatus = models.RunStatusCompleted
	st.resolveApplied = true
	target := seedTarget(st)

	w := newTestWorker(t, st, mock.NewMockProvider())
	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		Prompt:        "Anything?",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeOpen,
	})

	w.dispatch(context.Background(), job)

	exportJobs := 0
	for _, j := range st.jobs {
		if j.Type == models.JobTypeExportRun {
			exportJobs++
		}
	}
	assert.Equal(t, 1, exportJobs)
}

func TestPollOnce_FullPoolReleasesClaimWithAttempt(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)
	runID := uuid.New()

	block := make(chan struct{})
	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(context.Context, string, []models.ChatMessage) (models.ChatResult, error) {
			<-block
			return models.ChatResult{Text: `{"answer": "done"}`}, nil
		},
	}
	cfg := testWorkerConfig()
	cfg.ExecuteCap = 1
	registry := llm.NewRegistry(config.LLMConfig{RequestTimeout: time.Second})
	registry.Register("mock", provider)
	w := New(st, nil, registry, cfg, config.ExportConfig{Dir: t.TempDir()}, testLogger())

	now := time.Now().UTC()
	var jobs [2]*models.Job
	for i := range jobs {
		body, err := json.Marshal(models.ExecuteQuestionPayload{
			RunID:         runID,
			ModelTargetID: target.ID,
			QuestionID:    uuid.New(),
			Prompt:        "Anything?",
			Mode:          models.QuestionModeStateless,
			QuestionType:  models.QuestionTypeOpen,
		})
		require.NoError(t, err)
		jobs[i] = &models.Job{
			ID:        uuid.New(),
			RunID:     runID,
			Type:      models.JobTypeExecuteQuestion,
			Status:    models.JobStatusPending,
			Payload:   body,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		st.jobs[jobs[i].ID] = jobs[i]
	}

	ctx := context.Background()

	// First poll claims the oldest job and fills the single execute slot.
	assert.True(t, w.pollOnce(ctx))
	assert.Equal(t, models.JobStatusRunning, st.jobs[jobs[0].ID].Status)

	// With the pool full, a claimed job goes straight back to pending and
	// keeps its full attempt budget, no matter how many polls race past it.
	for i := 0; i < 5; i++ {
		w.pollOnce(ctx)
	}
	assert.Equal(t, models.JobStatusPending, st.jobs[jobs[1].ID].Status)
	assert.Equal(t, 0, st.jobs[jobs[1].ID].Attempts)
	assert.Nil(t, st.jobs[jobs[1].ID].LeaseExpiresAt)

	close(block)
	require.NoError(t, w.drain())
	assert.Equal(t, models.JobStatusSucceeded, st.jobs[jobs[0].ID].Status)
	assert.Equal(t, 1, st.jobs[jobs[0].ID].Attempts)
}

func TestHandlerPanicTerminalizesJob(t *testing.T) {
	st := newMemStore()
	target := seedTarget(st)

	provider := &mock.MockProvider{
		Name_: "mock",
		ChatFunc: func(context.Context, string, []models.ChatMessage) (models.ChatResult, error) {
			panic("boom")
		},
	}
	w := newTestWorker(t, st, provider)

	job := seedExecuteJob(t, st, models.ExecuteQuestionPayload{
		RunID:         uuid.New(),
		ModelTargetID: target.ID,
		QuestionID:    uuid.New(),
		Prompt:        "Anything?",
		Mode:          models.QuestionModeStateless,
		QuestionType:  models.QuestionTypeOpen,
	})

	require.NotPanics(t, func() {
		w.dispatch(context.Background(), job)
	})
	assert.Equal(t, models.JobStatusFailed, st.jobs[job.ID].Status)
	require.NotNil(t, st.jobs[job.ID].LastError)
	assert.Contains(t, *st.jobs[job.ID].LastError, "panic")
}
