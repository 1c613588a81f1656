package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Survey data is authored elsewhere; these are the thin reads the
	// allocation engine and cost estimator consume, plus creates for
	// seeding and tests.
	CreateSurvey(ctx context.Context, survey *models.Survey) error
	GetSurvey(ctx context.Context, id uuid.UUID) (*models.Survey, error)
	CreateQuestion(ctx context.Context, question *models.Question) error
	ListQuestions(ctx context.Context, surveyID uuid.UUID) ([]models.Question, error)
	CreateVariable(ctx context.Context, variable *models.Variable) error
	ListVariables(ctx context.Context, surveyID uuid.UUID) ([]models.Variable, error)
	CreateModelTarget(ctx context.Context, target *models.ModelTarget) error
	GetModelTarget(ctx context.Context, id uuid.UUID) (*models.ModelTarget, error)
	ListModelTargets(ctx context.Context, ids []uuid.UUID) ([]models.ModelTarget, error)

	// Runs.
	CreateRun(ctx context.Context, run *models.SurveyRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.SurveyRun, error)
	MarkRunQueued(ctx context.Context, id uuid.UUID) error
	MarkRunRunning(ctx context.Context, id uuid.UUID) error
	CancelRun(ctx context.Context, id uuid.UUID) (bool, error)
	ResolveRunIfComplete(ctx context.Context, runID uuid.UUID) (string, bool, error)
	RunProgress(ctx context.Context, runID uuid.UUID) (*models.RunProgress, error)

	// Jobs and the claim protocol.
	CreateJobs(ctx context.Context, jobs []*models.Job) (int, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ClaimJob(ctx context.Context, jobType string, exclude []uuid.UUID, lease time.Duration) (*models.Job, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	MarkJobSucceeded(ctx context.Context, id uuid.UUID) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkJobRetrying(ctx context.Context, id uuid.UUID, errMsg string, nextAttemptAt time.Time) error
	SweepExpiredLeases(ctx context.Context) (int, error)

	// Responses, conversation threads, analysis.
	CreateResponse(ctx context.Context, resp *models.LlmResponse) error
	GetResponse(ctx context.Context, id uuid.UUID) (*models.LlmResponse, error)
	GetThread(ctx context.Context, threadKey uuid.UUID) (*models.ConversationThread, error)
	AppendThreadMessages(ctx context.Context, runID, modelTargetID, threadKey uuid.UUID, messages []models.ThreadMessage) error
	CreateAnalysisResult(ctx context.Context, result *models.AnalysisResult) error
	ExportRows(ctx context.Context, runID uuid.UUID) ([]ExportRow, error)
}

// ExportRow is one line of a run export: the response joined with its
// question, model target, and analysis signal.
type ExportRow struct {
	Question  string
	Model     string
	Provider  string
	Answer    string
	Citations []string
	Sentiment *float64
	CostUSD   float64
}
