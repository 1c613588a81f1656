// Package handler implements the HTTP endpoints for runs and health.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rahulkarwa/promptpoll/internal/alloc"
	"github.com/rahulkarwa/promptpoll/internal/api/response"
	"github.com/rahulkarwa/promptpoll/internal/cache"
	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/internal/export"
	"github.com/rahulkarwa/promptpoll/internal/render"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// progressTTL keeps progress polls cheap without the counts going visibly
// stale mid-run.
const progressTTL = 3 * time.Second

type createRunRequest struct {
	SurveyID          uuid.UUID         `json:"survey_id"`
	ModelTargetIDs    []uuid.UUID       `json:"model_target_ids"`
	VariableOverrides map[string]string `json:"variable_overrides"`
}

type createRunResponse struct {
	Run      *models.SurveyRun `json:"run"`
	Estimate alloc.Estimate    `json:"estimate"`
	JobCount int               `json:"job_count"`
}

// NewCreateRunHandler submits a run: estimate, enforce the cost ceiling
// against the estimate, allocate the job set, persist it, and queue the run.
func NewCreateRunHandler(st store.Store, limits config.LimitsConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON", err.Error())
			return
		}
		if req.SurveyID == uuid.Nil || len(req.ModelTargetIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "survey_id and model_target_ids are required", nil)
			return
		}

		ctx := r.Context()

		if _, err := st.GetSurvey(ctx, req.SurveyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Survey not found", nil)
				return
			}
			internalError(w, logger, "load survey", err)
			return
		}

		questions, err := st.ListQuestions(ctx, req.SurveyID)
		if err != nil {
			internalError(w, logger, "list questions", err)
			return
		}
		if len(questions) == 0 {
			response.Error(w, http.StatusUnprocessableEntity, "EMPTY_SURVEY", "Survey has no questions to run", nil)
			return
		}

		targets, err := st.ListModelTargets(ctx, req.ModelTargetIDs)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusUnprocessableEntity, "UNKNOWN_MODEL_TARGET",
					"One or more model targets do not exist", nil)
				return
			}
			internalError(w, logger, "list model targets", err)
			return
		}
		if len(targets) != len(req.ModelTargetIDs) {
			response.Error(w, http.StatusUnprocessableEntity, "UNKNOWN_MODEL_TARGET",
				"One or more model targets do not exist", nil)
			return
		}

		variables, err := st.ListVariables(ctx, req.SurveyID)
		if err != nil {
			internalError(w, logger, "list variables", err)
			return
		}
		defaults := make(map[string]string, len(variables))
		for _, v := range variables {
			defaults[v.Name] = v.DefaultValue
		}
		vars := render.Merge(defaults, req.VariableOverrides)

		estimate := alloc.EstimateRun(len(questions), targets, limits.AvgInputTokens, limits.AvgOutputTokens)
		if estimate.TotalCostUSD > limits.MaxEstimatedCostUSD || estimate.TotalTokens > limits.MaxEstimatedTokens {
			response.Error(w, http.StatusUnprocessableEntity, "ESTIMATE_OVER_LIMIT",
				"Estimated run cost exceeds the configured ceiling",
				map[string]any{
					"estimated_cost_usd": estimate.TotalCostUSD,
					"estimated_tokens":   estimate.TotalTokens,
					"max_cost_usd":       limits.MaxEstimatedCostUSD,
					"max_tokens":         limits.MaxEstimatedTokens,
				})
			return
		}

		now := time.Now().UTC()
		run := &models.SurveyRun{
			ID:                uuid.New(),
			SurveyID:          req.SurveyID,
			Status:            models.RunStatusDraft,
			ModelTargetIDs:    req.ModelTargetIDs,
			VariableOverrides: req.VariableOverrides,
			EstimatedCostUSD:  estimate.TotalCostUSD,
			EstimatedTokens:   estimate.TotalTokens,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := st.CreateRun(ctx, run); err != nil {
			internalError(w, logger, "create run", err)
			return
		}

		jobs := alloc.Allocate(run.ID, targets, questions, vars)
		inserted, err := st.CreateJobs(ctx, jobs)
		if err != nil {
			internalError(w, logger, "create jobs", err)
			return
		}
		if err := st.MarkRunQueued(ctx, run.ID); err != nil {
			internalError(w, logger, "queue run", err)
			return
		}
		run.Status = models.RunStatusQueued

		logger.Info("run submitted",
			"run_id", run.ID,
			"survey_id", req.SurveyID,
			"models", len(targets),
			"questions", len(questions),
			"jobs", inserted,
			"estimated_cost_usd", estimate.TotalCostUSD)

		response.Created(w, createRunResponse{Run: run, Estimate: estimate, JobCount: inserted})
	}
}

type runWithProgress struct {
	Run      *models.SurveyRun   `json:"run"`
	Progress *models.RunProgress `json:"progress"`
}

// NewGetRunHandler returns the run with a progress snapshot. Progress comes
// from the cache when fresh; the database roll-up backs a miss.
func NewGetRunHandler(st store.Store, ca cache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
				return
			}
			internalError(w, logger, "load run", err)
			return
		}

		var progress *models.RunProgress
		if ca != nil {
			if cached, found, err := ca.GetRunProgress(ctx, runID); err == nil && found {
				progress = cached
			}
		}
		if progress == nil {
			progress, err = st.RunProgress(ctx, runID)
			if err != nil {
				internalError(w, logger, "load run progress", err)
				return
			}
			if ca != nil {
				if err := ca.SetRunProgress(ctx, progress, progressTTL); err != nil {
					logger.Debug("cache run progress", "run_id", runID, "error", err)
				}
			}
		}

		response.JSON(w, runWithProgress{Run: run, Progress: progress})
	}
}

// NewCancelRunHandler cancels a run and its not-yet-started jobs. Jobs
// already running finish on their own and become moot.
func NewCancelRunHandler(st store.Store, ca cache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		cancelled, err := st.CancelRun(ctx, runID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
				return
			}
			internalError(w, logger, "cancel run", err)
			return
		}
		if !cancelled {
			response.Error(w, http.StatusConflict, "RUN_ALREADY_TERMINAL",
				"Run has already completed, failed, or been cancelled", nil)
			return
		}

		if ca != nil {
			if err := ca.Delete(ctx, cache.RunProgressKey(runID)); err != nil {
				logger.Debug("invalidate run progress", "run_id", runID, "error", err)
			}
		}

		logger.Info("run cancelled", "run_id", runID)
		response.JSON(w, map[string]any{"run_id": runID, "status": models.RunStatusCancelled})
	}
}

// NewExportRunHandler streams the run's results as a CSV download.
func NewExportRunHandler(st store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		if _, err := st.GetRun(ctx, runID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
				return
			}
			internalError(w, logger, "load run", err)
			return
		}

		rows, err := st.ExportRows(ctx, runID)
		if err != nil {
			internalError(w, logger, "load export rows", err)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+runID.String()+".csv"))
		if err := export.WriteCSV(w, rows); err != nil {
			logger.Error("stream csv export", "run_id", runID, "error", err)
		}
	}
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_RUN_ID", "Run ID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func internalError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	logger.Error(op, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
