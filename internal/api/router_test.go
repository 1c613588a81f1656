package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rahulkarwa/promptpoll/internal/api"
	"github.com/stretchr/testify/assert"
)

func TestRouter_RoutesWired(t *testing.T) {
	var hits []string
	record := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, name)
			w.WriteHeader(http.StatusOK)
		}
	}

	router := api.NewRouter(api.Dependencies{
		HealthHandler:    record("health"),
		CreateRunHandler: record("create"),
		GetRunHandler:    record("get"),
		CancelRunHandler: record("cancel"),
		ExportRunHandler: record("export"),
	})

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/health"},
		{http.MethodPost, "/api/v1/runs"},
		{http.MethodGet, "/api/v1/runs/5bfe6c8a-9f2d-4a3e-8c1b-0d7e6f5a4b3c"},
		{http.MethodPost, "/api/v1/runs/5bfe6c8a-9f2d-4a3e-8c1b-0d7e6f5a4b3c/cancel"},
		{http.MethodGet, "/api/v1/runs/5bfe6c8a-9f2d-4a3e-8c1b-0d7e6f5a4b3c/export"},
	}
	for _, req := range requests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(req.method, req.path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s", req.method, req.path)
	}
	assert.Equal(t, []string{"health", "create", "get", "cancel", "export"}, hits)
}

func TestRouter_MissingHandlerReturns501(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_IMPLEMENTED")
}

func TestRouter_UnknownRoute404(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
