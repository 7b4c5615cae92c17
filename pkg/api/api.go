// Package api exposes the query orchestration core over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querent-io/querent/pkg/model"
	"github.com/querent-io/querent/pkg/querier"
	"github.com/querent-io/querent/pkg/queryerror"
)

// API wires the querier into an HTTP router.
type API struct {
	querier *querier.Querier
	logger  log.Logger
}

// New creates an API around the given querier.
func New(q *querier.Querier, logger log.Logger) *API {
	return &API{querier: q, logger: logger}
}

// RegisterRoutes installs the HTTP routes on the router.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/ready", a.ready).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/query_range", a.queryRange).Methods(http.MethodPost)
}

func (a *API) ready(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type queryRangeResponse struct {
	Status string            `json:"status"`
	Data   *queryRangeData   `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

type queryRangeData struct {
	ResultType string          `json:"resultType"`
	Result     []*model.Result `json:"result"`
}

func (a *API) queryRange(w http.ResponseWriter, r *http.Request) {
	queryID := uuid.NewString()
	logger := log.With(a.logger, "query_id", queryID)

	var req model.QueryRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err, nil)
		return
	}

	results, errQueriesByName, err := a.querier.QueryRange(r.Context(), &req, nil)
	if err != nil {
		level.Error(logger).Log("msg", "error in query range", "err", err)
		status := http.StatusInternalServerError
		if queryerror.IsValidationError(err) || queryerror.IsTranslationError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err, errQueriesByName)
		return
	}

	level.Debug(logger).Log("msg", "query range complete", "results", len(results))
	writeJSON(w, http.StatusOK, &queryRangeResponse{
		Status: "success",
		Data: &queryRangeData{
			ResultType: string(req.CompositeQuery.PanelType),
			Result:     results,
		},
	})
}

func writeError(w http.ResponseWriter, status int, err error, errQueriesByName map[string]error) {
	resp := &queryRangeResponse{
		Status: "error",
		Error:  err.Error(),
	}
	if len(errQueriesByName) > 0 {
		resp.Errors = make(map[string]string, len(errQueriesByName))
		for name, qErr := range errQueriesByName {
			resp.Errors[name] = qErr.Error()
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
