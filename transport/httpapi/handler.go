/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package httpapi exposes the dynamic entity service over HTTP under
// /dynamic/{entity}.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/morph"
	"github.com/tomoncle/morph/database"
	"github.com/tomoncle/morph/repository"
	"github.com/tomoncle/morph/types"
	"github.com/tomoncle/morph/utils"
)

const maxBodyBytes = 1 << 20

// HealthFunc reports whether the backing store is usable.
type HealthFunc func(ctx context.Context) *database.HealthStatus

// StatsFunc reports connection pool statistics.
type StatsFunc func() *database.DBStats

type Options struct {
	AllowedOrigins []string
	Health         HealthFunc
	Stats          StatsFunc
	Logger         *logrus.Logger
}

type healthResponse struct {
	*database.HealthStatus
	Stats *database.DBStats `json:"stats,omitempty"`
}

type handler struct {
	service morph.Service
	health  HealthFunc
	stats   StatsFunc
	logger  *logrus.Logger
	mux     *http.ServeMux
}

// NewHandler routes the CRUD endpoints of service and wraps them with CORS
// and request logging.
func NewHandler(service morph.Service, opts Options) http.Handler {
	h := &handler{
		service: service,
		health:  opts.Health,
		stats:   opts.Stats,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
	}
	if h.logger == nil {
		h.logger = utils.GetLogger("HTTP")
	}
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /dynamic/{entity}", h.list)
	h.mux.HandleFunc("GET /dynamic/{entity}/select-options", h.selectOptions)
	h.mux.HandleFunc("GET /dynamic/{entity}/{id}", h.get)
	h.mux.HandleFunc("POST /dynamic/{entity}", h.create)
	h.mux.HandleFunc("PUT /dynamic/{entity}/{id}", h.update)
	h.mux.HandleFunc("DELETE /dynamic/{entity}/{id}", h.delete)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h.logRequests(h.mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request served")
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := &database.HealthStatus{Healthy: true, Connected: true, LastCheckTime: time.Now()}
	if h.health != nil {
		if status = h.health(r.Context()); status == nil {
			status = &database.HealthStatus{LastError: "no health status"}
		}
	}
	resp := healthResponse{HealthStatus: status}
	if h.stats != nil {
		resp.Stats = h.stats()
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAll(r.Context(), r.PathValue("entity"), types.QueryParamsFromURL(r.URL.Query()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) selectOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.service.ListSelectOptions(r.Context(), r.PathValue("entity"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, err := h.service.GetOne(r.Context(), r.PathValue("entity"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}
	result, err := h.service.Create(r.Context(), r.PathValue("entity"), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}
	result, err := h.service.Update(r.Context(), r.PathValue("entity"), id, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Delete(r.Context(), r.PathValue("entity"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id: "+r.PathValue("id"))
		return 0, false
	}
	return id, true
}

func readPayload(w http.ResponseWriter, r *http.Request) (types.Record, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return nil, false
		}
		writeMessage(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	payload := types.Record{}
	if len(body) == 0 {
		return payload, true
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil, false
	}
	if payload == nil {
		payload = types.Record{}
	}
	return payload, true
}

// statusOf maps service and storage errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, morph.ErrEntityNotFound), errors.Is(err, morph.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidRelationValue):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNoUpdateValues):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	if ok, kind := database.IsSqlError(err); ok {
		switch {
		case kind == database.DuplicateKeyErr:
			return http.StatusConflict
		case kind.IsConstraintViolation():
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("request failed")
		writeMessage(w, status, http.StatusText(status))
		return
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
