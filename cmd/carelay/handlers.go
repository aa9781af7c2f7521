package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "carelay/internal/errors"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/internal/tracing"
	"carelay/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	defaultForwardsLimit = 50
	maxForwardsLimit     = 500
	maxRequestBodyBytes  = 64 << 10
)

// settingsResponse mirrors the popup's view: the age gate in minutes.
type settingsResponse struct {
	WatchedChats         []string `json:"watchedChats"`
	MaxMessageAgeMinutes int64    `json:"maxMessageAgeMinutes"`
}

func toSettingsResponse(s models.RuntimeSettings) settingsResponse {
	return settingsResponse{WatchedChats: s.WatchedChats, MaxMessageAgeMinutes: s.MaxMessageAge / 60}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Page    struct {
		Connected bool   `json:"connected"`
		Available bool   `json:"available"`
		Breaker   string `json:"breaker,omitempty"`
	} `json:"page"`
	Queued    int `json:"queued"`
	Processed int `json:"processed"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp healthResponse
		resp.Status = "ok"
		resp.Version = versioning.Version
		if s.deps.Agent != nil {
			st := s.deps.Agent.Status()
			resp.Page.Connected = st.Connected
			resp.Page.Available = st.Available
			resp.Page.Breaker = st.Breaker
		}
		if s.deps.Background != nil {
			resp.Queued = s.deps.Background.Queue().Len()
			resp.Processed = s.deps.Background.Ledger().Len()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, versioning.Info())
	}
}

func (s *Server) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := service.ReadSettings(r.Context(), s.deps.Store)
		if err != nil {
			s.fail(w, r, err, "Failed to read settings")
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(settings))
	}
}

func (s *Server) handlePutSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update models.SettingsUpdate
		if err := decodeBody(r, &update); err != nil {
			writeError(w, r, err)
			return
		}

		settings, err := service.WriteSettings(r.Context(), s.deps.Store, update)
		if err != nil {
			s.fail(w, r, err, "Failed to write settings")
			return
		}
		if s.deps.Agent != nil {
			s.deps.Agent.RefreshSettings()
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			service.LogFieldCount:     len(settings.WatchedChats),
			"maxMessageAge":           settings.MaxMessageAge,
		}).Info("Runtime settings updated")
		writeJSON(w, http.StatusOK, toSettingsResponse(settings))
	}
}

func (s *Server) handleQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := s.deps.Background.Queue()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"processing": q.Processing(),
			"items":      q.Snapshot(),
		})
	}
}

func (s *Server) handleLedger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Background.Ledger().Snapshot())
	}
}

func (s *Server) handlePruneLedger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := s.deps.Background.Prune(r.Context())
		if err != nil {
			s.fail(w, r, err, "Failed to prune ledger")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

type forwardAuditResponse struct {
	RequestID  string    `json:"requestId"`
	CA         string    `json:"ca"`
	Chain      string    `json:"chain"`
	SourceChat string    `json:"sourceChat"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleForwards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Forwards == nil {
			writeError(w, r, apperrors.New(apperrors.ErrCodeUnsupported, "forward audit requires the sqlite backend"))
			return
		}

		limit := defaultForwardsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxForwardsLimit {
				writeError(w, r, apperrors.NewValidationError("limit", raw, "limit must be between 1 and 500"))
				return
			}
			limit = n
		}

		rows, err := s.deps.Forwards.RecentForwards(r.Context(), limit)
		if err != nil {
			s.fail(w, r, err, "Failed to list forwards")
			return
		}
		out := make([]forwardAuditResponse, 0, len(rows))
		for _, a := range rows {
			out = append(out, forwardAuditResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Background.TriggerScan(r.Context()); err != nil {
			s.fail(w, r, err, "Failed to trigger scan")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	}
}

func (s *Server) handleFlags() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Flags.ListFlags())
	}
}

func (s *Server) handleSetFlag() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if body.Enabled == nil {
			writeError(w, r, apperrors.NewValidationError("enabled", "", "enabled is required"))
			return
		}
		if err := s.deps.Flags.Set(name, *body.Enabled); err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeTargetNotFound, "unknown feature flag"))
			return
		}
		s.logger.WithField("flag", name).WithField("enabled", *body.Enabled).Info("Feature flag updated")
		w.WriteHeader(http.StatusNoContent)
	}
}

// fail logs an unexpected handler error and writes the API error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := s.logger.WithField(service.LogFieldRequestID, tracing.GetRequestID(r.Context()))
	if apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
		apperrors.LogError(log, err, msg)
	} else {
		apperrors.LogWarn(log, err, msg)
	}
	writeError(w, r, err)
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid JSON body")
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, apperrors.HTTPStatusCode(err), apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
