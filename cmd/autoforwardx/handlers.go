package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
	"autoforwardx/internal/tracing"

	"github.com/gorilla/mux"
)

// UserIDHeader carries the caller identity issued by the front end.
const UserIDHeader = "X-User-ID"

func callerFrom(r *http.Request) (models.Caller, error) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		return models.Caller{}, apperrors.NewAuthError("missing " + UserIDHeader + " header")
	}
	return models.Caller{UserID: userID}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField(constants.LogFieldRequestID, tracing.GetRequestID(r.Context())).
			Error("Request failed")
	}
	if retryAfter := apperrors.GetRetryAfter(err); retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	writeJSON(w, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

// decode reads a JSON body, rejecting unknown fields and oversized payloads.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.NewValidationError("body", "", "request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.NewValidationError("body", "", "request body is empty")
		default:
			return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed JSON body").
				WithUserMessage("Request body is not valid JSON: " + err.Error())
		}
	}
	return nil
}

// authed resolves the caller before running fn.
func (s *Server) authed(fn func(w http.ResponseWriter, r *http.Request, caller models.Caller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		fn(w, r, caller)
	}
}

func (s *Server) handleListAccounts() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		accounts, err := s.engine.ListAccounts(r.Context(), caller)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	})
}

func (s *Server) handleAddAccount() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		var spec models.AccountSpec
		if err := decode(w, r, &spec); err != nil {
			s.writeError(w, r, err)
			return
		}
		account, err := s.engine.AddAccount(r.Context(), caller, spec)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	})
}

func (s *Server) handleRemoveAccount() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		if err := s.engine.RemoveAccount(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleAccountHealth() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		record, err := s.engine.AccountHealth(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	})
}

func (s *Server) handleReconnectAccount() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		account, err := s.engine.ReconnectAccount(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, account)
	})
}

func (s *Server) handleListPairs() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		q := r.URL.Query()
		filter := models.PairFilter{
			Status:    models.PairStatus(q.Get("status")),
			AccountID: q.Get("account_id"),
			Shape:     models.PairShape(q.Get("shape")),
		}
		pairs, err := s.engine.ListPairs(r.Context(), caller, filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pairs)
	})
}

func (s *Server) handleCreatePair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		var spec models.PairSpec
		if err := decode(w, r, &spec); err != nil {
			s.writeError(w, r, err)
			return
		}
		pair, err := s.engine.CreatePair(r.Context(), caller, spec)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pair)
	})
}

func (s *Server) handleGetPair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		pair, err := s.engine.GetPair(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	})
}

func (s *Server) handleUpdatePair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		var patch models.PairPatch
		if err := decode(w, r, &patch); err != nil {
			s.writeError(w, r, err)
			return
		}
		pair, err := s.engine.UpdatePair(r.Context(), caller, mux.Vars(r)["id"], patch)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	})
}

func (s *Server) handleDeletePair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		if err := s.engine.DeletePair(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handlePausePair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		pair, err := s.engine.PausePair(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	})
}

func (s *Server) handleResumePair() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		pair, err := s.engine.ResumePair(r.Context(), caller, mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
	})
}

func (s *Server) handleBulk() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		var req models.BulkRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		result, err := s.engine.BulkOp(r.Context(), caller, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func (s *Server) handleListDeliveries() http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, caller models.Caller) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("limit", raw, "limit must be an integer"))
				return
			}
			limit = n
		}
		logs, err := s.engine.ListDeliveries(r.Context(), caller, mux.Vars(r)["id"], limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
	})
}

// handleGetLimits is public: plan limits are not per-user data.
func (s *Server) handleGetLimits() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limits, err := s.engine.GetLimits(mux.Vars(r)["plan"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, limits)
	}
}
