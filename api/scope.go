package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
)

// NotFoundError maps to a 404 response.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func notFound(resource string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// ConflictError maps to a 409 response.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// handler is a request handler running inside an open session. Returning
// nil means the handler has written its response and the session commits.
type handler func(s storage.Session, w http.ResponseWriter, r *http.Request) error

// protocolStatus classifies well-formed request failures. Anything it does
// not recognize is an internal error.
func protocolStatus(err error) (int, bool) {
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, true
	}
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, true
	}
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, true
	}
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound, true
	}
	return 0, false
}

// scope wraps a handler into the transactional request scope. The session
// commits on success and on protocol errors, so side effects recorded
// before a 404 or 409 survive; it rolls back on unexpected errors. The
// session is invalidated whatever happens.
func (a *API) scope(h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		s, err := a.store.Begin(r.Context())
		if err != nil {
			rlog.WithError(err).Error("cannot open storage session")
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		defer s.Invalidate()

		err = h(s, w, r)
		if err == nil {
			if err := s.Commit(); err != nil {
				rlog.WithError(err).Error("commit failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		if status, ok := protocolStatus(err); ok {
			if err := s.Commit(); err != nil {
				rlog.WithError(err).Error("commit failed")
			}
			writeError(w, rlog, status, err)
			return
		}
		if err := s.Rollback(); err != nil {
			rlog.WithError(err).Error("rollback failed")
		}
		rlog.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, rlog *logrus.Entry, status int, err error) {
	rlog.WithField("status", status).Info(err.Error())
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		http.Error(w, "cannot marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// pathID parses the named route variable as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, validation.Invalid("%s is not a valid uuid: %s", name, raw)
	}
	return id, nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// clusterScopeFromRequest parses the tri-state cluster_id query filter.
func clusterScopeFromRequest(r *http.Request) (storage.ClusterScope, error) {
	values, present := r.URL.Query()["cluster_id"]
	value := ""
	if present {
		value = values[0]
	}
	scope, err := storage.ClusterScopeFromParam(value, present)
	if err != nil {
		return storage.ClusterScope{}, validation.Invalid("cluster_id is not a valid uuid: %s", value)
	}
	return scope, nil
}
