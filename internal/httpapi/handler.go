// Package httpapi exposes the users table over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arllen133/userd/internal/db"
	"github.com/arllen133/userd/internal/users"
	"github.com/gorilla/mux"
)

// Handler serves the five user operations. Every database call goes
// through guard, so statements never overlap.
type Handler struct {
	guard  *db.Guard
	logger *slog.Logger
}

func NewHandler(guard *db.Guard, logger *slog.Logger) *Handler {
	return &Handler{guard: guard, logger: logger}
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := statementContext(r)
	h.logger.InfoContext(ctx, "retrieving list of users")

	var list []users.User
	err := h.guard.Do(ctx, func(q db.Querier) error {
		var err error
		list, err = users.NewRepository(q).List(ctx)
		return err
	})
	if err != nil {
		h.serverError(w, r, "Failed to retrieve users", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, list)
}

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := statementContext(r)

	u, err := decodeUser(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid user: "+err.Error())
		return
	}

	h.logger.InfoContext(ctx, "creating user")
	err = h.guard.Do(ctx, func(q db.Querier) error {
		return users.NewRepository(q).Create(ctx, &u)
	})
	if err != nil {
		h.serverError(w, r, "Failed to insert into DB", err)
		return
	}

	h.logger.InfoContext(ctx, "user created", "id", *u.ID)
	writeJSON(w, h.logger, http.StatusCreated, u)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := statementContext(r)

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "retrieving user", "id", id)
	var u *users.User
	err := h.guard.Do(ctx, func(q db.Querier) error {
		var err error
		u, err = users.NewRepository(q).Get(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, users.ErrNotFound):
		h.logger.InfoContext(ctx, "user not found", "id", id)
		writeText(w, http.StatusNotFound, fmt.Sprintf("User %d not found", id))
	case err != nil:
		h.serverError(w, r, fmt.Sprintf("Failed to retrieve user %d", id), err)
	default:
		writeJSON(w, h.logger, http.StatusOK, u)
	}
}

// UpdateUser handles PUT /users/{id}. The response echoes the path id,
// whatever id the body carried.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := statementContext(r)

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	u, err := decodeUser(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid user: "+err.Error())
		return
	}

	h.logger.InfoContext(ctx, "updating user", "id", id)
	err = h.guard.Do(ctx, func(q db.Querier) error {
		return users.NewRepository(q).Update(ctx, id, &u)
	})
	switch {
	case errors.Is(err, users.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case err != nil:
		h.serverError(w, r, fmt.Sprintf("Failed to update user %d", id), err)
	default:
		writeJSON(w, h.logger, http.StatusOK, u)
	}
}

// DeleteUser handles DELETE /users/{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := statementContext(r)

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "deleting user", "id", id)
	err := h.guard.Do(ctx, func(q db.Querier) error {
		return users.NewRepository(q).Delete(ctx, id)
	})
	switch {
	case errors.Is(err, users.ErrNotFound):
		writeText(w, http.StatusNotFound, fmt.Sprintf("User %d not found", id))
	case err != nil:
		h.serverError(w, r, "SQL query failed", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// pathID parses the {id} route variable as a 32-bit integer, the range of
// a SERIAL column. A malformed id is answered with 500, not 400.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		h.logger.WarnContext(r.Context(), "unparseable user id", "id", raw, "request_id", RequestIDFromContext(r.Context()))
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("Can't parse %s as an id", raw))
		return 0, false
	}
	return id, true
}

// serverError logs err and answers 500 with msg, which must not contain err.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeText(w, http.StatusInternalServerError, msg)
}

// decodeUser reads a user from the request body, which must hold exactly
// one JSON value. The id is always cleared; callers take it from the path
// or the database.
func decodeUser(r *http.Request) (users.User, error) {
	var u users.User
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&u); err != nil {
		return users.User{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return users.User{}, errors.New("malformed JSON: trailing data after object")
	}
	u.ID = nil
	if err := u.Validate(); err != nil {
		return users.User{}, err
	}
	return u, nil
}

// statementContext detaches the statement from client disconnects: once a
// request holds the session its statement runs to completion.
func statementContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
