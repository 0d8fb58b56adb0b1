package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/arllen133/userd/internal/db"
	"github.com/arllen133/userd/internal/httpapi"
	"github.com/arllen133/userd/internal/users"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func setupTestRouter(t *testing.T, opts ...httpapi.Option) http.Handler {
	t.Helper()

	ctx := context.Background()
	session, err := db.Open(ctx, db.SQLite, ":memory:")
	require.NoError(t, err, "failed to open database")
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, users.EnsureTable(ctx, session))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpapi.NewRouter(httpapi.NewHandler(db.NewGuard(session), logger), logger, opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) users.User {
	t.Helper()

	var u users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u), "body: %s", rec.Body.String())
	return u
}

func createUser(t *testing.T, h http.Handler, name, email string) int64 {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/users", fmt.Sprintf(`{"name":%q,"email":%q}`, name, email))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	u := decode(t, rec)
	require.NotNil(t, u.ID)
	return *u.ID
}

func TestUserLifecycle(t *testing.T) {
	h := setupTestRouter(t)

	rec := do(t, h, http.MethodPost, "/users", `{"name":"Ann","email":"ann@x.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":1,"name":"Ann","email":"ann@x.com"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/users/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"name":"Ann","email":"ann@x.com"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/users/1", `{"id":7,"name":"Ann B","email":"ann@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"name":"Ann B","email":"ann@x.com"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Ann B","email":"ann@x.com"}]`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/users/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/users/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User 1 not found", rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/users/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User 1 not found", rec.Body.String())
}

func TestListEmpty(t *testing.T) {
	h := setupTestRouter(t)

	rec := do(t, h, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNeverInsertedIDIsNotFound(t *testing.T) {
	h := setupTestRouter(t)
	createUser(t, h, "Ann", "ann@x.com")

	rec := do(t, h, http.MethodGet, "/users/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User 99 not found", rec.Body.String())

	rec = do(t, h, http.MethodPut, "/users/99", `{"name":"n","email":"e"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/users/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User 99 not found", rec.Body.String())
}

func TestUnparseableIDIsServerError(t *testing.T) {
	h := setupTestRouter(t)

	for _, raw := range []string{"abc", "1.5", "4294967296"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			t.Run(method+" "+raw, func(t *testing.T) {
				rec := do(t, h, method, "/users/"+raw, `{"name":"n","email":"e"}`)
				assert.Equal(t, http.StatusInternalServerError, rec.Code)
				assert.Equal(t, "Can't parse "+raw+" as an id", rec.Body.String())
			})
		}
	}
}

func TestInvalidBodyIsBadRequest(t *testing.T) {
	h := setupTestRouter(t)
	id := createUser(t, h, "Ann", "ann@x.com")

	bodies := map[string]string{
		"malformed":     `{"name":`,
		"missing name":  `{"email":"ann@x.com"}`,
		"missing email": `{"name":"Ann"}`,
		"wrong type":    `{"name":1,"email":"ann@x.com"}`,
		"trailing data": `{"name":"a","email":"b"} trailing`,
		"two objects":   `{"name":"a","email":"b"}{"name":"c","email":"d"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/users", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Body.String(), "Invalid user: "), rec.Body.String())

			rec = do(t, h, http.MethodPut, fmt.Sprintf("/users/%d", id), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/users/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann", decode(t, rec).Name)

	rec = do(t, h, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1, "rejected bodies must not reach the database")
}

func TestBodyWithTrailingWhitespaceIsAccepted(t *testing.T) {
	h := setupTestRouter(t)

	rec := do(t, h, http.MethodPost, "/users", "{\"name\":\"a\",\"email\":\"b\"}\n  ")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	h := setupTestRouter(t)

	const n = 50
	ids := make([]int64, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i // per-iteration copy (Go 1.22 loopvar semantics under go 1.21)
		g.Go(func() error {
			body := fmt.Sprintf(`{"name":"user%d","email":"user%d@x.com"}`, i, i)
			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusCreated {
				return fmt.Errorf("create %d: status %d: %s", i, rec.Code, rec.Body.String())
			}
			var u users.User
			if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
				return err
			}
			ids[i] = *u.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	rec := do(t, h, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, n)

	got := make([]int64, 0, n)
	for _, u := range list {
		got = append(got, *u.ID)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, ids, got)
}

func TestListReturnsExactlyLiveRows(t *testing.T) {
	h := setupTestRouter(t)

	a := createUser(t, h, "a", "a@x.com")
	b := createUser(t, h, "b", "b@x.com")
	c := createUser(t, h, "c", "c@x.com")

	rec := do(t, h, http.MethodDelete, fmt.Sprintf("/users/%d", b), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []users.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))

	got := map[int64]string{}
	for _, u := range list {
		got[*u.ID] = u.Name
	}
	assert.Equal(t, map[int64]string{a: "a", c: "c"}, got)
}

func TestRequestIDHeader(t *testing.T) {
	h := setupTestRouter(t)

	rec := do(t, h, http.MethodGet, "/users", "")
	assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set(httpapi.RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(httpapi.RequestIDHeader))
}

func TestUnknownRoutes(t *testing.T) {
	h := setupTestRouter(t)

	rec := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/users/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := setupTestRouter(t, httpapi.WithRateLimit(0.001, 2))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/users", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/users", "").Code)

	rec := do(t, h, http.MethodGet, "/users", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", rec.Body.String())
}

func TestAccessLog(t *testing.T) {
	ctx := context.Background()
	session, err := db.Open(ctx, db.SQLite, ":memory:")
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, users.EnsureTable(ctx, session))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := httpapi.NewRouter(httpapi.NewHandler(db.NewGuard(session), logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	req.Header.Set(httpapi.RequestIDHeader, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "http request" {
			continue
		}
		found = true
		assert.Equal(t, "GET", entry["method"])
		assert.Equal(t, "/users/7", entry["path"])
		assert.EqualValues(t, http.StatusNotFound, entry["status"])
		assert.Equal(t, "req-7", entry["request_id"])
	}
	assert.True(t, found, "no access log entry in %s", buf.String())
}

func TestBackendFailureHidesError(t *testing.T) {
	ctx := context.Background()
	session, err := db.Open(ctx, db.SQLite, ":memory:")
	require.NoError(t, err)
	defer session.Close()

	// table never created: every statement fails
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httpapi.NewRouter(httpapi.NewHandler(db.NewGuard(session), logger), logger)

	tests := []struct {
		method, path, body, want string
	}{
		{http.MethodGet, "/users", "", "Failed to retrieve users"},
		{http.MethodPost, "/users", `{"name":"n","email":"e"}`, "Failed to insert into DB"},
		{http.MethodGet, "/users/3", "", "Failed to retrieve user 3"},
		{http.MethodPut, "/users/3", `{"name":"n","email":"e"}`, "Failed to update user 3"},
		{http.MethodDelete, "/users/3", "", "SQL query failed"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "no such table")
		})
	}
}
