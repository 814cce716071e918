package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolforum/internal/config"
	"schoolforum/internal/models"
	"schoolforum/internal/testutil"
	"schoolforum/internal/thread"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type mockForum struct {
	mock.Mock
}

func (m *mockForum) GetPostByID(ctx context.Context, userID, postID string) (*models.Post, error) {
	args := m.Called(ctx, userID, postID)
	post, _ := args.Get(0).(*models.Post)
	return post, args.Error(1)
}

func (m *mockForum) GetCommentByID(ctx context.Context, userID, commentID string, depth int) (*models.Comment, error) {
	args := m.Called(ctx, userID, commentID, depth)
	comment, _ := args.Get(0).(*models.Comment)
	return comment, args.Error(1)
}

func (m *mockForum) UpsertComment(ctx context.Context, userID string, comment *models.Comment, media []models.MediaItem) error {
	return m.Called(ctx, userID, comment, media).Error(0)
}

func (m *mockForum) DeleteComment(ctx context.Context, userID, commentID string) error {
	return m.Called(ctx, userID, commentID).Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:                  testSecret,
		Env:                        "test",
		CommentFetchDepth:          1,
		ViewIdleTimeoutMinutes:     30,
		MutationRateLimitPerMinute: 30,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, forum thread.Forum, rdb *redis.Client) *fiber.App {
	t.Helper()
	srv, err := NewServerWithDeps(cfg, forum, rdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.views.Shutdown(context.Background()) })
	return srv.NewApp()
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func seededForum() *testutil.FakeForum {
	forum := testutil.NewFakeForum()
	forum.AddPostWithID("P")
	forum.AddCommentWithID("1", "P", "")
	forum.AddCommentWithID("2", "P", "")
	forum.AddCommentWithID("3", "P", "1")
	forum.AddCommentWithID("4", "P", "1")
	return forum
}

func TestViewLifecycle(t *testing.T) {
	forum := seededForum()
	app := newTestApp(t, testConfig(), forum, nil)
	token := tokenFor(t, "student-1")

	resp := call(t, app, http.MethodPost, "/api/posts/P/views", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	opened := decode[ViewResponse](t, resp)
	require.NotEmpty(t, opened.ViewID)
	assert.Equal(t, 4, opened.Post.TotalChildrenCount)
	assert.Equal(t, "student-1", forum.LastUserID())
	base := "/api/views/" + opened.ViewID

	resp = call(t, app, http.MethodPost, base+"/expand", token, ExpandRequest{Chain: []int{0}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	expanded := decode[ViewResponse](t, resp)
	assert.Equal(t, []string{"1"}, expanded.Expanded)
	require.Len(t, expanded.Post.Children[0].Children, 2)

	resp = call(t, app, http.MethodPost, base+"/comments", token, thread.Submission{
		Body:      "Replying to the first comment",
		ReplyToID: "1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replied := decode[ViewResponse](t, resp)
	assert.Equal(t, 5, replied.Post.TotalChildrenCount)
	assert.Len(t, replied.Post.Children[0].Children, 3)
	assert.Equal(t, 3, replied.Post.Children[0].TotalChildrenCount)
	assert.Equal(t, []string{"1"}, replied.Expanded, "expansion survives the refresh")

	resp = call(t, app, http.MethodDelete, base+"/comments/2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[ViewResponse](t, resp)
	assert.Equal(t, 4, deleted.Post.TotalChildrenCount)
	assert.Len(t, deleted.Post.Children, 1)

	resp = call(t, app, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, opened.ViewID, decode[ViewResponse](t, resp).ViewID)

	resp = call(t, app, http.MethodDelete, base, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = call(t, app, http.MethodGet, base, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewErrors(t *testing.T) {
	forum := seededForum()
	app := newTestApp(t, testConfig(), forum, nil)
	token := tokenFor(t, "student-1")

	resp := call(t, app, http.MethodPost, "/api/posts/P/views", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := "/api/views/" + decode[ViewResponse](t, resp).ViewID

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"missing token", http.MethodGet, base, "", nil, http.StatusUnauthorized, ""},
		{"someone else's view", http.MethodGet, base, tokenFor(t, "student-2"), nil, http.StatusForbidden, models.CodeUnauthorized},
		{"unknown view", http.MethodGet, "/api/views/nope", token, nil, http.StatusNotFound, models.CodeNotFound},
		{"unknown post", http.MethodPost, "/api/posts/missing/views", token, nil, http.StatusBadGateway, models.CodeFetchFailure},
		{"chain out of range", http.MethodPost, base + "/expand", token, ExpandRequest{Chain: []int{5}}, http.StatusBadRequest, models.CodeOutOfRange},
		{"empty chain", http.MethodPost, base + "/expand", token, ExpandRequest{}, http.StatusBadRequest, models.CodeOutOfRange},
		{"blank body", http.MethodPost, base + "/comments", token, thread.Submission{Body: " \n"}, http.StatusBadRequest, models.CodeValidation},
		{"reply to unknown comment", http.MethodPost, base + "/comments", token, thread.Submission{Body: "hi", ReplyToID: "zzz"}, http.StatusNotFound, models.CodeNotFound},
		{"delete unloaded comment", http.MethodDelete, base + "/comments/3", token, nil, http.StatusNotFound, models.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, app, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[models.ErrorResponse](t, resp).Code)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, base+"/expand", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUpstreamFailuresMapToBadGateway(t *testing.T) {
	forum := new(mockForum)
	post := &models.Post{
		ID:                 "P",
		TotalChildrenCount: 1,
		Children:           []*models.Comment{{ID: "c1", ParentID: "P", ParentPostID: "P", TotalChildrenCount: 2}},
	}
	forum.On("GetPostByID", mock.Anything, "student-1", "P").Return(post, nil)
	forum.On("GetCommentByID", mock.Anything, "student-1", "c1", 1).Return(nil, errors.New("connection reset"))
	forum.On("UpsertComment", mock.Anything, "student-1", mock.AnythingOfType("*models.Comment"), mock.Anything).
		Return(errors.New("forum unavailable"))

	app := newTestApp(t, testConfig(), forum, nil)
	token := tokenFor(t, "student-1")

	resp := call(t, app, http.MethodPost, "/api/posts/P/views", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := "/api/views/" + decode[ViewResponse](t, resp).ViewID

	resp = call(t, app, http.MethodPost, base+"/expand", token, ExpandRequest{Chain: []int{0}})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, models.CodeFetchFailure, body.Code)
	assert.Contains(t, body.Details, "connection reset")

	resp = call(t, app, http.MethodPost, base+"/comments", token, thread.Submission{Body: "hello"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, models.CodeMutationFailure, decode[models.ErrorResponse](t, resp).Code)

	resp = call(t, app, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[ViewResponse](t, resp)
	assert.Empty(t, view.Expanded)
	assert.Empty(t, view.Processing, "a failed fetch clears the in-flight marker")

	forum.AssertExpectations(t)
}

func TestStrictAddressingPanicsIntoServerError(t *testing.T) {
	cfg := testConfig()
	cfg.StrictAddressing = true
	app := newTestApp(t, cfg, seededForum(), nil)
	token := tokenFor(t, "student-1")

	resp := call(t, app, http.MethodPost, "/api/posts/P/views", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := "/api/views/" + decode[ViewResponse](t, resp).ViewID

	resp = call(t, app, http.MethodPost, base+"/expand", token, ExpandRequest{Chain: []int{9}})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The view is still usable afterwards.
	resp = call(t, app, http.MethodPost, base+"/expand", token, ExpandRequest{Chain: []int{0}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMutationRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig()
	cfg.Env = "production"
	cfg.MutationRateLimitPerMinute = 1
	app := newTestApp(t, cfg, seededForum(), rdb)
	token := tokenFor(t, "student-1")

	resp := call(t, app, http.MethodPost, "/api/posts/P/views", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := "/api/views/" + decode[ViewResponse](t, resp).ViewID

	resp = call(t, app, http.MethodPost, base+"/comments", token, thread.Submission{Body: "first"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = call(t, app, http.MethodPost, base+"/comments", token, thread.Submission{Body: "second"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Toggling is not a mutation.
	resp = call(t, app, http.MethodPost, base+"/expand", token, ExpandRequest{Chain: []int{0}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Run("ready with redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		app := newTestApp(t, testConfig(), seededForum(), rdb)

		resp := call(t, app, http.MethodGet, "/health/ready", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("not ready without redis", func(t *testing.T) {
		app := newTestApp(t, testConfig(), seededForum(), nil)
		resp := call(t, app, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("live and metrics", func(t *testing.T) {
		app := newTestApp(t, testConfig(), seededForum(), nil)
		assert.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/health/live", "", nil).StatusCode)

		resp := call(t, app, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "schoolforum_open_post_views")
	})
}
