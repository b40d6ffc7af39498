package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smr/internal/app"
	"smr/internal/health"
	"smr/internal/logging"
	"smr/internal/middleware"
	"smr/internal/test"
)

const testPassword = "ValidPass123!"

type testServer struct {
	app       *fiber.App
	db        *gorm.DB
	container *app.Container
	reviewer  string
	admin     string
}

func newTestServer(t *testing.T, inspector TaskInspector) *testServer {
	t.Helper()

	db := test.GetTestDB(t)
	cfg := test.NewTestConfig(t)
	container, err := app.New(cfg, db, app.Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	test.CreateTestUser(t, db, "reviewer", testPassword, false)
	test.CreateTestUser(t, db, "admin", testPassword, true)

	checker := health.NewChecker(0).Register("db", health.PingerFunc(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}), 0)

	h := &Handlers{
		Auth:    NewAuthHandler(container.Auth),
		Uploads: NewUploadHandler(container.Store, container.Pipeline, container.Resolver, container.Committer, container.Journal),
		Charts:  NewChartHandler(container.Store.Charts()),
		Artists: NewArtistHandler(container.Store.Artists()),
		Health:  NewHealthHandler(checker),
		Metrics: NewMetricsHandler(),
	}
	if inspector != nil {
		h.DLQ = NewDLQHandler(inspector)
	}

	fiberApp := fiber.New()
	fiberApp.Use(middleware.RequestID(), middleware.RequestContext())
	RegisterRoutes(fiberApp, h, middleware.NewAuthMiddleware(container.Auth), cfg.RateLimit)

	s := &testServer{app: fiberApp, db: db, container: container}
	s.reviewer = s.login(t, "reviewer")
	s.admin = s.login(t, "admin")
	return s
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	token, _, err := s.container.Auth.Login(context.Background(), username, testPassword)
	require.NoError(t, err)
	return token.AccessToken
}

func (s *testServer) do(t *testing.T, req *http.Request, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func (s *testServer) get(t *testing.T, path, token string) (*http.Response, map[string]interface{}) {
	return s.do(t, httptest.NewRequest("GET", path, nil), token)
}

func (s *testServer) postJSON(t *testing.T, path, token string, payload interface{}) (*http.Response, map[string]interface{}) {
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req, token)
}

func (s *testServer) upload(t *testing.T, token, filename, content string, fields map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(t, req, token)
}

func number(t *testing.T, v interface{}) int64 {
	t.Helper()
	f, ok := v.(float64)
	require.True(t, ok, "expected a number, got %T", v)
	return int64(f)
}
