package integration_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mjhen/rosterbridge/internal/app"
	"github.com/mjhen/rosterbridge/internal/config"
	internaldb "github.com/mjhen/rosterbridge/internal/db"
	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/middleware"
	"github.com/mjhen/rosterbridge/internal/migrate"
	"github.com/mjhen/rosterbridge/internal/store"
)

type testEnv struct {
	t       *testing.T
	db      *sql.DB
	app     *app.App
	httpSrv *httptest.Server
	baseURL string
	client  *http.Client
}

func setupIntegrationEnv(t *testing.T) *testEnv {
	t.Helper()

	if strings.TrimSpace(os.Getenv("ROSTER_INTEGRATION")) != "1" {
		t.Skip("set ROSTER_INTEGRATION=1 to run integration tests")
	}

	testDSN := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDSN == "" {
		t.Skip("set TEST_DATABASE_URL to run integration tests")
	}

	dbName, err := databaseNameFromDSN(testDSN)
	require.NoError(t, err, "parse TEST_DATABASE_URL")
	if !strings.Contains(strings.ToLower(dbName), "test") {
		t.Fatalf("refusing to run integration tests against non-test database name %q", dbName)
	}

	ctx := context.Background()
	db, err := internaldb.Open(ctx, testDSN)
	if err != nil && strings.Contains(err.Error(), "SQLSTATE 3D000") {
		require.NoError(t, ensureDatabaseExists(ctx, testDSN, dbName), "create test db %s", dbName)
		db, err = internaldb.Open(ctx, testDSN)
	}
	require.NoError(t, err, "open test db")

	require.NoError(t, resetDatabase(ctx, db), "reset test db")
	require.NoError(t, migrate.RunEmbedded(ctx, db, internaldb.Postgres), "run migrations")

	cfg := config.Config{
		HTTPAddr:       ":0",
		DatabaseURL:    testDSN,
		HeaderScanRows: 20,
		FuzzyThreshold: 0.85,
		StateIDPrefix:  "FL",
		MaxUploadBytes: 8 << 20,
		ImportTimeout:  time.Minute,
	}
	tables, err := fields.Load("")
	require.NoError(t, err)

	application := app.New(cfg, store.NewSQL(db, internaldb.Postgres), tables, zaptest.NewLogger(t))
	httpSrv := httptest.NewServer(application.Handler())
	env := &testEnv{
		t:       t,
		db:      db,
		app:     application,
		httpSrv: httpSrv,
		baseURL: httpSrv.URL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}

	t.Cleanup(func() {
		httpSrv.Close()
		_ = application.Close()
		_ = db.Close()
	})
	return env
}

func resetDatabase(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func databaseNameFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("missing database name in dsn")
	}
	return name, nil
}

func ensureDatabaseExists(ctx context.Context, testDSN, dbName string) error {
	adminDSN, err := withDatabaseName(testDSN, "postgres")
	if err != nil {
		return err
	}

	adminDB, err := internaldb.Open(ctx, adminDSN)
	if err != nil {
		return err
	}
	defer adminDB.Close()

	_, err = adminDB.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, quoteIdent(dbName)))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return err
	}
	return nil
}

func withDatabaseName(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func quoteIdent(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// upload posts content as the multipart "file" field along with form.
func (e *testEnv) upload(path, name string, content []byte, form map[string]string) (int, map[string]any) {
	e.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range form {
		require.NoError(e.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(e.t, err)
	_, err = fw.Write(content)
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.baseURL+path, &body)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.ActorHeader, "integration")
	return e.send(req)
}

func (e *testEnv) doJSON(method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err, "marshal request body")
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.baseURL+path, bodyReader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req)
}

func (e *testEnv) send(req *http.Request) (int, map[string]any) {
	e.t.Helper()
	resp, err := e.client.Do(req)
	require.NoError(e.t, err, "http request failed (%s %s)", req.Method, req.URL.Path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err, "read response body")

	decoded := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &decoded), "decode %s", raw)
	}
	return resp.StatusCode, decoded
}

func getString(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	s, ok := m[key].(string)
	require.True(t, ok, "expected string field %q in %v", key, m)
	return s
}

func getNumber(t *testing.T, m map[string]any, key string) float64 {
	t.Helper()
	n, ok := m[key].(float64)
	require.True(t, ok, "expected number field %q in %v", key, m)
	return n
}
