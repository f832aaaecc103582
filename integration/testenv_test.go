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

	"github.com/sirupsen/logrus"

	"github.com/ledgerbeam/coamgr/internal/app"
	"github.com/ledgerbeam/coamgr/internal/config"
	internaldb "github.com/ledgerbeam/coamgr/internal/db"
	"github.com/ledgerbeam/coamgr/internal/migrate"
	"github.com/ledgerbeam/coamgr/migrations"
)

type testEnv struct {
	t       *testing.T
	db      *sql.DB
	baseURL string
	client  *http.Client
}

func setupIntegrationEnv(t *testing.T) *testEnv {
	t.Helper()

	if strings.TrimSpace(os.Getenv("COAMGR_INTEGRATION")) != "1" {
		t.Skip("set COAMGR_INTEGRATION=1 to run integration tests")
	}

	testDSN := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDSN == "" {
		t.Skip("set TEST_DATABASE_URL to run integration tests")
	}

	dbName, err := databaseNameFromDSN(testDSN)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	if !strings.Contains(strings.ToLower(dbName), "test") {
		t.Fatalf("refusing to run integration tests against non-test database name %q", dbName)
	}

	ctx := context.Background()
	db, err := internaldb.Open(ctx, testDSN)
	if err != nil {
		if strings.Contains(err.Error(), "SQLSTATE 3D000") {
			if createErr := ensureDatabaseExists(ctx, testDSN, dbName); createErr != nil {
				t.Fatalf("create test db %s: %v", dbName, createErr)
			}
			db, err = internaldb.Open(ctx, testDSN)
		}
		if err != nil {
			t.Fatalf("open test db: %v", err)
		}
	}

	if err := resetDatabase(ctx, db); err != nil {
		t.Fatalf("reset test db: %v", err)
	}
	if err := migrate.Run(ctx, db, migrations.FS); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	cfg := config.Config{
		HTTPAddr:              ":0",
		DatabaseURL:           testDSN,
		MaxUploadBytes:        20 * 1024 * 1024,
		HeaderScanRows:        25,
		RemovedRowSampleLimit: 10,
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	application := app.New(cfg, db, log)

	httpSrv := httptest.NewServer(application)
	env := &testEnv{
		t:       t,
		db:      db,
		baseURL: httpSrv.URL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}

	t.Cleanup(func() {
		httpSrv.Close()
		db.Close()
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

// doImport posts a multipart import request. fields carries the scalar form
// fields; file, when non-empty, is attached as the spreadsheet part.
func (e *testEnv) doImport(fields map[string]string, file []byte) (int, any) {
	e.t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			e.t.Fatalf("write form field %s: %v", name, err)
		}
	}
	if len(file) > 0 {
		part, err := writer.CreateFormFile("file", "upload.csv")
		if err != nil {
			e.t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(file); err != nil {
			e.t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		e.t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.baseURL+"/coa-manager/import", &buf)
	if err != nil {
		e.t.Fatalf("create import request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(req)
}

func (e *testEnv) doGet(path string) (int, any) {
	e.t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		e.t.Fatalf("create request: %v", err)
	}
	return e.do(req)
}

func (e *testEnv) do(req *http.Request) (int, any) {
	e.t.Helper()
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("http request failed (%s %s): %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("read response body: %v", err)
	}

	var decoded any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	}
	return resp.StatusCode, decoded
}

func (e *testEnv) countRows(table string) int {
	e.t.Helper()
	var count int
	if err := e.db.QueryRow(fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(table))).Scan(&count); err != nil {
		e.t.Fatalf("count rows in %s: %v", table, err)
	}
	return count
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map response, got %T (%v)", v, v)
	}
	return m
}

func asSlice(t *testing.T, v any) []any {
	t.Helper()
	s, ok := v.([]any)
	if !ok {
		t.Fatalf("expected slice response, got %T (%v)", v, v)
	}
	return s
}

func getString(t *testing.T, m map[string]any, key string) string {
	t.Helper()
	s, ok := m[key].(string)
	if !ok {
		t.Fatalf("expected string field %q in %v", key, m)
	}
	return s
}

func getNumber(t *testing.T, m map[string]any, key string) int {
	t.Helper()
	n, ok := m[key].(float64)
	if !ok {
		t.Fatalf("expected numeric field %q in %v", key, m)
	}
	return int(n)
}
