package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerbeam/coamgr/internal/config"
	"github.com/ledgerbeam/coamgr/internal/httpx"
	"github.com/ledgerbeam/coamgr/internal/imports"
	"github.com/ledgerbeam/coamgr/internal/industry"
	"github.com/ledgerbeam/coamgr/internal/middleware"
	"github.com/ledgerbeam/coamgr/internal/payload"
	"github.com/ledgerbeam/coamgr/internal/reconcile"
	"github.com/ledgerbeam/coamgr/internal/spreadsheet"
)

type App struct {
	cfg           config.Config
	db            *sql.DB
	log           *logrus.Logger
	importService *imports.Service
}

func New(cfg config.Config, database *sql.DB, log *logrus.Logger) *App {
	registry := industry.NewRegistry()
	return &App{
		cfg: cfg,
		db:  database,
		log: log,
		importService: imports.NewService(database, log, registry, imports.ServiceOptions{
			HeaderScanRows:        cfg.HeaderScanRows,
			RemovedRowSampleLimit: cfg.RemovedRowSampleLimit,
		}),
	}
}

func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if a.cfg.RequireTLS && r.URL.Path != "/healthz" && !isTLSRequest(r) {
		httpx.WriteError(w, http.StatusUpgradeRequired, "tls is required")
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/healthz":
		a.handleHealth(w, r)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/coa-manager/import":
		a.handleImport(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/coa-manager/industries":
		a.handleListIndustries(w, r)
		return
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/coa-manager/industries/"):
		a.routeIndustryScope(w, r)
		return
	}

	httpx.WriteError(w, http.StatusNotFound, "not found")
}

func (a *App) routeIndustryScope(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/coa-manager/industries/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "columns" && parts[0] != "" {
		a.handleAvailableColumns(w, r, parts[0])
		return
	}
	httpx.WriteError(w, http.StatusNotFound, "not found")
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r, a.cfg.MaxUploadBytes)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	decoded, err := payload.Decode(r.Header.Get("Content-Type"), body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.importService.Run(r.Context(), imports.RunInput{
		Options:  decoded.Options,
		File:     decoded.File,
		Filename: decoded.Filename,
	})
	if err != nil {
		a.writeImportError(w, err)
		return
	}

	if result.Preview != nil {
		httpx.WriteJSON(w, http.StatusOK, result.Preview)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result.Import)
}

func (a *App) handleListIndustries(w http.ResponseWriter, r *http.Request) {
	infos, err := a.importService.Industries(r.Context())
	if err != nil {
		a.writeImportError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"industries": infos})
}

func (a *App) handleAvailableColumns(w http.ResponseWriter, r *http.Request, industryName string) {
	result, err := a.importService.AvailableColumns(r.Context(), industryName)
	if err != nil {
		a.writeImportError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// conflictResponse is the structured 409 body: the decision flag names the
// exact option the caller must supply on the next call.
type conflictResponse struct {
	Error               string                 `json:"error"`
	Decision            reconcile.Decision     `json:"decision"`
	AvailableStrategies []string               `json:"availableStrategies,omitempty"`
	NewColumns          []string               `json:"newColumns,omitempty"`
	RemovedColumns      []string               `json:"removedColumns,omitempty"`
	RemovedRows         *reconcile.RemovedRows `json:"removedRows,omitempty"`
}

func (a *App) writeImportError(w http.ResponseWriter, err error) {
	var decision *reconcile.DecisionRequiredError
	switch {
	case errors.As(err, &decision):
		httpx.WriteJSON(w, http.StatusConflict, conflictResponse{
			Error:               decision.Message,
			Decision:            decision.Decision,
			AvailableStrategies: decision.AvailableStrategies,
			NewColumns:          decision.NewColumns,
			RemovedColumns:      decision.RemovedColumns,
			RemovedRows:         decision.RemovedRows,
		})
	case errors.Is(err, industry.ErrUnknownIndustry):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, imports.ErrInvalidInput),
		errors.Is(err, imports.ErrNotFound),
		errors.Is(err, industry.ErrInvalidTableName),
		errors.Is(err, reconcile.ErrInvalidIdentifier),
		errors.Is(err, reconcile.ErrInvalidStrategy),
		errors.Is(err, spreadsheet.ErrUnparsable),
		errors.Is(err, payload.ErrBadPayload):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.WithError(err).Error("import request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           middleware.RequestLogger(a.log, a),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.log.WithField("addr", a.cfg.HTTPAddr).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

func isTLSRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return true
	}
	return false
}
