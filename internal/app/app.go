package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjhen/rosterbridge/internal/config"
	"github.com/mjhen/rosterbridge/internal/decode"
	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/httpx"
	"github.com/mjhen/rosterbridge/internal/ingest"
	"github.com/mjhen/rosterbridge/internal/logging"
	"github.com/mjhen/rosterbridge/internal/middleware"
	"github.com/mjhen/rosterbridge/internal/progress"
	"github.com/mjhen/rosterbridge/internal/records"
	"github.com/mjhen/rosterbridge/internal/roster"
	"github.com/mjhen/rosterbridge/internal/store"
)

// Store is the persistence the HTTP layer needs.
type Store interface {
	ingest.Store
	ReplaceStudents(ctx context.Context, actor string, students []roster.Student) error
	ListImportRuns(ctx context.Context, limit int) ([]store.ImportRun, error)
	GetImportRun(ctx context.Context, id string) (store.ImportRun, error)
	ListStudentRecords(ctx context.Context, studentID string, dataset records.DatasetType) ([]records.Stored, error)
}

type App struct {
	cfg      config.Config
	store    Store
	tables   fields.Tables
	importer *ingest.Importer
	hub      *progress.Hub
	logger   *zap.Logger

	// background imports started with async=true
	wg         sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(cfg config.Config, s Store, tables fields.Tables, logger *zap.Logger) *App {
	if tables == nil {
		tables = fields.Default()
	}
	logger = logging.OrNop(logger)
	hub := progress.NewHub(logger.Named("progress"))
	baseCtx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		store:  s,
		tables: tables,
		importer: ingest.New(s, ingest.Options{
			Tables:         tables,
			MaxScanRows:    cfg.HeaderScanRows,
			FuzzyThreshold: cfg.FuzzyThreshold,
			StatePrefix:    cfg.StateIDPrefix,
			Decode:         decode.Options{MaxMemberBytes: cfg.MaxUploadBytes},
			Logger:         logger.Named("ingest"),
			Sink:           hub,
		}),
		hub:        hub,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Close cancels background imports, waits for them and ends every progress
// stream.
func (a *App) Close() error {
	a.cancelBase()
	a.wg.Wait()
	a.hub.Close()
	return nil
}

// Handler is the app wrapped with request logging.
func (a *App) Handler() http.Handler {
	return middleware.AccessLog(a.logger.Named("http"), a)
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/healthz":
		a.handleHealth(w)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/v1/roster":
		a.handleReplaceRoster(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/v1/roster":
		a.handleGetRoster(w, r)
		return

	case r.Method == http.MethodPost && r.URL.Path == "/v1/imports":
		a.handleImport(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/v1/imports":
		a.handleListImports(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/v1/imports/ws":
		a.handleImportWS(w, r)
		return
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/imports/"):
		a.handleGetImport(w, r, strings.TrimPrefix(r.URL.Path, "/v1/imports/"))
		return

	case r.Method == http.MethodPost && r.URL.Path == "/v1/match":
		a.handleMatch(w, r)
		return

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/students/"):
		a.routeStudentScope(w, r)
		return
	}

	http.NotFound(w, r)
}

func (a *App) routeStudentScope(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/students/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "records" {
		http.NotFound(w, r)
		return
	}
	a.handleStudentRecords(w, r, parts[0])
}

func (a *App) handleHealth(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	students, err := a.store.ListStudents(r.Context())
	if err != nil {
		a.internalError(w, "list students", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"students": students,
		"stats":    roster.Build(students).Stats(),
	})
}

func (a *App) handleReplaceRoster(w http.ResponseWriter, r *http.Request) {
	name, data, err := httpx.ReadUpload(w, r, "file", a.cfg.MaxUploadBytes)
	if err != nil {
		a.writeUploadError(w, err)
		return
	}

	files, err := decode.Decode(r.Context(), name, data, decode.Options{MaxMemberBytes: a.cfg.MaxUploadBytes})
	if err != nil {
		writeImportError(w, err, nil)
		return
	}
	var g grid.Grid
	for _, f := range files {
		if f.Err == nil {
			g = f.Grid
			break
		}
	}
	if g == nil {
		writeImportError(w, files[0].Err, nil)
		return
	}

	loaded, err := roster.LoadGrid(g, a.tables.Table(roster.Dataset), roster.LoadOptions{
		StatePrefix: a.cfg.StateIDPrefix,
		MaxScanRows: a.cfg.HeaderScanRows,
	})
	if err != nil {
		writeImportError(w, err, nil)
		return
	}
	warnings, err := roster.Validate(loaded.Students, a.cfg.StateIDPrefix)
	if err != nil {
		httpx.WriteErrorDetail(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{"errors": loaded.Errors})
		return
	}
	if len(loaded.Students) == 0 {
		httpx.WriteErrorDetail(w, http.StatusUnprocessableEntity, "roster has no students", map[string]any{"errors": loaded.Errors})
		return
	}

	if err := a.store.ReplaceStudents(r.Context(), middleware.Actor(r), loaded.Students); err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.internalError(w, "replace roster", err)
		return
	}
	a.logger.Info("roster replaced",
		zap.String("file", name),
		zap.Int("students", len(loaded.Students)),
		zap.Int("row_errors", len(loaded.Errors)),
		zap.Int("warnings", len(warnings)),
	)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"students":  len(loaded.Students),
		"headerRow": loaded.HeaderRow,
		"errors":    nonNil(loaded.Errors),
		"warnings":  nonNil(warnings),
		"stats":     roster.Build(loaded.Students).Stats(),
	})
}

func (a *App) handleImport(w http.ResponseWriter, r *http.Request) {
	name, data, err := httpx.ReadUpload(w, r, "file", a.cfg.MaxUploadBytes)
	if err != nil {
		a.writeUploadError(w, err)
		return
	}
	req := ingest.Request{
		FileName: name,
		Data:     data,
		Dataset:  records.DatasetType(strings.TrimSpace(r.FormValue("type"))),
		Actor:    middleware.Actor(r),
		RunID:    uuid.NewString(),
	}
	if req.Dataset != "" {
		if _, err := records.ParseDatasetType(string(req.Dataset)); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if async, _ := strconv.ParseBool(r.FormValue("async")); async {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(a.baseCtx, a.cfg.ImportTimeout)
			defer cancel()
			// Failures reach subscribers as the terminal event.
			_, _ = a.importer.Import(ctx, req)
		}()
		httpx.WriteJSON(w, http.StatusAccepted, map[string]string{
			"runId":    req.RunID,
			"progress": "/v1/imports/ws?runId=" + req.RunID,
		})
		return
	}

	ctx := r.Context()
	if a.cfg.ImportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ImportTimeout)
		defer cancel()
	}
	report, err := a.importer.Import(ctx, req)
	if err != nil {
		writeImportError(w, err, report)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, report)
}

func (a *App) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQuery(r, "limit", 50)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := a.store.ListImportRuns(r.Context(), limit)
	if err != nil {
		a.internalError(w, "list import runs", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

func (a *App) handleGetImport(w http.ResponseWriter, r *http.Request, id string) {
	run, err := a.store.GetImportRun(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, "import run not found")
		case errors.Is(err, store.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, "import run id is required")
		default:
			a.internalError(w, "get import run", err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, run)
}

func (a *App) handleImportWS(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.URL.Query().Get("runId"))
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid runId")
			return
		}
	}
	if err := a.hub.ServeWS(w, r, runID); err != nil {
		a.logger.Debug("progress stream ended", zap.Error(err))
	}
}

func (a *App) handleMatch(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Type string            `json:"type"`
		Row  map[string]string `json:"row"`
	}
	var req request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Row) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "row is required")
		return
	}
	dataset := records.DatasetType("")
	if req.Type != "" {
		parsed, err := records.ParseDatasetType(req.Type)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		dataset = parsed
	}

	res, ok, err := a.importer.Resolve(r.Context(), dataset, req.Row)
	if err != nil {
		a.internalError(w, "resolve row", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"matched": ok, "result": res})
}

func (a *App) handleStudentRecords(w http.ResponseWriter, r *http.Request, studentID string) {
	dataset := records.DatasetType("")
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		parsed, err := records.ParseDatasetType(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		dataset = parsed
	}
	stored, err := a.store.ListStudentRecords(r.Context(), studentID, dataset)
	if err != nil {
		a.internalError(w, "list student records", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"studentId": studentID,
		"records":   nonNil(stored),
	})
}

func (a *App) writeUploadError(w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrUploadTooLarge) {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", a.cfg.MaxUploadBytes))
		return
	}
	httpx.WriteError(w, http.StatusBadRequest, err.Error())
}

// writeImportError maps fatal import errors to status codes. The partial
// report, when there is one, goes in the detail.
func writeImportError(w http.ResponseWriter, err error, report *ingest.Report) {
	var detail any
	if report != nil {
		detail = report
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, decode.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, decode.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, decode.ErrEmptyFile),
		errors.Is(err, records.ErrUnknownDataset),
		errors.Is(err, ingest.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, grid.ErrNoHeaderFound),
		errors.Is(err, ingest.ErrNoDataset):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrNoRoster):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	httpx.WriteErrorDetail(w, status, err.Error(), detail)
}

func (a *App) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op+" failed", zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}

func parseIntQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

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
