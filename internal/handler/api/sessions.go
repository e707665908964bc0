package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"DigitCast/internal/domain/models"
	"DigitCast/internal/repository"
	"DigitCast/internal/service/ratelimit"
	"DigitCast/internal/services/ledger"
	"DigitCast/internal/usecase"
	xhttp "DigitCast/pkg/http"
	xlogger "DigitCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// SessionsHandler exposes the session controller over HTTP.
type SessionsHandler struct {
	logger   *xlogger.Logger
	sessions *usecase.SessionManager
	limiter  *ratelimit.Limiter
	stream   *streamer
	checks   map[string]HealthCheck
}

// HandlerOption configures SessionsHandler.
type HandlerOption func(*SessionsHandler)

// WithObserveLimiter throttles observe calls per session.
func WithObserveLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *SessionsHandler) { h.limiter = l }
}

// WithHealthCheck adds a dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *SessionsHandler) { h.checks[name] = check }
}

func NewSessionsHandler(logger *xlogger.Logger, sessions *usecase.SessionManager, opts ...HandlerOption) *SessionsHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &SessionsHandler{
		logger:   logger,
		sessions: sessions,
		limiter:  ratelimit.New(0, 0),
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.stream = newStreamer(logger, sessions)
	return h
}

func (h *SessionsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/sessions")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/train", h.Train)
	g.POST("/:id/seed", h.Seed)
	g.POST("/:id/observe", h.Observe)
	g.POST("/:id/reset", h.Reset)
	g.GET("/:id/history.csv", h.HistoryCSV)
	g.GET("/:id/stream", h.stream.Serve)
}

func (h *SessionsHandler) Create(c echo.Context) error {
	req := &models.CreateSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	v, err := h.sessions.Create(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.CreatedResponse(c, v)
}

func (h *SessionsHandler) List(c echo.Context) error {
	rows := h.sessions.List()
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *SessionsHandler) Get(c echo.Context) error {
	req := &models.SessionRef{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	v, err := h.sessions.View(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *SessionsHandler) Delete(c echo.Context) error {
	req := &models.SessionRef{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.sessions.Delete(c.Request().Context(), req.ID); err != nil {
		return h.fail(c, err)
	}
	h.limiter.Forget(req.ID)
	return xhttp.NoContentResponse(c)
}

// Train accepts a JSON log, a CSV body, a multipart upload in field "file",
// or nothing, in which case the configured log source is used. The CSV column
// is chosen with the "column" query parameter.
func (h *SessionsHandler) Train(c echo.Context) error {
	var (
		id  string
		log []models.Symbol
	)
	switch mediaType(c.Request()) {
	case echo.MIMEMultipartForm, "text/csv":
		ref := &models.SessionRef{ID: c.Param("id")}
		if verr := xhttp.ValidateStruct(c.Request().Context(), ref); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
		id = ref.ID
		parsed, err := readUploadedLog(c)
		if err != nil {
			return h.fail(c, err)
		}
		log = parsed
	default:
		req := &models.TrainRequest{}
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
		id = req.ID
		log = make([]models.Symbol, len(req.Log))
		for i, v := range req.Log {
			log[i] = models.Symbol(v)
		}
	}

	v, err := h.sessions.Train(c.Request().Context(), id, log)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *SessionsHandler) Seed(c echo.Context) error {
	req := &models.SeedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	v, err := h.sessions.Seed(c.Request().Context(), req.ID, req.Seed)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *SessionsHandler) Observe(c echo.Context) error {
	req := &models.ObserveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.limiter.Allow(req.ID) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("observe rate limit exceeded"))
	}
	v, err := h.sessions.Observe(c.Request().Context(), req.ID, models.Symbol(*req.Symbol))
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *SessionsHandler) Reset(c echo.Context) error {
	req := &models.SessionRef{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	v, err := h.sessions.Reset(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *SessionsHandler) HistoryCSV(c echo.Context) error {
	req := &models.SessionRef{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.sessions.History(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, err)
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "history-"+req.ID+".csv"))
	res.WriteHeader(http.StatusOK)
	return ledger.WriteCSV(res, entries)
}

func (h *SessionsHandler) Health(c echo.Context) error {
	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(c.Request().Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	body := map[string]interface{}{
		"status":   "ok",
		"sessions": len(h.sessions.List()),
		"checks":   status,
	}
	if !healthy {
		body["status"] = "degraded"
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func (h *SessionsHandler) fail(c echo.Context, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("session request failed",
			xlogger.String("path", c.Path()),
			xlogger.String("session_id", c.Param("id")),
			xlogger.Error(err),
		)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps domain errors onto transport status codes.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	msg := err.Error()
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return xhttp.NotFoundError(msg).WithError(err)
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrNotTrained):
		return xhttp.ConflictError(msg).WithError(err)
	case errors.Is(err, models.ErrTooManySessions):
		return xhttp.UnavailableError(msg).WithError(err)
	case errors.Is(err, models.ErrInvalidSeed):
		return xhttp.NewAppError("ERR_INVALID_SEED", "seed", msg, http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrInvalidSymbol):
		return xhttp.NewAppError("ERR_INVALID_SYMBOL", "symbol", msg, http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrSchema):
		return xhttp.NewAppError("ERR_SCHEMA", "column", msg, http.StatusBadRequest).WithError(err)
	case errors.Is(err, models.ErrInsufficientData),
		errors.Is(err, models.ErrEmptyTable),
		errors.Is(err, models.ErrFeatureArity),
		errors.Is(err, models.ErrNotInitialized):
		return xhttp.BadRequestError(msg).WithError(err)
	default:
		return xhttp.AsAppError(err)
	}
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get(echo.HeaderContentType))
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func readUploadedLog(c echo.Context) ([]models.Symbol, error) {
	column := c.QueryParam("column")
	if column == "" {
		column = repository.DefaultLogColumn
	}
	var r io.Reader = c.Request().Body
	if mediaType(c.Request()) == echo.MIMEMultipartForm {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, xhttp.BadRequestError("multipart field \"file\" is required").WithError(err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		r = f
	}
	return repository.ParseCSVLog(r, column)
}
