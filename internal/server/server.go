// Package server exposes the tutor over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"doc-tutor/internal/config"
	"doc-tutor/internal/models"
	"doc-tutor/internal/session"
)

const (
	defaultDifficulty   = "medium"
	defaultNumQuestions = 5
)

// Tutor is the application behind the HTTP API.
type Tutor interface {
	Upload(ctx context.Context, filename string, data []byte) (models.UploadStatus, error)
	Summary(ctx context.Context) (string, error)
	Explain(ctx context.Context, question string) (string, error)
	Quiz(ctx context.Context, difficulty string, n int) ([]models.QuizQuestion, error)
	Status() (*session.Session, error)
}

type Server struct {
	echo   *echo.Echo
	tutor  Tutor
	config config.ServerConfig
}

// NewServer builds the echo instance and registers every route. gatherer
// backs /metrics and may be nil.
func NewServer(tutor Tutor, cfg config.ServerConfig, gatherer prometheus.Gatherer) (*Server, error) {
	if tutor == nil {
		return nil, fmt.Errorf("tutor cannot be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Msg("HTTP request")
			return err
		}
	})

	s := &Server{echo: e, tutor: tutor, config: cfg}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.POST("/upload", s.handleUpload)
	s.echo.GET("/summary", s.handleSummary)
	s.echo.POST("/explain", s.handleExplain)
	s.echo.POST("/quiz", s.handleQuiz)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

type ErrorBody struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type StatusResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	SessionID string     `json:"session_id,omitempty"`
	Document  string     `json:"document,omitempty"`
	Chunks    int        `json:"chunks,omitempty"`
	LoadedAt  *time.Time `json:"loaded_at,omitempty"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type ExplainRequest struct {
	Query string `json:"query"`
}

type ExplainResponse struct {
	Explanation string `json:"explanation"`
}

type QuizRequest struct {
	Difficulty   string `json:"difficulty"`
	NumQuestions *int   `json:"num_questions"`
}

type QuizResponse struct {
	Quiz []models.QuizQuestion `json:"quiz"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Status: "OK", Message: "Tutor backend is running, no document loaded."}
	if sess, err := s.tutor.Status(); err == nil {
		resp.Message = "Tutor backend is running."
		resp.SessionID = sess.ID
		resp.Document = sess.Document.Name
		resp.Chunks = len(sess.Chunks)
		resp.LoadedAt = &sess.CreatedAt
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return s.fail(c, models.NewError(models.KindInvalidRequest, "no file part in the request", err))
	}
	if fh.Filename == "" {
		return s.fail(c, models.NewError(models.KindInvalidRequest, "no selected file", nil))
	}
	if s.config.MaxUploadBytes > 0 && fh.Size > s.config.MaxUploadBytes {
		return s.fail(c, models.NewError(models.KindInvalidRequest,
			fmt.Sprintf("file is larger than the %d byte upload limit", s.config.MaxUploadBytes), nil))
	}

	f, err := fh.Open()
	if err != nil {
		return s.fail(c, models.NewError(models.KindCorruptFile, "could not read the uploaded file", err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return s.fail(c, models.NewError(models.KindCorruptFile, "could not read the uploaded file", err))
	}

	status, err := s.tutor.Upload(c.Request().Context(), fh.Filename, data)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.tutor.Summary(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SummaryResponse{Summary: summary})
}

func (s *Server) handleExplain(c echo.Context) error {
	var req ExplainRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, models.NewError(models.KindInvalidRequest, "invalid request body", err))
	}
	if req.Query == "" {
		return s.fail(c, models.NewError(models.KindInvalidRequest, "missing 'query' in request body", nil))
	}

	explanation, err := s.tutor.Explain(c.Request().Context(), req.Query)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ExplainResponse{Explanation: explanation})
}

func (s *Server) handleQuiz(c echo.Context) error {
	var req QuizRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return s.fail(c, models.NewError(models.KindInvalidRequest,
				"invalid request body, 'num_questions' must be an integer", err))
		}
	}
	if req.Difficulty == "" {
		req.Difficulty = defaultDifficulty
	}
	n := defaultNumQuestions
	if req.NumQuestions != nil {
		n = *req.NumQuestions
	}

	quiz, err := s.tutor.Quiz(c.Request().Context(), req.Difficulty, n)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, QuizResponse{Quiz: quiz})
}

// fail writes err as a structured JSON error. Provider details are logged,
// never returned.
func (s *Server) fail(c echo.Context, err error) error {
	var e *models.Error
	if !errors.As(err, &e) {
		e = models.NewError(models.KindInternal, "unexpected failure", err)
	}

	code := StatusCode(e)
	evt := log.Warn()
	if code >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Str("kind", string(e.Kind)).Int("status", code).Str("path", c.Path()).Msg("Request failed")

	return c.JSON(code, ErrorResponse{Error: ErrorBody{
		Kind:     string(e.Kind),
		Category: e.Category(),
		Message:  e.UserMessage(),
	}})
}

// StatusCode maps an error category to an HTTP status.
func StatusCode(e *models.Error) int {
	switch e.Category() {
	case models.CategoryBadInput:
		return http.StatusBadRequest
	case models.CategoryNoDocument:
		return http.StatusConflict
	case models.CategoryServiceUnavailable:
		return http.StatusServiceUnavailable
	case models.CategoryGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}
