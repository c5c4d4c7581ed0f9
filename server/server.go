package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope"
	"github.com/yanolja/horoscope/auth"
	"github.com/yanolja/horoscope/failover"
	"github.com/yanolja/horoscope/orchestrator"
	"github.com/yanolja/horoscope/security"
	"github.com/yanolja/horoscope/usage"
)

// Largest accepted request body.
const maxBodyBytes = 1 << 20

// Interpreter queues interpretation requests. *orchestrator.Orchestrator
// implements it.
type Interpreter interface {
	Interpret(ctx context.Context, credentials horoscope.Credentials, request *horoscope.InterpretationRequest) (*horoscope.Interpretation, error)
	QueueLength() int
}

type UsageReader interface {
	Summary(ctx context.Context, providers []string, date string) (map[string]*usage.Record, error)
}

type Server struct {
	interpreter Interpreter
	usage       UsageReader
	providers   horoscope.ProviderList
	credentials horoscope.Credentials

	// Nil disables session authentication.
	sessions *auth.SessionManager

	// Nil disables the per-client limit.
	limiter *security.ClientRateLimiter

	// Nil leaves /metrics unrouted.
	metrics http.Handler

	clock  clock.Clock
	logger *zap.SugaredLogger
}

type Option func(*Server)

func WithSessions(sessions *auth.SessionManager) Option {
	return func(s *Server) { s.sessions = sessions }
}

func WithClientLimiter(limiter *security.ClientRateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

func WithMetrics(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clock = clk }
}

func New(
	interpreter Interpreter,
	recorder UsageReader,
	providers horoscope.ProviderList,
	credentials horoscope.Credentials,
	logger *zap.SugaredLogger,
	opts ...Option,
) *Server {
	s := &Server{
		interpreter: interpreter,
		usage:       recorder,
		providers:   providers,
		credentials: credentials,
		clock:       clock.New(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP routes of the service.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestID, security.Headers)

	router.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/v1").Subrouter()
	if s.sessions != nil {
		api.Use(s.sessions.Middleware)
	}
	api.HandleFunc("/usage", s.HandleUsage).Methods(http.MethodGet)

	var interpret http.Handler = http.HandlerFunc(s.HandleInterpret)
	if s.limiter != nil {
		interpret = s.limiter.Middleware(interpret)
	}
	api.Handle("/interpret", interpret).Methods(http.MethodPost)

	return router
}

func (s *Server) HandleInterpret(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if len(s.credentials) == 0 {
		s.writeError(w, http.StatusServiceUnavailable, "AI service not configured", "SERVICE_UNAVAILABLE", "")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warnw("Failed to read request body", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_BODY", err.Error())
		return
	}

	var request horoscope.InterpretationRequest
	if err := json.Unmarshal(body, &request); err != nil {
		s.logger.Warnw("Invalid request body", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_BODY", err.Error())
		return
	}
	if err := request.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request", "INVALID_REQUEST", err.Error())
		return
	}

	fields := []any{"request_id", w.Header().Get(requestIDHeader), "chart_type", request.ChartType, "queued", s.interpreter.QueueLength()}
	if claims, err := auth.GetClaimsFromContext(r.Context()); err == nil {
		fields = append(fields, "user_id", claims.UserID)
	}
	s.logger.Infow("Received interpretation request", fields...)

	interpretation, err := s.interpreter.Interpret(r.Context(), s.credentials, &request)
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, interpretation)
}

type usageResponse struct {
	Date      string                    `json:"date"`
	Providers map[string]*providerUsage `json:"providers"`
}

type providerUsage struct {
	Requests       int64            `json:"requests"`
	Tokens         int64            `json:"tokens"`
	Errors         int64            `json:"errors"`
	AverageLatency int64            `json:"avgLatency"`
	Failovers      int64            `json:"failovers"`
	LastError      *usage.LastError `json:"lastError,omitempty"`
}

// HandleUsage reports each provider's usage for ?date=YYYY-MM-DD, or today
// in UTC.
func (s *Server) HandleUsage(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = horoscope.UTCDate(s.clock.Now())
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid date", "INVALID_DATE", "Expected YYYY-MM-DD")
		return
	}

	summary, err := s.usage.Summary(r.Context(), s.providers.Names(), date)
	if err != nil {
		s.logger.Errorw("Failed to read usage", "date", date, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read usage", "STORE_ERROR", "")
		return
	}

	response := usageResponse{Date: date, Providers: make(map[string]*providerUsage, len(summary))}
	for name, record := range summary {
		response.Providers[name] = &providerUsage{
			Requests:       record.Requests,
			Tokens:         record.Tokens,
			Errors:         record.Errors,
			AverageLatency: record.AverageLatency(),
			Failovers:      record.Failovers,
			LastError:      record.LastError,
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.providers.Names(),
		"queued":    s.interpreter.QueueLength(),
	})
}

type allProvidersFailedResponse struct {
	Error     string                  `json:"error"`
	Code      failover.ErrorCode      `json:"code"`
	LastError *failover.ProviderError `json:"lastError"`
	Failovers int                     `json:"failovers"`
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	var exhausted *failover.AllProvidersFailedError
	switch {
	case errors.As(err, &exhausted):
		s.logger.Warnw("Interpretation failed", "failovers", exhausted.Failovers, "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, allProvidersFailedResponse{
			Error:     failover.ErrAllProvidersFailed.Error(),
			Code:      exhausted.Code(),
			LastError: exhausted.LastError,
			Failovers: exhausted.Failovers,
		})
	case errors.Is(err, orchestrator.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "Service is shutting down", "SERVICE_UNAVAILABLE", "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, "Request timed out", "TIMEOUT", "")
	default:
		s.logger.Errorw("Interpretation error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Interpretation failed", "AI_ERROR", err.Error())
	}
}

const requestIDHeader = "X-Request-ID"

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := s.clock.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("Handled request", "request_id", id, "method", r.Method, "path", r.URL.Path, "elapsed", s.clock.Since(start))
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, code string, details string) {
	s.writeJSON(w, status, errorResponse{Error: message, Code: code, Details: details})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorw("Failed to encode response", "error", err)
	}
}
