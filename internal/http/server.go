package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/config"
	"reactionmap/progress/internal/logging"
	"reactionmap/progress/internal/metrics"
	"reactionmap/progress/internal/model"
	"reactionmap/progress/internal/progress"
)

type Server struct {
	cfg       config.Config
	svc       *progress.Service
	log       *logging.Logger
	validator *requestValidator
}

func NewServer(cfg config.Config, svc *progress.Service, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.New(nil, logging.Options{})
	}
	return &Server{cfg: cfg, svc: svc, log: logger, validator: newRequestValidator()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     s.cfg.CORSAllowedOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type", "X-Teacher-Code", "X-Teacher-Code-Hash"},
		OptionsPassthrough: true,
		MaxAge:             300,
	}))
	r.Use(preflight)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request method.", nil)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/join", s.handleJoin)
	r.Get("/load", s.handleLoad)
	r.Post("/save", s.handleSave)

	r.Route("/teacher", func(r chi.Router) {
		r.Post("/login", s.handleTeacherLogin)
		r.With(s.teacherMiddleware).Get("/report", s.handleReport)
		r.With(s.teacherMiddleware).Get("/report.csv", s.handleReportCSV)
	})

	return r
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRequest
	if !s.decodeAndValidate(w, r, &req) {
		metrics.Joins.WithLabelValues("invalid").Inc()
		return
	}

	res, err := s.svc.Join(r.Context(), progress.JoinInput{
		ClassCode:   req.ClassCode,
		StudentCode: req.StudentCode,
		DisplayName: req.DisplayName,
	}, clientIP(r))
	if err != nil {
		metrics.Joins.WithLabelValues(string(progress.KindOf(err))).Inc()
		s.writeServiceError(w, r, err)
		return
	}
	metrics.Joins.WithLabelValues("ok").Inc()

	writeJSON(w, http.StatusOK, api.JoinResponse{
		SessionToken:   res.SessionToken,
		StudentProfile: mapProfile(res.Student),
		Progress:       mapRecords(res.Progress),
	})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Authenticate(r.Context(), bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	query := r.URL.Query()
	if issues := unknownKeys(query, "since"); len(issues) > 0 {
		writeValidationError(w, issues)
		return
	}
	var since *time.Time
	if query.Has("since") {
		parsed, err := time.Parse(time.RFC3339Nano, query.Get("since"))
		if err != nil {
			writeValidationError(w, []Issue{{Path: "since", Code: "invalid_string", Message: "since must be an ISO 8601 datetime"}})
			return
		}
		since = &parsed
	}

	records, err := s.svc.Load(r.Context(), session, since)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LoadResponse{Progress: mapRecords(records)})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing session token.", nil)
		return
	}
	var req api.SaveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	session, err := s.svc.Authenticate(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	updates := make([]model.ProgressUpdate, 0, len(req.Updates))
	for _, update := range req.Updates {
		updates = append(updates, model.ProgressUpdate{ActivityID: update.ActivityID, State: update.State})
	}
	res, err := s.svc.Save(r.Context(), session, updates)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	metrics.SavedRecords.Add(float64(len(res.Progress)))

	acks := make([]api.SaveAck, 0, len(res.Progress))
	for _, record := range res.Progress {
		acks = append(acks, api.SaveAck{ActivityID: record.ActivityID, UpdatedAt: record.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, api.SaveResponse{UpdatedAt: res.UpdatedAt, Progress: acks})
}

// decodeAndValidate writes the 400 response itself and reports whether to continue.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(w, r, out); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body.", map[string]string{"message": err.Error()})
		return false
	}
	if issues := s.validator.Struct(out); len(issues) > 0 {
		writeValidationError(w, issues)
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *progress.Error
	if !errors.As(err, &perr) {
		perr = &progress.Error{Kind: progress.KindInternal, Message: "Internal server error", Err: err}
	}
	if perr.Kind == progress.KindInternal {
		s.log.Error("request failed", err, map[string]any{
			"route":      r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		})
	}
	status, code := statusFor(perr.Kind)
	writeError(w, status, code, perr.Message, perr.Details)
}

func statusFor(kind progress.Kind) (int, string) {
	switch kind {
	case progress.KindBadRequest:
		return http.StatusBadRequest, "bad_request"
	case progress.KindUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case progress.KindForbidden:
		return http.StatusForbidden, "forbidden"
	case progress.KindNotFound:
		return http.StatusNotFound, "not_found"
	case progress.KindTooManyRequests:
		return http.StatusTooManyRequests, "too_many_requests"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func mapProfile(student model.Student) api.StudentProfile {
	return api.StudentProfile{
		ID:          student.ID,
		ClassCode:   student.ClassCode,
		DisplayName: student.DisplayName,
		CreatedAt:   student.CreatedAt,
		LastSeenAt:  student.LastSeenAt,
	}
}

func mapRecords(records []model.Progress) []api.ProgressRecord {
	out := make([]api.ProgressRecord, 0, len(records))
	for _, record := range records {
		out = append(out, api.ProgressRecord{ActivityID: record.ActivityID, State: record.State, UpdatedAt: record.UpdatedAt})
	}
	return out
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// preflight answers every OPTIONS request once the CORS headers are set.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type teacherKey struct{}

func classFromContext(ctx context.Context) string {
	value, _ := ctx.Value(teacherKey{}).(string)
	return value
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

const maxBodyBytes = 1 << 20

var errTrailingData = errors.New("body must contain a single JSON object")

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, api.ErrorResponse{Error: api.ErrorBody{Code: code, Message: message, Details: details}})
}

func writeValidationError(w http.ResponseWriter, issues []Issue) {
	writeError(w, http.StatusBadRequest, "bad_request", "Validation failed.", map[string]any{"issues": issues})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return "unknown"
}
