package http

import (
	"context"
	"net/http"

	"reactionmap/progress/internal/api"
	"reactionmap/progress/internal/auth"
	"reactionmap/progress/internal/progress"
)

type reportQuery struct {
	ClassCode       string `json:"class_code" validate:"required,min=2"`
	TeacherCode     string `json:"teacher_code" validate:"omitempty,min=2"`
	TeacherCodeHash string `json:"teacher_code_hash" validate:"omitempty,min=10"`
}

func (s *Server) handleTeacherLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.JWTSecret == "" {
		writeError(w, http.StatusNotFound, "not_found", "Teacher login is disabled.", nil)
		return
	}
	var req api.TeacherLoginRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	class, err := s.svc.AuthorizeTeacher(r.Context(), progress.TeacherCredential{ClassCode: req.ClassCode, Code: req.TeacherCode})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	token, expiresAt, err := auth.NewTeacherToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.TeacherTokenTTL, class.Code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TeacherLoginResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}

// teacherMiddleware accepts a teacher code (raw or hashed) from the query string or headers,
// or, when no code is given, a teacher access token. It stores the authorized class code.
func (s *Server) teacherMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		if issues := unknownKeys(values, "class_code", "teacher_code", "teacher_code_hash", "kind"); len(issues) > 0 {
			writeValidationError(w, issues)
			return
		}
		query := reportQuery{
			ClassCode:       values.Get("class_code"),
			TeacherCode:     values.Get("teacher_code"),
			TeacherCodeHash: values.Get("teacher_code_hash"),
		}
		if issues := s.validator.Struct(&query); len(issues) > 0 {
			writeValidationError(w, issues)
			return
		}

		cred := progress.TeacherCredential{
			ClassCode: query.ClassCode,
			Code:      firstNonEmpty(query.TeacherCode, r.Header.Get("X-Teacher-Code")),
			CodeHash:  firstNonEmpty(query.TeacherCodeHash, r.Header.Get("X-Teacher-Code-Hash")),
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if cred.Code == "" && cred.CodeHash == "" && token != "" && s.cfg.JWTSecret != "" {
			claims, err := auth.ParseTeacherToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid teacher token.", nil)
				return
			}
			if claims.ClassCode != query.ClassCode {
				writeError(w, http.StatusForbidden, "forbidden", "Token is not valid for this class.", nil)
				return
			}
		} else if _, err := s.svc.AuthorizeTeacher(r.Context(), cred); err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), teacherKey{}, query.ClassCode)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context(), classFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleReportCSV exports the leaderboard, or the activity distribution with kind=activities.
func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	classCode := classFromContext(r.Context())
	kind, err := api.ParseCSVKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeValidationError(w, []Issue{{Path: "kind", Code: "invalid_enum_value", Message: "kind must be leaderboard or activities"}})
		return
	}
	report, err := s.svc.Report(r.Context(), classCode)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="teacher-`+classCode+`-`+csvFilename(kind)+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := api.WriteReportCSV(w, report, kind); err != nil {
		s.log.Error("csv export failed", err, nil)
	}
}

func csvFilename(kind string) string {
	if kind == api.CSVActivities {
		return "activity-distribution"
	}
	return "leaderboard"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
