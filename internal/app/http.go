package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"leavn/api/internal/explorer"
	"leavn/api/internal/tags"
)

type HTTPServer struct {
	service     *Service
	corsOrigins []string
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigins []string) *HTTPServer {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &HTTPServer{
		service:     service,
		corsOrigins: corsOrigins,
		validate:    newValidator(),
		logger:      service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.withMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Graph-Source"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	if s.service.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.service.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleCatalog)
			r.Get("/suggestions", s.handleSuggestions)
			r.Get("/search", s.handleSearch)
			r.Route("/{book}/{chapter}/{verse}", func(r chi.Router) {
				r.Get("/", s.handleListTags)
				r.Post("/", s.handleAddTag)
				r.Get("/recommend", s.handleRecommend)
				r.Delete("/{tagName}", s.handleRemoveTag)
			})
		})

		r.Route("/explorer", func(r chi.Router) {
			r.Get("/graph", s.handleGraph)
			r.Get("/nodes/{nodeId}", s.handleNode)
		})
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name" validate:"max=80"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.validateStruct(body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSession(w, session)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.validateStruct(body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSession(w, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var session Session
	if token := bearerToken(r); token != "" {
		if current, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = current
		}
	}
	s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListTags(w http.ResponseWriter, r *http.Request) {
	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}
	reference := referenceParam(r)
	views, err := s.service.tags.ListTags(r.Context(), session.Actor(), reference)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reference": reference, "tags": views})
}

type addTagRequest struct {
	Tag        string `json:"tag" validate:"required,max=64"`
	Category   string `json:"category" validate:"omitempty,max=32"`
	IsPersonal bool   `json:"isPersonal"`
}

func (s *HTTPServer) handleAddTag(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body addTagRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.validateStruct(body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.tags.AddTag(r.Context(), session.Actor(), tags.AddInput{
		Reference: referenceParam(r),
		Tag:       body.Tag,
		Category:  body.Category,
		Personal:  body.IsPersonal,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	result, err := s.service.tags.RemoveTag(r.Context(), session.Actor(), referenceParam(r), urlParam(r, "tagName"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.optionalSession(w, r); !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reference := referenceParam(r)
	recommendations := s.service.tags.Recommend(r.Context(), reference, limit)
	if s.service.metrics != nil {
		s.service.metrics.RecommendationServed()
	}
	writeJSON(w, http.StatusOK, map[string]any{"reference": reference, "recommendations": recommendations})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tagName := r.URL.Query().Get("tag")
	references, err := s.service.tags.SearchReferences(r.Context(), session.Actor(), tagName, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tag":        tags.NormalizeName(tagName),
		"references": references,
		"count":      len(references),
	})
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}
	groups, err := s.service.tags.Catalog(r.Context(), session.Actor())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": groups})
}

func (s *HTTPServer) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions := map[explorer.Category][]string{}
	if s.service.static != nil {
		suggestions = s.service.static.Suggestions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *HTTPServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.optionalSession(w, r); !ok {
		return
	}
	result := s.service.explorer.Graph(r.Context())
	w.Header().Set("X-Graph-Source", result.Source)
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":  result.Graph.Nodes,
		"links":  result.Graph.Links,
		"source": result.Source,
	})
}

func (s *HTTPServer) handleNode(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.optionalSession(w, r); !ok {
		return
	}
	hood, err := s.service.explorer.Node(r.Context(), urlParam(r, "nodeId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hood)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return s.lookupSession(w, r, token)
}

// optionalSession resolves the bearer token when one is sent. A missing
// token is an anonymous session; a bad one is rejected so the client
// refreshes instead of silently losing its personal tags.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, true
	}
	return s.lookupSession(w, r, token)
}

func (s *HTTPServer) lookupSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if isAuthError(err) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.String("request_id", chimiddleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		requestID := chimiddleware.GetReqID(r.Context())
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		if s.service.metrics != nil {
			s.service.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

func writeSession(w http.ResponseWriter, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// urlParam returns a decoded path parameter. chi hands back the escaped
// segment only when the request carried a RawPath.
func urlParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

func referenceParam(r *http.Request) string {
	return tags.JoinReference(urlParam(r, "book"), urlParam(r, "chapter"), urlParam(r, "verse"))
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", map[string]string{"limit": raw}, err)
	}
	return limit, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if isAuthError(err) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var tagErr *tags.Error
	if errors.As(err, &tagErr) {
		switch tagErr.Kind {
		case tags.KindValidation:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", tagErr.Message, nil
		case tags.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", tagErr.Message, nil
		case tags.KindUnauthorized:
			return http.StatusUnauthorized, "UNAUTHORIZED", tagErr.Message, nil
		case tags.KindForbidden:
			return http.StatusForbidden, "FORBIDDEN", tagErr.Message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
