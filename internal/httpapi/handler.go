package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/portal"
	"udstportal/portal-service/internal/store"
)

// Portal is the slice of portal.Service the HTTP layer drives.
type Portal interface {
	SessionLookup
	Ping(ctx context.Context) error
	Login(ctx context.Context, identifier, password string) (models.Session, error)
	Terminate(ctx context.Context, key string) error
	CurrentUser(ctx context.Context, session models.Session) (models.User, error)
	Register(ctx context.Context, input portal.RegisterInput) error
	CompleteVerification(ctx context.Context, email, token string) (models.User, error)
	RequestReset(ctx context.Context, email string) error
	ValidateToken(ctx context.Context, key string) (string, error)
	CompleteReset(ctx context.Context, key, password, confirm string) error
	Submit(ctx context.Context, actor models.Session, input portal.SubmitInput) (models.Request, error)
	GetRequest(ctx context.Context, actor models.Session, requestID string) (models.Request, error)
	Cancel(ctx context.Context, actor models.Session, requestID string) (models.Request, error)
	Resubmit(ctx context.Context, actor models.Session, requestID string) (models.Request, error)
	Approve(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error)
	Reject(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error)
	MarkPending(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error)
	ListByRequester(ctx context.Context, email string) ([]models.Request, error)
	ListByStatus(ctx context.Context, status string) ([]models.Request, error)
	ListByType(ctx context.Context) (map[string][]models.Request, error)
	Stats(ctx context.Context) (models.RequestStats, error)
}

type Handler struct {
	portal  Portal
	cookies *SessionCookies
	logger  *slog.Logger
}

type Options struct {
	Cookies *SessionCookies
	Logger  *slog.Logger
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Program         string `json:"program"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Key             string `json:"key"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type submitRequest struct {
	CourseCode     string `json:"course_code"`
	CourseName     string `json:"course_name"`
	CurrentSection string `json:"current_section"`
	RequestType    string `json:"request_type"`
	Reason         string `json:"reason"`
}

type decisionRequest struct {
	Note string `json:"note"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(p Portal, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{portal: p, cookies: options.Cookies, logger: logger}
}

// Routes returns the API mux wrapped in session authentication.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/verify", h.handleVerify)
	mux.HandleFunc("/api/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("/api/auth/reset-password", h.handleResetPassword)
	// Paths carried by the emailed links.
	mux.HandleFunc("/verify", h.handleVerify)
	mux.HandleFunc("/resetPassword", h.handleResetPassword)
	mux.HandleFunc("/api/requests", h.handleRequests)
	mux.HandleFunc("/api/requests/", h.handleRequestActions)
	mux.HandleFunc("/api/admin/requests", h.handleAdminRequests)
	mux.HandleFunc("/api/admin/requests/by-type", h.handleAdminByType)
	mux.HandleFunc("/api/admin/requests/", h.handleAdminActions)
	mux.HandleFunc("/api/admin/stats", h.handleAdminStats)
	return AuthMiddleware(h.portal, h.cookies, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.portal.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := h.portal.Login(r.Context(), strings.TrimSpace(req.Identifier), req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.cookies != nil {
		if err := h.cookies.Write(w, session); err != nil {
			h.logger.Error("encode session cookie", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if err := h.portal.Terminate(r.Context(), session.Key); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.cookies != nil {
		h.cookies.Clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	user, err := h.portal.CurrentUser(r.Context(), session)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.portal.Register(r.Context(), portal.RegisterInput{
		Name:            strings.TrimSpace(req.Name),
		Email:           strings.TrimSpace(req.Email),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Program:         strings.TrimSpace(req.Program),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification_sent"})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	email := strings.TrimSpace(query.Get("email"))
	token := strings.TrimSpace(query.Get("token"))
	if email == "" || token == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "email and token are required")
		return
	}
	user, err := h.portal.CompleteVerification(r.Context(), email, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.portal.RequestReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset_sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		email, err := h.portal.ValidateToken(r.Context(), key)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"email": email})
	case http.MethodPost:
		var req resetPasswordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := h.portal.CompleteReset(r.Context(), strings.TrimSpace(req.Key), req.Password, req.ConfirmPassword); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := h.portal.CurrentUser(r.Context(), session)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		requests, err := h.portal.ListByRequester(r.Context(), user.Email)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"requests": nonNil(requests)})
	case http.MethodPost:
		var req submitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		request, err := h.portal.Submit(r.Context(), session, portal.SubmitInput{
			CourseCode:     req.CourseCode,
			CourseName:     req.CourseName,
			CurrentSection: req.CurrentSection,
			RequestType:    req.RequestType,
			Reason:         req.Reason,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRequestActions serves /api/requests/{id} and its cancel and
// resubmit actions.
func (h *Handler) handleRequestActions(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	requestID, action := splitActionPath(r.URL.Path, "/api/requests/")
	if requestID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var (
		request models.Request
		err     error
	)
	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		request, err = h.portal.GetRequest(r.Context(), session, requestID)
	case "cancel", "resubmit":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if action == "cancel" {
			request, err = h.portal.Cancel(r.Context(), session, requestID)
		} else {
			request, err = h.portal.Resubmit(r.Context(), session, requestID)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (h *Handler) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = models.StatusSubmitted
	}
	if !models.ValidStatus(status) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "unknown status")
		return
	}
	requests, err := h.portal.ListByStatus(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "requests": nonNil(requests)})
}

func (h *Handler) handleAdminByType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	grouped, err := h.portal.ListByType(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for requestType, requests := range grouped {
		grouped[requestType] = nonNil(requests)
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.portal.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdminActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	requestID, action := splitActionPath(r.URL.Path, "/api/admin/requests/")
	if requestID == "" || action == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req decisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	note := strings.TrimSpace(req.Note)

	var (
		request models.Request
		err     error
	)
	switch action {
	case "approve":
		request, err = h.portal.Approve(r.Context(), session, requestID, note)
	case "reject":
		request, err = h.portal.Reject(r.Context(), session, requestID, note)
	case "pending":
		request, err = h.portal.MarkPending(r.Context(), session, requestID, note)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, requestIDFromRequest(r), status, code, message)
}

// splitActionPath turns "/prefix/{id}/{action}" into its id and action.
func splitActionPath(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], ""
	case 2:
		return parts[0], parts[1]
	default:
		return "", ""
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose payload may be absent.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func nonNil(requests []models.Request) []models.Request {
	if requests == nil {
		return []models.Request{}
	}
	return requests
}

func mapError(err error) (int, string, string) {
	var validation *portal.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_request", validation.Error()
	case errors.Is(err, portal.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case errors.Is(err, portal.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "invalid_token", "token is invalid or expired"
	case errors.Is(err, portal.ErrForbidden):
		return http.StatusForbidden, "access_denied", "not allowed to act on this request"
	case errors.Is(err, portal.ErrEmailNotRegistered):
		return http.StatusNotFound, "email_not_registered", "email is not registered"
	case errors.Is(err, store.ErrRequestNotFound):
		return http.StatusNotFound, "not_found", "request not found"
	case store.IsNotFound(err):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email is already registered"
	case errors.Is(err, store.ErrNameTaken):
		return http.StatusConflict, "name_taken", "name is already registered"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "request cannot move to that status"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable", "storage is unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
