package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"udstportal/portal-service/internal/auth"
	"udstportal/portal-service/internal/models"
	"udstportal/portal-service/internal/portal"
	"udstportal/portal-service/internal/store"
	"udstportal/portal-service/internal/store/memory"

	"golang.org/x/crypto/bcrypt"
)

// fakePortal overrides individual Portal methods; anything not overridden
// panics through the nil embedded interface.
type fakePortal struct {
	Portal
	getSessionFn func(ctx context.Context, key string) (models.Session, error)
	approveFn    func(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error)
	pingFn       func(ctx context.Context) error
}

func (f fakePortal) GetSession(ctx context.Context, key string) (models.Session, error) {
	if f.getSessionFn == nil {
		return models.Session{}, store.ErrSessionNotFound
	}
	return f.getSessionFn(ctx, key)
}

func (f fakePortal) Approve(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error) {
	return f.approveFn(ctx, actor, requestID, note)
}

func (f fakePortal) Ping(ctx context.Context) error {
	if f.pingFn == nil {
		return nil
	}
	return f.pingFn(ctx)
}

func adminSession(ctx context.Context, key string) (models.Session, error) {
	return models.Session{Key: key, Username: "admin", Role: models.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type mailedLink struct {
	email string
	link  string
}

type linkMailer struct {
	mu    sync.Mutex
	links []mailedLink
}

func (m *linkMailer) SendVerification(ctx context.Context, user models.User, link string) error {
	return m.record(user, link)
}

func (m *linkMailer) SendPasswordReset(ctx context.Context, user models.User, link string) error {
	return m.record(user, link)
}

func (m *linkMailer) record(user models.User, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, mailedLink{email: user.Email, link: link})
	return nil
}

// lastPath returns the path and query of the most recently mailed link.
func (m *linkMailer) lastPath(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatalf("expected a mailed link")
	}
	parsed, err := url.Parse(m.links[len(m.links)-1].link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return parsed.RequestURI()
}

type testServer struct {
	mailer  *linkMailer
	store   *memory.Store
	portal  *portal.Service
	handler http.Handler
	cookies *SessionCookies
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	st := memory.NewStore()
	mailer := &linkMailer{}
	svc := portal.New(st, portal.Options{
		Mailer:  mailer,
		Hasher:  auth.NewPasswordHasher(bcrypt.MinCost),
		BaseURL: "http://localhost:8080",
	})
	cookies := NewSessionCookies([]byte("0123456789abcdef0123456789abcdef"), nil, false)
	handler := NewHandler(svc, Options{Cookies: cookies}).Routes()

	if _, err := svc.SeedAdmin(context.Background(), "admin", "admin@udst.edu.qa", "admin-pass"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	hash, err := auth.NewPasswordHasher(bcrypt.MinCost).Hash("student-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := st.InsertUser(context.Background(), models.User{Name: "sara", Email: "sara@udst.edu.qa", PasswordHash: hash, Role: models.RoleBasic}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return testServer{mailer: mailer, store: st, portal: svc, handler: handler, cookies: cookies}
}

func (s testServer) do(t *testing.T, method, path, sessionID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T, identifier, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Identifier: identifier, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var session models.Session
	if err := json.NewDecoder(rec.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session.Key
}

func TestLoginSetsSessionCookie(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Identifier: "sara@udst.edu.qa", Password: "student-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName {
		t.Fatalf("expected %s cookie, got %v", sessionCookieName, cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	srv.handler.ServeHTTP(me, req)
	if me.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", me.Code)
	}
	var user models.User
	if err := json.NewDecoder(me.Body).Decode(&user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.Name != "sara" {
		t.Fatalf("expected sara, got %q", user.Name)
	}
}

func TestTamperedCookieIsRejected(t *testing.T) {
	srv := newTestServer(t)
	key := srv.login(t, "sara", "student-pass")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: key})
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestLoginFailureIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	for _, identifier := range []string{"sara", "nobody@udst.edu.qa"} {
		rec := srv.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Identifier: identifier, Password: "wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status 401, got %d", identifier, rec.Code)
		}
	}
}

func TestLogoutEndsSession(t *testing.T) {
	srv := newTestServer(t)
	key := srv.login(t, "sara", "student-pass")

	rec := srv.do(t, http.MethodPost, "/api/auth/logout", key, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/api/auth/me", key, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestRequestsRequireSession(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/requests", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", resp.Error.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	srv := newTestServer(t)
	key := srv.login(t, "sara", "student-pass")
	for _, path := range []string{"/api/admin/stats", "/api/admin/requests", "/api/admin/requests/by-type"} {
		rec := srv.do(t, http.MethodGet, path, key, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected status 403, got %d", path, rec.Code)
		}
	}
}

func TestSubmitAndDecideFlow(t *testing.T) {
	srv := newTestServer(t)
	student := srv.login(t, "sara", "student-pass")
	admin := srv.login(t, "admin", "admin-pass")

	rec := srv.do(t, http.MethodPost, "/api/requests", student, submitRequest{
		CourseCode:  "cmpt101",
		CourseName:  "Intro",
		RequestType: models.TypeDropCourse,
		Reason:      "conflict",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Request
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.CourseCode != "CMPT101" || created.Status != models.StatusSubmitted {
		t.Fatalf("unexpected request %+v", created)
	}

	rec = srv.do(t, http.MethodGet, "/api/admin/requests", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var listed struct {
		Status   string           `json:"status"`
		Requests []models.Request `json:"requests"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listed.Status != models.StatusSubmitted || len(listed.Requests) != 1 {
		t.Fatalf("unexpected listing %+v", listed)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/requests/"+created.RequestID+"/approve", admin, decisionRequest{Note: " ok "})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodGet, "/api/requests/"+created.RequestID, student, nil)
	var fetched models.Request
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Status != models.StatusApproved || fetched.Note != "ok" || fetched.ProcessedAt == nil {
		t.Fatalf("unexpected request %+v", fetched)
	}

	rec = srv.do(t, http.MethodPost, "/api/requests/"+created.RequestID+"/cancel", student, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestCancelAndResubmit(t *testing.T) {
	srv := newTestServer(t)
	student := srv.login(t, "sara", "student-pass")
	rec := srv.do(t, http.MethodPost, "/api/requests", student, submitRequest{
		CourseCode:     "MATH200",
		CourseName:     "Calculus",
		CurrentSection: "2",
		RequestType:    models.TypeChangeSection,
		Reason:         "clash with lab",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Request
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = srv.do(t, http.MethodPost, "/api/requests/"+created.RequestID+"/cancel", student, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/api/requests", student, nil)
	var mine struct {
		Requests []models.Request `json:"requests"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&mine); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mine.Requests) != 1 || mine.Requests[0].Status != models.StatusCanceled {
		t.Fatalf("unexpected requests %+v", mine.Requests)
	}

	rec = srv.do(t, http.MethodPost, "/api/requests/"+created.RequestID+"/resubmit", student, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/requests/"+created.RequestID+"/archive", student, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestSubmitRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)
	student := srv.login(t, "sara", "student-pass")
	rec := srv.do(t, http.MethodPost, "/api/requests", student, map[string]string{"course": "X"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestAdminListRejectsUnknownStatus(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.login(t, "admin", "admin-pass")
	rec := srv.do(t, http.MethodGet, "/api/admin/requests?status=archived", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestResetPasswordTokenCheck(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/auth/reset-password?key=bogus", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/auth/forgot-password", "", forgotPasswordRequest{Email: "ghost@udst.edu.qa"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestRegisterMapsConflicts(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{
		Name: "sara2", Email: "sara@udst.edu.qa", Password: "p", ConfirmPassword: "p",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{
		Name: "new", Email: "new@udst.edu.qa", Password: "p", ConfirmPassword: "p",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
}

func TestApproveErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", store.ErrRequestNotFound, http.StatusNotFound, "not_found"},
		{"invalid state", store.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{"forbidden", portal.ErrForbidden, http.StatusForbidden, "access_denied"},
		{"unavailable", store.Unavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, "store_unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := fakePortal{
				getSessionFn: adminSession,
				approveFn: func(ctx context.Context, actor models.Session, requestID, note string) (models.Request, error) {
					return models.Request{}, tc.err
				},
			}
			handler := NewHandler(fake, Options{}).Routes()
			req := httptest.NewRequest(http.MethodPost, "/api/admin/requests/r1/approve", nil)
			req.Header.Set("X-Session-ID", "s1")
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tc.code || resp.RequestID != "req-1" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestHealthReportsStoreOutage(t *testing.T) {
	fake := fakePortal{pingFn: func(ctx context.Context) error { return store.Unavailable(errors.New("down")) }}
	rec := httptest.NewRecorder()
	NewHandler(fake, Options{}).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestSplitActionPath(t *testing.T) {
	cases := map[string][2]string{
		"/api/requests/abc":        {"abc", ""},
		"/api/requests/abc/cancel": {"abc", "cancel"},
		"/api/requests/":           {"", ""},
		"/api/requests/a/b/c":      {"", ""},
	}
	for path, want := range cases {
		id, action := splitActionPath(path, "/api/requests/")
		if id != want[0] || action != want[1] {
			t.Fatalf("%s: got (%q, %q)", path, id, action)
		}
	}
}

func TestLoggingMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	handler := LoggingMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusTeapot)
	}))
	before := requestsErrors.Value()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("expected generated request id, got %q", seen)
	}
	if requestsErrors.Value() != before+1 {
		t.Fatalf("expected error counter to advance")
	}
}

func TestMailedVerificationLinkCompletesRegistration(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{
		Name: "omar", Email: "omar@udst.edu.qa", Password: "omar-pass", ConfirmPassword: "omar-pass",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	link := srv.mailer.lastPath(t)
	if !strings.HasPrefix(link, "/verify?") {
		t.Fatalf("unexpected verification link %q", link)
	}
	rec = srv.do(t, http.MethodGet, link, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	srv.login(t, "omar@udst.edu.qa", "omar-pass")

	rec = srv.do(t, http.MethodGet, link, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 on reuse, got %d", rec.Code)
	}
}

func TestMailedResetLinkValidatesKey(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/auth/forgot-password", "", forgotPasswordRequest{Email: "sara@udst.edu.qa"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	link := srv.mailer.lastPath(t)
	if !strings.HasPrefix(link, "/resetPassword?") {
		t.Fatalf("unexpected reset link %q", link)
	}
	rec = srv.do(t, http.MethodGet, link, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["email"] != "sara@udst.edu.qa" {
		t.Fatalf("unexpected body %v", body)
	}

	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec = srv.do(t, http.MethodPost, "/resetPassword", "", resetPasswordRequest{
		Key: parsed.Query().Get("key"), Password: "fresh-pass", ConfirmPassword: "fresh-pass",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	srv.login(t, "sara", "fresh-pass")
}

func TestPublicEndpointsRejectWrongMethod(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/auth/login", "/api/auth/register", "/api/auth/forgot-password"} {
		rec := srv.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected status 405, got %d", path, rec.Code)
		}
	}
	rec := srv.do(t, http.MethodDelete, "/api/auth/reset-password", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestDecisionAcceptsChunkedEmptyBody(t *testing.T) {
	srv := newTestServer(t)
	student := srv.login(t, "sara", "student-pass")
	admin := srv.login(t, "admin", "admin-pass")
	rec := srv.do(t, http.MethodPost, "/api/requests", student, submitRequest{
		CourseCode: "CS101", CourseName: "Intro", RequestType: models.TypeDropCourse, Reason: "clash",
	})
	var created models.Request
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/requests/"+created.RequestID+"/pending", strings.NewReader(""))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/requests/"+created.RequestID+"/approve", strings.NewReader("{"))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", rec.Code)
	}
}
