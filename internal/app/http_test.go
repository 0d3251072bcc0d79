package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"triad/api/internal/store"
)

func newTestHTTPServer(t *testing.T, opts Options) (*HTTPServer, *Service, *fakeStore) {
	t.Helper()
	svc, fs := newTestService(t, opts)
	return NewHTTPServer(svc), svc, fs
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthAndReady(t *testing.T) {
	server, _, fs := newTestHTTPServer(t, Options{})

	rec := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || decodeResponse(t, rec)["ok"] != true {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}

	rec = doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rec = doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with dead db = %d", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["status"] != "not_ready" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})
	rec := doJSON(t, server, http.MethodGet, "/api/nope", "", nil)
	if rec.Code != http.StatusNotFound || decodeResponse(t, rec)["code"] != "NOT_FOUND" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})
	for _, path := range []string{"/api/dashboard", "/api/streaks", "/api/check-ins/daily", "/api/profile", "/api/onboarding/status"} {
		rec := doJSON(t, server, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized || decodeResponse(t, rec)["code"] != "UNAUTHORIZED" {
			t.Errorf("%s = %d %s", path, rec.Code, rec.Body.String())
		}
		rec = doJSON(t, server, http.MethodGet, path, "garbage", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token = %d", path, rec.Code)
		}
	}
}

func TestStreakCalculateGetIsInformational(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})
	rec := doJSON(t, server, http.MethodGet, "/api/streaks/calculate", "", nil)
	if rec.Code != http.StatusOK || decodeResponse(t, rec)["message"] != "Use POST to calculate streaks" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, server, http.MethodPost, "/api/streaks/calculate", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("POST without auth = %d", rec.Code)
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})

	rec := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse", "displayName": "Ada",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup = %d %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeResponse(t, rec)["devVerificationToken"].(string)
	if token == "" {
		t.Fatal("missing devVerificationToken")
	}

	rec = doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse", "displayName": "Ada",
	})
	if rec.Code != http.StatusConflict || decodeResponse(t, rec)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("duplicate signup = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	if rec.Code != http.StatusForbidden || decodeResponse(t, rec)["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unverified signin = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify = %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, server, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": token})
	if rec.Code != http.StatusBadRequest || decodeResponse(t, rec)["code"] != "INVALID_TOKEN" {
		t.Fatalf("second verify = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "ada@example.com", "password": "wrong-password"})
	if rec.Code != http.StatusUnauthorized || decodeResponse(t, rec)["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad password = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("signin = %d %s", rec.Code, rec.Body.String())
	}
	signin := decodeResponse(t, rec)
	access, _ := signin["accessToken"].(string)
	refresh, _ := signin["refreshToken"].(string)

	rec = doJSON(t, server, http.MethodGet, "/api/session", access, nil)
	if payload := decodeResponse(t, rec); payload["authenticated"] != true || payload["userName"] != "Ada" {
		t.Fatalf("session = %v", payload)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", rec.Code, rec.Body.String())
	}
	rotated, _ := decodeResponse(t, rec)["accessToken"].(string)

	rec = doJSON(t, server, http.MethodPost, "/api/session/logout", rotated, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, server, http.MethodGet, "/api/session", rotated, nil)
	if decodeResponse(t, rec)["authenticated"] != false {
		t.Fatal("token still authenticated after logout")
	}
}

func TestInvalidBodyIs400(t *testing.T) {
	server, _, _ := newTestHTTPServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeResponse(t, rec)["code"] != "INVALID_BODY" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	svc.cfg.AuthRateLimit = 2
	server := NewHTTPServer(svc)

	body := map[string]string{"email": "ada@example.com", "password": "nope"}
	for i := 0; i < 2; i++ {
		if rec := doJSON(t, server, http.MethodPost, "/api/auth/signin", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d", i, rec.Code)
		}
	}
	rec := doJSON(t, server, http.MethodPost, "/api/auth/signin", "", body)
	if rec.Code != http.StatusTooManyRequests || decodeResponse(t, rec)["code"] != "RATE_LIMITED" {
		t.Fatalf("third attempt = %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, server, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health limited with auth routes: %d", rec.Code)
	}
}

func TestWellbeingRoutes(t *testing.T) {
	server, svc, _ := newTestHTTPServer(t, Options{})
	session := signedInUser(t, svc, "ada@example.com")
	token := session.Token

	rec := doJSON(t, server, http.MethodGet, "/api/reminders", token, nil)
	windows, _ := decodeResponse(t, rec)["windows"].([]any)
	if rec.Code != http.StatusOK || len(windows) != 2 || windows[0].(map[string]any)["default"] != true {
		t.Fatalf("reminders = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPut, "/api/reminders", token, map[string]any{
		"windows": []map[string]string{{"name": "Lunch", "start": "13:00", "end": "12:00"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad reminder = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPut, "/api/activities", token, map[string]any{
		"selections": map[string][]string{"Physical": {"Hydrate"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("activities = %d %s", rec.Code, rec.Body.String())
	}
	activities, _ := decodeResponse(t, rec)["activities"].([]any)
	if len(activities) != 1 {
		t.Fatalf("activities = %v", activities)
	}
	activityID := activities[0].(map[string]any)["id"].(string)

	rec = doJSON(t, server, http.MethodPut, "/api/check-ins/daily", token, map[string]any{"activityIds": []string{activityID}})
	if rec.Code != http.StatusOK || decodeResponse(t, rec)["streaksUpdated"] != true {
		t.Fatalf("daily = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPut, "/api/check-ins/morning-intent", token, map[string]string{"intention": "too short"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short intention = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "VALIDATION_ERROR" || payload["details"] == nil {
		t.Fatalf("validation payload = %v", payload)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/streaks", token, nil)
	harmony, _ := decodeResponse(t, rec)["harmony"].(map[string]any)
	if harmony["currentStreak"] != float64(1) {
		t.Fatalf("streaks = %s", rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/api/dashboard/wheel.svg", token, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/svg+xml" {
		t.Fatalf("wheel = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Harmony") {
		t.Fatal("wheel svg missing centre label")
	}

	rec = doJSON(t, server, http.MethodPut, "/api/profile/avatar", token, nil)
	if rec.Code != http.StatusServiceUnavailable || decodeResponse(t, rec)["code"] != "AVATAR_UNAVAILABLE" {
		t.Fatalf("avatar = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPut, "/api/profile", token, map[string]string{"firstName": " Ada ", "lastName": "Lovelace"})
	if payload := decodeResponse(t, rec); rec.Code != http.StatusOK || payload["firstName"] != "Ada" {
		t.Fatalf("profile = %d %v", rec.Code, payload)
	}
}

func TestAvatarUploadTooLarge(t *testing.T) {
	server, svc, _ := newTestHTTPServer(t, Options{Avatars: &fakeAvatars{}})
	session := signedInUser(t, svc, "ada@example.com")

	req := httptest.NewRequest(http.MethodPut, "/api/profile/avatar", bytes.NewReader(make([]byte, 2<<20+1)))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionStoreOutageIs500(t *testing.T) {
	server, svc, fs := newTestHTTPServer(t, Options{})
	session := signedInUser(t, svc, "ada@example.com")
	outage := func(context.Context, string) (store.User, error) {
		return store.User{}, errors.New("connection refused")
	}
	fs.consumeRefreshFn = outage
	fs.getUserByIDFn = outage

	rec := doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("refresh = %d %s, want 500", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, server, http.MethodGet, "/api/dashboard", session.Token, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("dashboard = %d %s, want 500", rec.Code, rec.Body.String())
	}

	fs.consumeRefreshFn = nil
	fs.getUserByIDFn = nil
	rec = doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": "rft_unknown"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown refresh token = %d, want 401", rec.Code)
	}
}
