package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/config"
	"github.com/GoCodeAlone/taskloop/server/api"
	"github.com/GoCodeAlone/taskloop/task"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// idleLauncher records objectives without running anything.
type idleLauncher struct {
	store task.Store
}

func (l *idleLauncher) Start(objective string) (*task.Run, error) {
	r := task.NewRun(objective)
	if _, err := l.store.CreateRun(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (l *idleLauncher) Cancel(id string) error { return api.ErrNotActive }
func (l *idleLauncher) Active() []string       { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Auth: config.AuthConfig{
			AdminUser: "admin",
			AdminPass: string(hash),
			JWTSecret: "test-secret-key-1234567890",
			TokenTTL:  time.Hour,
		},
	}
	s := New(cfg, "test", nil)
	store := api.NewMemStore()
	s.SetStore(store)
	s.SetRunLauncher(&idleLauncher{store: store})
	s.SetBus(comms.NewInMemoryBus())
	return s
}

func login(t *testing.T, h http.Handler, user, pass string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: user, Password: pass})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func tokenFor(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := login(t, h, "admin", "secret")
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func TestSignAndVerifyJWT(t *testing.T) {
	token, err := signJWT("my-test-secret", "alice", time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	subject, err := verifyJWT("my-test-secret", token)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if subject != "alice" {
		t.Errorf("expected subject 'alice', got %q", subject)
	}
}

func TestVerifyJWT_ExpiredToken(t *testing.T) {
	token, err := signJWT("my-test-secret", "alice", -time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	if _, err := verifyJWT("my-test-secret", token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyJWT_BadSignature(t *testing.T) {
	token, _ := signJWT("correct-secret", "alice", time.Hour)
	if _, err := verifyJWT("wrong-secret", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestVerifyJWT_RejectsOtherMethods(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifyJWT("s", token); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestVerifyJWT_RequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("s"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifyJWT("s", token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestHandleLogin_Success(t *testing.T) {
	s := newTestServer(t)
	rr := login(t, s.Handler(), "admin", "secret")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected non-empty token in response")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("expires_at = %v, want future", resp.ExpiresAt)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	if rr := login(t, s.Handler(), "admin", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if rr := login(t, s.Handler(), "root", "secret"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong user: expected 401, got %d", rr.Code)
	}
}

func TestHandleLogin_DisabledWithoutPassword(t *testing.T) {
	s := New(config.Config{Auth: config.AuthConfig{AdminUser: "admin"}}, "test", nil)
	if rr := login(t, s.Handler(), "admin", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	token := tokenFor(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"objective":"Plan a picnic"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start run: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var runs []*task.Run
	if err := json.NewDecoder(rr.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Objective != "Plan a picnic" {
		t.Errorf("runs = %+v, want one picnic run", runs)
	}
}

func TestHandleMe(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	token := tokenFor(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp) //nolint:errcheck
	if resp["username"] != "admin" {
		t.Errorf("username = %q, want admin", resp["username"])
	}
}

func TestStatusIsPublic(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestSSE_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSSE_StreamsBusEvents(t *testing.T) {
	s := newTestServer(t)
	bus := comms.NewInMemoryBus()
	s.SetBus(bus)
	h := s.Handler()
	defer s.Stop(context.Background()) //nolint:errcheck
	token := tokenFor(t, h)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}
	readData() // connected

	deadline := time.Now().Add(5 * time.Second)
	for s.hub.Clients() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for SSE client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(ctx, &comms.Event{Type: comms.TypeRunTerminated, RunID: "run-1", Result: "done"}) //nolint:errcheck
	var ev comms.Event
	if err := json.Unmarshal([]byte(readData()), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != comms.TypeRunTerminated || ev.Result != "done" {
		t.Errorf("event = %+v", ev)
	}
}
