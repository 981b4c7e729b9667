package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyng353/web-messenger/internal/config"
	"github.com/jeremyng353/web-messenger/internal/db"
	"github.com/jeremyng353/web-messenger/internal/models"
	"github.com/jeremyng353/web-messenger/internal/mw"
	"github.com/jeremyng353/web-messenger/internal/service"
	"github.com/jeremyng353/web-messenger/internal/session"
	"github.com/jeremyng353/web-messenger/internal/store"
	"github.com/jeremyng353/web-messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type testEnv struct {
	engine   *gin.Engine
	repo     *store.Repository
	sessions *session.Manager
	hub      *ws.Hub
}

func setupTestEnv(t *testing.T, limiter *mw.Limiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Connect("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	repo := store.New(gdb)

	clientDir := t.TempDir()
	files := map[string]string{
		"index.html": "<html>chat</html>",
		"app.js":     "console.log('app')",
		"login.html": "<form>login</form>",
		"style.css":  "body{}",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(clientDir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	sessions := session.NewManager(session.NewMemoryBackend(), time.Minute)
	hub := ws.NewHub(repo, ws.Options{FlushRetryInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	users := service.NewUserService(repo, sessions)
	if _, err := users.Register(context.Background(), "alice", "secret", false); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	h := NewHandler(users, service.NewRoomService(repo, hub), service.NewMessageService(repo))
	cfg := config.Config{Env: "test", ClientDir: clientDir}

	return &testEnv{
		engine:   SetupRouter(cfg, h, sessions, limiter),
		repo:     repo,
		sessions: sessions,
		hub:      hub,
	}
}

func (e *testEnv) do(method, path, body, cookie string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

var jsonAccept = map[string]string{"Accept": "application/json"}

// login posts the form and returns the session token from Set-Cookie.
func (e *testEnv) login(t *testing.T, username, password string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return w, c.Value
		}
	}
	return w, ""
}

func TestHealthz(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(http.MethodGet, "/healthz", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t, nil)

	w, token := env.login(t, "alice", "secret")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("login = %d to %q, want 302 to /", w.Code, w.Header().Get("Location"))
	}
	if len(token) != 2*session.TokenBytes {
		t.Errorf("token length = %d, want %d", len(token), 2*session.TokenBytes)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "nope"},
		{"unknown user", "bob", "secret"},
		{"empty form", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, token := env.login(t, tt.username, tt.password)
			if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
				t.Errorf("login = %d to %q, want 302 to /login", w.Code, w.Header().Get("Location"))
			}
			if token != "" {
				t.Error("failed login should not set a session cookie")
			}
		})
	}
}

func TestLogin_AcceptsJSON(t *testing.T) {
	env := setupTestEnv(t, nil)

	w := env.do(http.MethodPost, "/login", `{"username":"alice","password":"secret"}`, "", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("login = %d to %q, want 302 to /", w.Code, w.Header().Get("Location"))
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := setupTestEnv(t, mw.NewLimiter(rate.Every(time.Hour), 1, time.Minute))

	if w, _ := env.login(t, "alice", "nope"); w.Code != http.StatusFound {
		t.Fatalf("first login = %d, want 302", w.Code)
	}
	if w, _ := env.login(t, "alice", "secret"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second login = %d, want 429", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t, nil)

	tests := []struct {
		name     string
		path     string
		cookie   string
		header   map[string]string
		wantCode int
	}{
		{"json client without cookie", "/chat", "", jsonAccept, http.StatusUnauthorized},
		{"browser without cookie", "/chat", "", nil, http.StatusFound},
		{"unknown token", "/profile", strings.Repeat("0", 512), jsonAccept, http.StatusUnauthorized},
		{"index page", "/", "", nil, http.StatusFound},
		{"client script", "/app.js", "", nil, http.StatusFound},
		{"messages", "/chat/x/messages", "", jsonAccept, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.path, "", tt.cookie, tt.header)
			if w.Code != tt.wantCode {
				t.Fatalf("GET %s = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
			if w.Code == http.StatusFound && w.Header().Get("Location") != "/login" {
				t.Errorf("redirect to %q, want /login", w.Header().Get("Location"))
			}
			if w.Code == http.StatusUnauthorized && !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("401 body = %s, want an error field", w.Body.String())
			}
		})
	}
}

func TestProfileAndLogout(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")

	w := env.do(http.MethodGet, "/profile", "", token, jsonAccept)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"username":"alice"}` {
		t.Fatalf("GET /profile = %d %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodGet, "/logout", "", token, nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Errorf("GET /logout = %d to %q", w.Code, w.Header().Get("Location"))
	}
	if w = env.do(http.MethodGet, "/profile", "", token, jsonAccept); w.Code != http.StatusUnauthorized {
		t.Errorf("GET /profile after logout = %d, want 401", w.Code)
	}
	if w = env.do(http.MethodGet, "/logout", "", "", nil); w.Code != http.StatusFound {
		t.Errorf("GET /logout without session = %d, want 302", w.Code)
	}
}

func TestRooms(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")

	w := env.do(http.MethodPost, "/chat", `{"name":"  "}`, token, jsonAccept)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("POST /chat without name = %d %s, want 400 with error", w.Code, w.Body.String())
	}
	if w = env.do(http.MethodPost, "/chat", `not json`, token, jsonAccept); w.Code != http.StatusBadRequest {
		t.Errorf("POST /chat with bad payload = %d, want 400", w.Code)
	}

	w = env.do(http.MethodPost, "/chat", `{"name":"Lobby","image":"assets/lobby.png"}`, token, jsonAccept)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d %s", w.Code, w.Body.String())
	}
	var created models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ID == "" || created.Name != "Lobby" {
		t.Fatalf("created room = %+v (%v)", created, err)
	}
	if !strings.Contains(w.Body.String(), `"_id"`) {
		t.Errorf("room JSON should use _id: %s", w.Body.String())
	}

	w = env.do(http.MethodGet, "/chat", "", token, jsonAccept)
	var rooms []models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &rooms); err != nil || len(rooms) != 1 {
		t.Fatalf("GET /chat = %s (%v)", w.Body.String(), err)
	}
	if rooms[0].ID != created.ID || rooms[0].Messages == nil {
		t.Errorf("listed room = %+v, want %s with an empty messages array", rooms[0], created.ID)
	}

	if w = env.do(http.MethodGet, "/chat/"+created.ID, "", token, jsonAccept); w.Code != http.StatusOK {
		t.Errorf("GET /chat/:id = %d", w.Code)
	}
	w = env.do(http.MethodGet, "/chat/nope", "", token, jsonAccept)
	if w.Code != http.StatusNotFound || w.Body.String() != "Room nope was not found" {
		t.Errorf("GET /chat/nope = %d %q", w.Code, w.Body.String())
	}
}

func TestRooms_CreateFromForm(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")

	form := url.Values{"name": {"Garden"}, "image": {"assets/garden.png"}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("POST /chat (form) = %d %s", w.Code, w.Body.String())
	}
	var created models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.Name != "Garden" || created.Image != "assets/garden.png" {
		t.Errorf("created room = %+v (%v)", created, err)
	}
}

func TestMessages(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")
	ctx := context.Background()

	for _, ts := range []int64{100, 200} {
		msgs := []models.ChatMessage{{Username: "alice", Text: "at"}}
		if _, err := env.repo.AddConversation(ctx, models.Conversation{RoomID: "R", Timestamp: ts, Messages: msgs}); err != nil {
			t.Fatalf("AddConversation() error = %v", err)
		}
	}

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantTS   int64 // 0 means null body
	}{
		{"between blocks", "?before=150", http.StatusOK, 100},
		{"exclusive bound", "?before=200", http.StatusOK, 100},
		{"default is now", "", http.StatusOK, 200},
		{"nothing older", "?before=50", http.StatusOK, 0},
		{"not a number", "?before=yesterday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/chat/R/messages"+tt.query, "", token, jsonAccept)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if tt.wantTS == 0 {
				if strings.TrimSpace(w.Body.String()) != "null" {
					t.Errorf("body = %s, want null", w.Body.String())
				}
				return
			}
			var conv models.Conversation
			if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil || conv.Timestamp != tt.wantTS {
				t.Errorf("conversation = %+v (%v), want timestamp %d", conv, err, tt.wantTS)
			}
		})
	}
}

func TestStaticFiles(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")

	tests := []struct {
		name     string
		path     string
		cookie   string
		wantCode int
		wantBody string
	}{
		{"index with session", "/", token, http.StatusOK, "<html>chat</html>"},
		{"index alias", "/index", token, http.StatusOK, "<html>chat</html>"},
		{"script with session", "/app.js", token, http.StatusOK, "console.log('app')"},
		{"login page is public", "/login", "", http.StatusOK, "<form>login</form>"},
		{"public asset", "/style.css", "", http.StatusOK, "body{}"},
		{"missing asset", "/nope.css", "", http.StatusNotFound, ""},
		{"protected file through dot segments", "/x/../index.html", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.path, "", tt.cookie, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("GET %s = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("GET %s body = %q, want %q", tt.path, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestWSRouter_RelaysWithSessionUsername(t *testing.T) {
	env := setupTestEnv(t, nil)
	_, token := env.login(t, "alice", "secret")

	srv := httptest.NewServer(SetupWSRouter(env.hub, env.sessions, NewWSLimiter()))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	dial := func(cookie string) *websocket.Conn {
		header := http.Header{"Cookie": {session.CookieName + "=" + cookie}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	sender := dial(token)
	receiver := dial(strings.Repeat("f", 512))

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Online() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.hub.Online() != 2 {
		t.Fatalf("Online() = %d, want 2", env.hub.Online())
	}

	if err := sender.WriteJSON(map[string]string{"roomId": "R", "text": "<hi>"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out ws.OutboundMessage
	if err := receiver.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Username != "alice" || out.Text != "%3Chi%3E" || out.RoomID != "R" {
		t.Errorf("received %+v", out)
	}

	if got := env.hub.Pending("R"); len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("Pending(R) = %+v", got)
	}
}
