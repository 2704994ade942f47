package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/memory"
	"github.com/robot-puzzle-api/internal/service"
	"github.com/robot-puzzle-api/internal/websocket"
)

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}

	store := memory.NewStore()
	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	scores := service.NewScoreService(store, nil, logger)
	scores.SetHub(hub)
	h := NewHandler(Services{
		Configurations: service.NewConfigurationService(store, logger),
		Rounds:         service.NewRoundService(store, logger),
		Scores:         scores,
		Profiles:       service.NewProfileService(store, nil, logger),
	}, hub, store, cfg, logger)

	return &testServer{router: h.Router(), store: store}
}

// do sends a request as user (no identity headers when user is empty)
func (s *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Email", user+"@example.com")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decode(t, rec, &body)
	return body.Error
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageResponse
	decode(t, rec, &body)
	return body.Message
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/configurations", "/rounds", "/scores", "/user/profile", "/user/username/u1"} {
		rec := s.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
		if got := errorOf(t, rec); got != unauthorizedMessage {
			t.Fatalf("GET %s error = %q", path, got)
		}
	}
}

func TestIdentityCheckedBeforeBody(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path  string
		ctype string
	}{
		{"/scores/round_1", "text/plain"},
		{"/configurations", ""},
		{"/rounds", "application/xml"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"moves":3}`))
		if tt.ctype != "" {
			req.Header.Set("Content-Type", tt.ctype)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("POST %s (%q) status = %d, want 401", tt.path, tt.ctype, rec.Code)
		}
		if got := errorOf(t, rec); got != unauthorizedMessage {
			t.Fatalf("POST %s error = %q", tt.path, got)
		}
	}
}

func TestPreflightSkipsIdentity(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.CORS.Scores.AllowOrigin = "https://robots.example.com"
	})

	rec := s.do(t, http.MethodOptions, "/scores/round_1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("preflight body = %q, want empty", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://robots.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST,OPTIONS" {
		t.Fatalf("allow methods = %q", got)
	}
}

func TestUnknownPathAndMethod(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/nowhere", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", rec.Code)
	}

	rec = s.do(t, http.MethodPatch, "/configurations", "u1", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PATCH status = %d, want 405", rec.Code)
	}
	if got := errorOf(t, rec); got != "Method not allowed" {
		t.Fatalf("405 error = %q", got)
	}
}

func TestConfigurationLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/configurations", "u1", `{"walls":[{"x":1}],"targets":[{"x":2}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		ConfigID string `json:"configId"`
	}
	decode(t, rec, &created)
	if created.ConfigID != "1" {
		t.Fatalf("configId = %q, want 1", created.ConfigID)
	}

	rec = s.do(t, http.MethodGet, "/configurations", "u1", "")
	var list map[string]struct {
		Walls     json.RawMessage `json:"walls"`
		CreatedAt string          `json:"createdAt"`
	}
	decode(t, rec, &list)
	if _, ok := list["1"]; !ok || len(list) != 1 {
		t.Fatalf("list = %s", rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/configurations", "u2", "")
	var other map[string]json.RawMessage
	decode(t, rec, &other)
	if len(other) != 0 {
		t.Fatalf("other user sees %d configurations", len(other))
	}

	rec = s.do(t, http.MethodPut, "/configurations/1", "u1", `{"walls":[],"targets":[]}`)
	if rec.Code != http.StatusOK || messageOf(t, rec) != "Configuration updated successfully" {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/configurations/1", "u1", `{"walls":[]}`)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Missing walls or targets data" {
		t.Fatalf("update without targets = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/configurations/9", "u1", `{"walls":[],"targets":[]}`)
	if rec.Code != http.StatusNotFound || errorOf(t, rec) != "Configuration not found" {
		t.Fatalf("update missing = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodDelete, "/configurations/1", "u1", "")
	if rec.Code != http.StatusOK || messageOf(t, rec) != "Configuration deleted successfully" {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body)
	}
	rec = s.do(t, http.MethodGet, "/configurations/1", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
}

func TestBodyErrors(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	tests := []struct {
		name    string
		body    string
		ctype   string
		status  int
		message string
	}{
		{"malformed", `{"walls":`, "application/json", http.StatusBadRequest, "Invalid JSON in request body"},
		{"whitespace", `   `, "application/json", http.StatusBadRequest, "Request body is required"},
		{"too large", `{"walls":"` + strings.Repeat("x", 100) + `"}`, "application/json", http.StatusRequestEntityTooLarge, "Request body too large"},
		{"wrong type", `{}`, "text/plain", http.StatusUnsupportedMediaType, unsupportedTypeMessage},
		{"json with charset", `{"walls":[],"targets":[]}`, "application/json; charset=utf-8", http.StatusCreated, ""},
		{"no content type", `{"walls":[],"targets":[]}`, "", http.StatusCreated, ""},
		{"nul escape", `{"walls":["a\u0000"],"targets":[]}`, "application/json", http.StatusBadRequest, "Request body must not contain NUL characters"},
		{"escaped backslash", `{"walls":["a\\u0000"],"targets":[]}`, "application/json", http.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/configurations", strings.NewReader(tt.body))
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			req.Header.Set("X-User-ID", "u1")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.message != "" {
				if got := errorOf(t, rec); got != tt.message {
					t.Fatalf("error = %q, want %q", got, tt.message)
				}
			}
		})
	}
}

func TestRoundLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/rounds/config/12", "author", `{
		"initialRobotPositions": {"red": {"x": 1, "y": 1}},
		"targetPositions": {"x": 4, "y": 4, "color": "red"}
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var round struct {
		RoundID      string                       `json:"roundId"`
		RoundName    string                       `json:"roundName"`
		ConfigID     string                       `json:"configId"`
		AuthorID     string                       `json:"authorId"`
		PuzzleStates []map[string]json.RawMessage `json:"puzzleStates"`
	}
	decode(t, rec, &round)
	if !strings.HasPrefix(round.RoundID, "round_") || round.ConfigID != "12" || round.AuthorID != "author" {
		t.Fatalf("round = %+v", round)
	}
	if round.RoundName != "Round from config 12" {
		t.Fatalf("roundName = %q", round.RoundName)
	}
	if len(round.PuzzleStates) != 1 || round.PuzzleStates[0]["targetPosition"] == nil {
		t.Fatalf("puzzle states = %s", rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/rounds", "author", `{"initialRobotPositions": {}}`)
	if rec.Code != http.StatusBadRequest || !strings.HasPrefix(errorOf(t, rec), "Missing required fields") {
		t.Fatalf("incomplete legacy create = %d %s", rec.Code, rec.Body)
	}

	for _, path := range []string{"/rounds", "/rounds/solved", "/rounds/user-completed"} {
		rec = s.do(t, http.MethodGet, path, "reader", "")
		var list []json.RawMessage
		decode(t, rec, &list)
		if rec.Code != http.StatusOK || len(list) != 1 {
			t.Fatalf("GET %s = %d with %d rounds", path, rec.Code, len(list))
		}
	}

	rec = s.do(t, http.MethodGet, "/rounds/config/"+round.RoundID, "reader", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy get status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/rounds/"+round.RoundID, "intruder", "")
	if rec.Code != http.StatusForbidden || errorOf(t, rec) != "You can only delete your own rounds" {
		t.Fatalf("foreign delete = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodDelete, "/rounds/"+round.RoundID, "author", "")
	if rec.Code != http.StatusOK || messageOf(t, rec) != "Round deleted successfully" {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/rounds/"+round.RoundID, "author", "")
	if rec.Code != http.StatusNotFound || errorOf(t, rec) != "Round not found" {
		t.Fatalf("get after delete = %d %s", rec.Code, rec.Body)
	}
}

func TestScoreSubmission(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/scores", "u1", `{"roundId":"round_1","moves":9,"moveSequence":["a"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submit = %d %s", rec.Code, rec.Body)
	}
	var accepted scoreAccepted
	decode(t, rec, &accepted)
	if !accepted.PersonalBest || accepted.AttemptCount != 1 || accepted.Moves != 9 {
		t.Fatalf("accepted = %+v", accepted)
	}

	// path round id wins over the body
	rec = s.do(t, http.MethodPost, "/scores/round_1", "u1", `{"roundId":"round_other","moves":12,"moveSequence":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("worse submit = %d %s", rec.Code, rec.Body)
	}
	var rejected scoreNotImproved
	decode(t, rec, &rejected)
	if rejected.PersonalBest || rejected.CurrentBest != 9 || rejected.Submitted != 12 || rejected.Message != "Score not improved" {
		t.Fatalf("rejected = %+v", rejected)
	}

	s.do(t, http.MethodPost, "/scores/round_1", "u2", `{"moves":4,"moveSequence":[]}`)

	rec = s.do(t, http.MethodGet, "/scores/round_1", "u1", "")
	var board []struct {
		UserID string `json:"userId"`
		Moves  int    `json:"moves"`
	}
	decode(t, rec, &board)
	if len(board) != 2 || board[0].UserID != "u2" || board[1].Moves != 9 {
		t.Fatalf("leaderboard = %s", rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/scores", "u1", "")
	var mine []json.RawMessage
	decode(t, rec, &mine)
	if len(mine) != 1 {
		t.Fatalf("user scores = %s", rec.Body)
	}
}

func TestScoreValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		path, body, want string
	}{
		{"/scores", `{"moves":3,"moveSequence":[]}`, "roundId is required for score submission (in path or body)"},
		{"/scores/round_1", `{"moveSequence":[]}`, "moves field is required"},
		{"/scores/round_1", `{"moves":-1,"moveSequence":[]}`, "moves must be a non-negative integer"},
		{"/scores/round_1", `{"moves":2.5,"moveSequence":[]}`, "moves must be a non-negative integer"},
		{"/scores/round_1", `{"moves":5000000,"moveSequence":[]}`, "moves must be at most 1000000"},
		{"/scores/round_1", `{"moves":3}`, "moveSequence field is required"},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, tt.path, "u1", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("POST %s %s status = %d", tt.path, tt.body, rec.Code)
		}
		if got := errorOf(t, rec); got != tt.want {
			t.Fatalf("POST %s %s error = %q, want %q", tt.path, tt.body, got, tt.want)
		}
	}
}

func TestProfiles(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/user/profile", "u1", "")
	var p map[string]interface{}
	decode(t, rec, &p)
	if rec.Code != http.StatusOK || p["userId"] != "u1" || p["email"] != "u1@example.com" {
		t.Fatalf("default profile = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/user/profile", "u1", `{"username":"ab"}`)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Username must be at least 3 characters long" {
		t.Fatalf("short username = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/user/profile", "u1", `[1,2]`)
	if rec.Code != http.StatusBadRequest || errorOf(t, rec) != "Profile data must be an object" {
		t.Fatalf("array body = %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/user/profile", "u1", `{"username":" robo_fan ","theme":"dark","userId":"spoofed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}
	decode(t, rec, &p)
	if p["username"] != "robo_fan" || p["theme"] != "dark" || p["userId"] != "u1" {
		t.Fatalf("updated profile = %s", rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/user/username/u1", "u2", "")
	var pub struct {
		UserID   string  `json:"userId"`
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	decode(t, rec, &pub)
	if pub.Username == nil || *pub.Username != "robo_fan" {
		t.Fatalf("public profile = %s", rec.Body)
	}
	if strings.Contains(rec.Body.String(), "theme") {
		t.Fatalf("public profile leaks attributes: %s", rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/user/username/ghost", "u2", "")
	if rec.Body.String() != "{\"userId\":\"ghost\",\"username\":null,\"email\":null}\n" {
		t.Fatalf("unknown user = %q", rec.Body.String())
	}
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/ready", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := websocket.NewHub(logger)
	h := NewHandler(Services{}, hub, downPinger{}, config.DefaultConfig(), logger)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with a down store = %d, want 503", rec.Code)
	}
}
