package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dmchat/internal/middleware"
	"dmchat/internal/user"
)

// stubUserStore keeps accounts in memory so the real user service and JWT
// flow can run without Postgres.
type stubUserStore struct {
	mu     sync.Mutex
	nextID int
	byName map[string]*user.User
	byID   map[int]*user.User
}

func newStubUserStore() *stubUserStore {
	return &stubUserStore{byName: make(map[string]*user.User), byID: make(map[int]*user.User)}
}

func (s *stubUserStore) CreateUser(ctx context.Context, u *user.User) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u.ID = s.nextID
	s.byName[u.Username] = u
	s.byID[u.ID] = u
	return u, nil
}

func (s *stubUserStore) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byName[username]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (s *stubUserStore) GetByID(ctx context.Context, id int) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (s *stubUserStore) Search(ctx context.Context, query string) ([]user.User, error) {
	return nil, nil
}

func (s *stubUserStore) List(ctx context.Context, excludeID int) ([]user.User, error) {
	return nil, nil
}

type testServer struct {
	srv *httptest.Server
}

// newChatServer wires the full stack — user service, auth middleware,
// registry, presence, delivery, gateway — behind an httptest server, and
// returns bearer tokens for two registered users.
func newChatServer(t *testing.T) (ts *testServer, aliceToken, bobToken string) {
	t.Helper()

	const secret = "0123456789abcdef0123456789abcdef"
	userSvc := user.NewService(newStubUserStore(), secret)

	signup := func(name string) string {
		_, err := userSvc.Register(context.Background(), &user.RegisterRequest{Username: name, Password: "hunter2hunter2"})
		require.NoError(t, err)
		res, err := userSvc.Login(context.Background(), &user.LoginRequest{Username: name, Password: "hunter2hunter2"})
		require.NoError(t, err)
		return res.AccessToken
	}
	aliceToken = signup("alice")
	bobToken = signup("bob")

	reg := NewRegistry(zerolog.Nop())
	presence := NewPresenceTracker(reg, nil, zerolog.Nop())
	reg.Subscribe(presence)

	store := newMemStore(1000)
	dir := &stubDirectory{users: map[int]bool{1: true, 2: true}}
	delivery := NewDelivery(store, reg, dir, nil, zerolog.Nop())
	gateway := NewGateway(reg, presence, 16, zerolog.Nop())
	handler := NewHandler(delivery, store, gateway, validator.New(), zerolog.Nop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(userSvc).Handle)
		r.Get("/ws", handler.ServeWS)
		r.Post("/api/messages", handler.SendMessage)
		r.Get("/api/messages", handler.History)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv}, aliceToken, bobToken
}

func (ts *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt wireEvent
	require.NoError(t, json.Unmarshal(raw, &evt))
	return evt
}

func (ts *testServer) post(t *testing.T, token, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestGateway_SnapshotThenLivePresence(t *testing.T) {
	ts, aliceToken, bobToken := newChatServer(t)

	aliceWS := ts.dial(t, aliceToken)
	snap := readWire(t, aliceWS)
	require.Equal(t, EventPresenceSnapshot, snap.Kind)
	require.ElementsMatch(t, []int{1}, snap.UserIDs)

	bobWS := ts.dial(t, bobToken)
	snap = readWire(t, bobWS)
	require.Equal(t, EventPresenceSnapshot, snap.Kind)
	require.ElementsMatch(t, []int{1, 2}, snap.UserIDs)

	online := readWire(t, aliceWS)
	require.Equal(t, EventPresenceOnline, online.Kind)
	require.Equal(t, 2, online.UserID)

	// Closing bob's only session announces him offline to alice.
	bobWS.Close()
	offline := readWire(t, aliceWS)
	require.Equal(t, EventPresenceOffline, offline.Kind)
	require.Equal(t, 2, offline.UserID)
}

func TestGateway_RejectedHandshakeNeverRegisters(t *testing.T) {
	ts, aliceToken, _ := newChatServer(t)

	aliceWS := ts.dial(t, aliceToken)
	require.Equal(t, EventPresenceSnapshot, readWire(t, aliceWS).Kind)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=not-a-token"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// No presence event leaks from the rejected attempt.
	require.NoError(t, aliceWS.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = aliceWS.ReadMessage()
	require.Error(t, err)
}

func TestSendMessage_EndToEnd(t *testing.T) {
	ts, aliceToken, bobToken := newChatServer(t)

	aliceWS := ts.dial(t, aliceToken)
	require.Equal(t, EventPresenceSnapshot, readWire(t, aliceWS).Kind)
	bobWS := ts.dial(t, bobToken)
	require.Equal(t, EventPresenceSnapshot, readWire(t, bobWS).Kind)
	require.Equal(t, EventPresenceOnline, readWire(t, aliceWS).Kind)

	res := ts.post(t, aliceToken, "/api/messages", map[string]any{"recipient_id": 2, "body": "hi"})
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var created Message
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	require.Equal(t, "hi", created.Body)
	require.Equal(t, ConversationKeyFor(1, 2), created.ConversationKey)

	evt := readWire(t, bobWS)
	require.Equal(t, EventMessageNew, evt.Kind)
	require.Equal(t, "hi", evt.Body)
	require.Equal(t, 1, evt.SenderID)

	// Sender sessions get the echo too.
	echo := readWire(t, aliceWS)
	require.Equal(t, EventMessageNew, echo.Kind)
	require.Equal(t, "hi", echo.Body)

	// And the message is durable regardless of the push.
	histReq, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/messages?peer_id=2", nil)
	require.NoError(t, err)
	histReq.Header.Set("Authorization", "Bearer "+aliceToken)
	histRes, err := http.DefaultClient.Do(histReq)
	require.NoError(t, err)
	defer histRes.Body.Close()
	require.Equal(t, http.StatusOK, histRes.StatusCode)

	var page HistoryPage
	require.NoError(t, json.NewDecoder(histRes.Body).Decode(&page))
	require.Len(t, page.Messages, 1)
	require.Equal(t, "hi", page.Messages[0].Body)
}

func TestSendMessage_ValidationOverHTTP(t *testing.T) {
	ts, aliceToken, _ := newChatServer(t)

	res := ts.post(t, aliceToken, "/api/messages", map[string]any{"recipient_id": 2, "body": ""})
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = ts.post(t, aliceToken, "/api/messages", map[string]any{"recipient_id": 99, "body": "hi"})
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = ts.post(t, aliceToken, "/api/messages", map[string]any{"recipient_id": 2, "body": fmt.Sprintf("%01001d", 1)})
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}
