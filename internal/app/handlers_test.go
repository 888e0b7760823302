package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/coinbridge/realtime/internal/bus"
	"github.com/coinbridge/realtime/internal/money"
	"github.com/coinbridge/realtime/internal/registry"
	"github.com/coinbridge/realtime/internal/session"
)

type testConn struct {
	id  uuid.UUID
	sid string

	mu   sync.Mutex
	sent [][]byte
}

func newTestConn(sid string) *testConn {
	return &testConn{id: uuid.New(), sid: sid}
}

func (c *testConn) ID() uuid.UUID     { return c.id }
func (c *testConn) SessionID() string { return c.sid }
func (c *testConn) Close() error      { return nil }

func (c *testConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *testConn) frames(t *testing.T) []bus.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env bus.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (c *testConn) lastFrame(t *testing.T) (string, bus.Payload) {
	t.Helper()
	frames := c.frames(t)
	if len(frames) == 0 {
		t.Fatal("no frames sent")
	}
	env := frames[len(frames)-1]
	data := bus.Payload{}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
	}
	return env.Name, data
}

type fakeStore struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal // accountID|ticker
	games    map[string][]string        // game -> accounts
	accounts map[string]string          // externalID -> accountID
	chat     []ChatMessage
	balErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]decimal.Decimal),
		games:    make(map[string][]string),
		accounts: make(map[string]string),
	}
}

func (f *fakeStore) UpsertAccount(ctx context.Context, externalID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.accounts[externalID]
	if !ok {
		id = "acct-" + externalID
		f.accounts[externalID] = id
	}
	return id, nil
}

func (f *fakeStore) Balance(ctx context.Context, accountID, ticker string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return decimal.Decimal{}, f.balErr
	}
	d, ok := f.balances[accountID+"|"+ticker]
	if !ok {
		return decimal.Decimal{}, ErrNoBalance
	}
	return d, nil
}

func (f *fakeStore) JoinGame(ctx context.Context, accountID, game string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[game] = append(f.games[game], accountID)
	return nil
}

func (f *fakeStore) RecentChat(ctx context.Context, limit int) ([]ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chat) > limit {
		return f.chat[:limit], nil
	}
	return f.chat, nil
}

func (f *fakeStore) SaveChat(ctx context.Context, accountID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = append(f.chat, ChatMessage{Author: accountID, Body: body, PostedAt: time.Now()})
	return nil
}

func newHandlersTest(t *testing.T) (*Handlers, *bus.Bus, *session.Store, *fakeStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sessions := session.NewStore(rdb, session.Config{
		Prefix:       "cb",
		TokenBytes:   16,
		AnonymousTTL: 10 * time.Second,
	}, nil)

	b := bus.New(sessions, registry.New(nil), nil)

	table, err := money.NewTable([]money.Currency{
		{Ticker: "BTC", Name: "Bitcoin"},
		{Ticker: "USD", Name: "US Dollar"},
		{Ticker: "XRP", Name: "Ripple"},
	}, nil)
	if err != nil {
		t.Fatalf("build currency table: %v", err)
	}

	store := newFakeStore()
	h := NewHandlers(b, store, table, nil)
	h.Register()
	return h, b, sessions, store
}

func loggedInConn(t *testing.T, b *bus.Bus, sessions *session.Store, accountID, name string) *testConn {
	t.Helper()
	sid, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := sessions.Login(context.Background(), sid, accountID, name); err != nil {
		t.Fatalf("login: %v", err)
	}
	conn := newTestConn(sid)
	b.ConnOpened(conn)
	return conn
}

func dispatch(t *testing.T, b *bus.Bus, conn *testConn, name string, data map[string]any) {
	t.Helper()
	data["sid"] = conn.sid
	raw, err := json.Marshal(map[string]any{"name": name, "data": data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	b.Dispatch(context.Background(), conn, raw)
}

func TestGetBalanceFormatsAtCurrencyScale(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")

	store.balances["acct1|USD"] = decimal.RequireFromString("1.005")
	store.balances["acct1|XRP"] = decimal.RequireFromString("0.0000005")

	dispatch(t, b, conn, "get-balance", map[string]any{"ticker": "USD"})
	name, data := conn.lastFrame(t)
	if name != "balance-response" {
		t.Fatalf("event = %q, want balance-response", name)
	}
	if data["success"] != true {
		t.Fatalf("success = %v, want true", data["success"])
	}
	if data["balance"] != "1.00" {
		t.Errorf("USD balance = %v, want 1.00", data["balance"])
	}

	dispatch(t, b, conn, "get-balance", map[string]any{"ticker": "XRP"})
	_, data = conn.lastFrame(t)
	if data["balance"] != "0.000000" {
		t.Errorf("XRP balance = %v, want 0.000000", data["balance"])
	}
}

func TestGetBalanceByCurrencyName(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")
	store.balances["acct1|BTC"] = decimal.RequireFromString("2")

	dispatch(t, b, conn, "get-balance", map[string]any{"currency": "bitcoin"})
	_, data := conn.lastFrame(t)
	if data["success"] != true {
		t.Fatalf("success = %v, want true", data["success"])
	}
	if data["ticker"] != "BTC" {
		t.Errorf("ticker = %v, want BTC", data["ticker"])
	}
	if data["balance"] != "2.00000000" {
		t.Errorf("balance = %v, want 2.00000000", data["balance"])
	}
}

func TestGetBalanceUnknownCurrency(t *testing.T) {
	_, b, sessions, _ := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")

	dispatch(t, b, conn, "get-balance", map[string]any{"currency": "dogecoin"})
	name, data := conn.lastFrame(t)
	if name != "balance-response" {
		t.Fatalf("event = %q, want balance-response", name)
	}
	if data["success"] != false {
		t.Errorf("success = %v, want false", data["success"])
	}
}

func TestGetBalanceAnonymousSession(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	sid, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	store.balances["acct1|USD"] = decimal.RequireFromString("5")

	conn := newTestConn(sid)
	b.ConnOpened(conn)

	dispatch(t, b, conn, "get-balance", map[string]any{"ticker": "USD"})
	_, data := conn.lastFrame(t)
	if data["success"] != false {
		t.Errorf("success = %v, want false for anonymous session", data["success"])
	}
}

func TestGetBalanceStoreError(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")
	store.balErr = errors.New("connection refused")

	dispatch(t, b, conn, "get-balance", map[string]any{"ticker": "USD"})
	_, data := conn.lastFrame(t)
	if data["success"] != false {
		t.Errorf("success = %v, want false on store error", data["success"])
	}
}

func TestJoinGameBroadcastsPlayerJoined(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")
	other := loggedInConn(t, b, sessions, "acct2", "bob")

	dispatch(t, b, conn, "join-game", map[string]any{"game": "dice"})

	if got := store.games["dice"]; len(got) != 1 || got[0] != "acct1" {
		t.Errorf("game membership = %v, want [acct1]", got)
	}

	frames := conn.frames(t)
	if len(frames) != 2 {
		t.Fatalf("caller frames = %d, want 2 (response + broadcast)", len(frames))
	}
	if frames[0].Name != "join-game-response" {
		t.Errorf("first event = %q, want join-game-response", frames[0].Name)
	}

	name, data := other.lastFrame(t)
	if name != "player-joined" {
		t.Fatalf("broadcast event = %q, want player-joined", name)
	}
	if data["player"] != "alice" {
		t.Errorf("player = %v, want alice", data["player"])
	}
	if data["game"] != "dice" {
		t.Errorf("game = %v, want dice", data["game"])
	}
}

func TestUserlistReportsAuthenticatedSessions(t *testing.T) {
	_, b, sessions, _ := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")
	loggedInConn(t, b, sessions, "acct2", "bob")

	// An anonymous connection must not appear.
	anonSID, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	b.ConnOpened(newTestConn(anonSID))

	dispatch(t, b, conn, "userlist", map[string]any{})
	name, data := conn.lastFrame(t)
	if name != "user-listing" {
		t.Fatalf("event = %q, want user-listing", name)
	}

	list, ok := data["userlist"].([]any)
	if !ok {
		t.Fatalf("userlist = %T, want array", data["userlist"])
	}
	got := make(map[string]bool, len(list))
	for _, v := range list {
		got[v.(string)] = true
	}
	if len(got) != 2 || !got["alice"] || !got["bob"] {
		t.Errorf("userlist = %v, want alice and bob", list)
	}
}

func TestChatSavesAndBroadcasts(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")
	other := loggedInConn(t, b, sessions, "acct2", "bob")

	dispatch(t, b, conn, "chat", map[string]any{"body": "hello"})

	if len(store.chat) != 1 || store.chat[0].Body != "hello" {
		t.Fatalf("stored chat = %v, want one hello message", store.chat)
	}

	name, data := other.lastFrame(t)
	if name != "chat-message" {
		t.Fatalf("event = %q, want chat-message", name)
	}
	if data["player"] != "alice" {
		t.Errorf("player = %v, want alice", data["player"])
	}
	if data["body"] != "hello" {
		t.Errorf("body = %v, want hello", data["body"])
	}
}

func TestChatAnonymousDropped(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	sid, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := newTestConn(sid)
	b.ConnOpened(conn)
	other := loggedInConn(t, b, sessions, "acct2", "bob")

	dispatch(t, b, conn, "chat", map[string]any{"body": "hello"})

	if len(store.chat) != 0 {
		t.Errorf("stored chat = %v, want none", store.chat)
	}
	if frames := other.frames(t); len(frames) != 0 {
		t.Errorf("bystander frames = %d, want 0", len(frames))
	}
}

func TestPopulateChatboxReplaysHistory(t *testing.T) {
	_, b, sessions, store := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")

	posted := time.Date(2014, 3, 1, 12, 0, 0, 0, time.UTC)
	store.chat = []ChatMessage{
		{Author: "acct2", Body: "first", PostedAt: posted},
	}

	dispatch(t, b, conn, "populate-chatbox", map[string]any{})
	name, data := conn.lastFrame(t)
	if name != "chatbox" {
		t.Fatalf("event = %q, want chatbox", name)
	}
	msgs, ok := data["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want one entry", data["messages"])
	}
	msg := msgs[0].(map[string]any)
	if msg["body"] != "first" {
		t.Errorf("body = %v, want first", msg["body"])
	}
	if msg["at"] != "2014-03-01T12:00:00Z" {
		t.Errorf("at = %v, want 2014-03-01T12:00:00Z", msg["at"])
	}
}

func TestLoginClaimsSessionAndNotifies(t *testing.T) {
	h, b, sessions, _ := newHandlersTest(t)
	sid, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	conn := newTestConn(sid)
	b.ConnOpened(conn)

	if err := h.Login(context.Background(), sid, "acct1", "alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	accountID, ok, err := sessions.Get(context.Background(), sid)
	if err != nil || !ok {
		t.Fatalf("session lookup after login: ok=%v err=%v", ok, err)
	}
	if accountID != "acct1" {
		t.Errorf("session account = %q, want acct1", accountID)
	}

	name, data := conn.lastFrame(t)
	if name != "login-response" {
		t.Fatalf("event = %q, want login-response", name)
	}
	if data["success"] != true {
		t.Errorf("success = %v, want true", data["success"])
	}
	if data["username"] != "alice" {
		t.Errorf("username = %v, want alice", data["username"])
	}
	if data["sid"] != sid {
		t.Errorf("sid = %v, want %v", data["sid"], sid)
	}
}

func TestLoginExpiredSession(t *testing.T) {
	h, _, _, _ := newHandlersTest(t)

	err := h.Login(context.Background(), "no-such-session", "acct1", "alice")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("login error = %v, want ErrNotFound", err)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	h, b, sessions, _ := newHandlersTest(t)
	conn := loggedInConn(t, b, sessions, "acct1", "alice")

	if err := h.Logout(context.Background(), conn.sid); err != nil {
		t.Fatalf("logout: %v", err)
	}

	ok, err := sessions.Exists(context.Background(), conn.sid)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Error("session still exists after logout")
	}
	if b.Registry().Len() != 0 {
		t.Errorf("registry len = %d, want 0 after logout", b.Registry().Len())
	}
}
