package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentialytic/reapears/pkg/auth"
	"github.com/sentialytic/reapears/pkg/model"
	"github.com/sentialytic/reapears/pkg/store"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// --- helpers ----------------------------------------------------------------

type fakePresence struct {
	users []uuid.UUID
	err   error
}

func (p fakePresence) Online(context.Context) ([]uuid.UUID, error) { return p.users, p.err }

func (p fakePresence) IsOnline(_ context.Context, user uuid.UUID) (bool, error) {
	for _, u := range p.users {
		if u == user {
			return true, p.err
		}
	}
	return false, p.err
}

type fixture struct {
	url    string
	store  *store.MemoryStore
	issuer *auth.Issuer
}

func newFixture(t *testing.T, configure func(*server)) *fixture {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{store: store.NewMemoryStore(), issuer: issuer}
	s := &server{
		store:    f.store,
		issuer:   issuer,
		devLogin: true,
		now:      func() time.Time { return t0.Add(time.Hour) },
	}
	if configure != nil {
		configure(s)
	}
	srv := httptest.NewServer(newRouter(s))
	t.Cleanup(srv.Close)
	f.url = srv.URL
	return f
}

// seed stores a message from sender to receiver sent offset after t0.
func (f *fixture) seed(t *testing.T, sender, receiver uuid.UUID, content string, offset time.Duration) model.DirectMessage {
	t.Helper()
	msg, err := model.NewDirectMessage(sender, receiver, content, t0.Add(offset))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Insert(context.Background(), model.NewRow(msg)); err != nil {
		t.Fatal(err)
	}
	return msg
}

func (f *fixture) do(t *testing.T, method, path string, user uuid.UUID, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.url+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if user != uuid.Nil {
		token, err := f.issuer.GenerateToken(user)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status: got %d, want %d (%s)", resp.StatusCode, want, b)
	}
}

type conversationJSON struct {
	UserID        uuid.UUID `json:"userId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Messages      []struct {
		ID       uuid.UUID `json:"id"`
		Content  string    `json:"content"`
		IsAuthor bool      `json:"isAuthor"`
		IsRead   bool      `json:"isRead"`
	} `json:"messages"`
}

const dmPath = "/account/users/chat/direct_message"

// --- tests ------------------------------------------------------------------

func TestAPI_RequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{dmPath, dmPath + "/" + uuid.NewString(), "/account/users/chat/online"} {
		resp := f.do(t, http.MethodGet, path, uuid.Nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s: got %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAPI_Conversations(t *testing.T) {
	f := newFixture(t, nil)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	f.seed(t, alice, bob, "hi bob", 0)
	f.seed(t, bob, alice, "hi alice", time.Minute)
	f.seed(t, carol, alice, "hello from carol", 2*time.Minute)
	f.seed(t, bob, carol, "not alice's business", 3*time.Minute)

	resp := f.do(t, http.MethodGet, dmPath, alice, nil)
	wantStatus(t, resp, http.StatusOK)
	var got []conversationJSON
	decode(t, resp, &got)

	if len(got) != 2 {
		t.Fatalf("conversations: got %d, want 2", len(got))
	}
	if got[0].ParticipantID != carol || got[1].ParticipantID != bob {
		t.Errorf("order: got %v then %v, want carol then bob", got[0].ParticipantID, got[1].ParticipantID)
	}
	withBob := got[1]
	if withBob.UserID != alice || len(withBob.Messages) != 2 {
		t.Fatalf("conversation with bob: %+v", withBob)
	}
	if withBob.Messages[0].Content != "hi bob" || !withBob.Messages[0].IsAuthor {
		t.Errorf("first message: %+v", withBob.Messages[0])
	}
	if withBob.Messages[1].IsAuthor || withBob.Messages[1].IsRead {
		t.Errorf("second message: %+v", withBob.Messages[1])
	}
}

func TestAPI_ConversationsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, dmPath, uuid.New(), nil)
	wantStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if string(bytes.TrimSpace(body)) != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestAPI_History(t *testing.T) {
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()
	m1 := f.seed(t, alice, bob, "one", 0)
	m2 := f.seed(t, bob, alice, "two", time.Minute)
	f.seed(t, alice, uuid.New(), "elsewhere", 2*time.Minute)

	resp := f.do(t, http.MethodGet, dmPath+"/"+bob.String(), alice, nil)
	wantStatus(t, resp, http.StatusOK)
	var got conversationJSON
	decode(t, resp, &got)

	if got.ParticipantID != bob || len(got.Messages) != 2 {
		t.Fatalf("history: %+v", got)
	}
	if got.Messages[0].ID != m1.ID || got.Messages[1].ID != m2.ID {
		t.Errorf("order: got %v, %v", got.Messages[0].ID, got.Messages[1].ID)
	}
}

func TestAPI_HistoryEmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, dmPath+"/"+uuid.NewString(), uuid.New(), nil)
	wantStatus(t, resp, http.StatusOK)
	var raw map[string]json.RawMessage
	decode(t, resp, &raw)
	if string(raw["messages"]) != "[]" {
		t.Errorf("messages: got %s, want []", raw["messages"])
	}
}

func TestAPI_HistoryBadID(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, dmPath+"/not-a-uuid", uuid.New(), nil)
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestAPI_DeleteForSelf(t *testing.T) {
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()
	m := f.seed(t, alice, bob, "hi", 0)

	wantStatus(t, f.do(t, http.MethodDelete, dmPath+"/"+m.ID.String(), bob, nil), http.StatusNoContent)

	var conv conversationJSON
	resp := f.do(t, http.MethodGet, dmPath+"/"+alice.String(), bob, nil)
	decode(t, resp, &conv)
	if len(conv.Messages) != 0 {
		t.Errorf("bob still sees %d messages", len(conv.Messages))
	}
	resp = f.do(t, http.MethodGet, dmPath+"/"+bob.String(), alice, nil)
	decode(t, resp, &conv)
	if len(conv.Messages) != 1 {
		t.Errorf("alice sees %d messages, want 1", len(conv.Messages))
	}

	wantStatus(t, f.do(t, http.MethodDelete, dmPath+"/"+m.ID.String(), alice, nil), http.StatusNoContent)
	if f.store.Len() != 0 {
		t.Error("message not erased after both sides deleted it")
	}
}

func TestAPI_DeleteStatusCodes(t *testing.T) {
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()
	m := f.seed(t, alice, bob, "hi", 0)
	path := dmPath + "/" + m.ID.String()

	tests := []struct {
		name string
		user uuid.UUID
		path string
		want int
	}{
		{"stranger", uuid.New(), path, http.StatusForbidden},
		{"receiver for everyone", bob, path + "?for_everyone=true", http.StatusForbidden},
		{"unknown message", alice, dmPath + "/" + uuid.NewString(), http.StatusNotFound},
		{"bad id", alice, dmPath + "/nope", http.StatusBadRequest},
		{"bad flag", alice, path + "?for_everyone=maybe", http.StatusBadRequest},
		{"no token", uuid.Nil, path, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodDelete, tt.path, tt.user, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
	if f.store.Len() != 1 {
		t.Error("rejected deletes changed the store")
	}

	wantStatus(t, f.do(t, http.MethodDelete, path+"?for_everyone=true", alice, nil), http.StatusNoContent)
	if f.store.Len() != 0 {
		t.Error("delete for everyone left the message")
	}
}

func TestAPI_Online(t *testing.T) {
	online := uuid.New()
	f := newFixture(t, func(s *server) { s.presence = fakePresence{users: []uuid.UUID{online}} })

	resp := f.do(t, http.MethodGet, "/account/users/chat/online", uuid.New(), nil)
	wantStatus(t, resp, http.StatusOK)
	var users []uuid.UUID
	decode(t, resp, &users)
	if len(users) != 1 || users[0] != online {
		t.Errorf("online: got %v", users)
	}

	resp = f.do(t, http.MethodGet, "/account/users/chat/online/"+online.String(), uuid.New(), nil)
	wantStatus(t, resp, http.StatusOK)
	var one struct {
		UserID uuid.UUID `json:"userId"`
		Online bool      `json:"online"`
	}
	decode(t, resp, &one)
	if one.UserID != online || !one.Online {
		t.Errorf("isOnline: got %+v", one)
	}
}

func TestAPI_OnlineUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	wantStatus(t, f.do(t, http.MethodGet, "/account/users/chat/online", uuid.New(), nil), http.StatusServiceUnavailable)

	g := newFixture(t, func(s *server) { s.presence = fakePresence{err: errors.New("redis down")} })
	wantStatus(t, g.do(t, http.MethodGet, "/account/users/chat/online", uuid.New(), nil), http.StatusInternalServerError)
}

func TestAPI_DevLogin(t *testing.T) {
	f := newFixture(t, nil)
	user := uuid.New()

	resp := f.do(t, http.MethodPost, "/account/login", uuid.Nil, bytes.NewBufferString(`{"user_id":"`+user.String()+`"}`))
	wantStatus(t, resp, http.StatusOK)
	var login LoginResponse
	decode(t, resp, &login)

	claims, err := f.issuer.ValidateToken(login.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != user {
		t.Errorf("token user: got %v, want %v", claims.UserID, user)
	}

	resp = f.do(t, http.MethodPost, "/account/login", uuid.Nil, bytes.NewBufferString(`{"user_id":"bob"}`))
	wantStatus(t, resp, http.StatusBadRequest)
}

func TestAPI_DevLoginDisabled(t *testing.T) {
	f := newFixture(t, func(s *server) { s.devLogin = false })
	resp := f.do(t, http.MethodPost, "/account/login", uuid.Nil, bytes.NewBufferString(`{"user_id":"`+uuid.NewString()+`"}`))
	if resp.StatusCode == http.StatusOK {
		t.Error("login served with dev login disabled")
	}
}

func TestAPI_CORS(t *testing.T) {
	f := newFixture(t, func(s *server) { s.origins = []string{"https://reapears.com"} })

	req, _ := http.NewRequest(http.MethodOptions, f.url+dmPath, nil)
	req.Header.Set("Origin", "https://reapears.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight: got %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://reapears.com" {
		t.Errorf("allow origin: got %q", got)
	}

	req.Header.Set("Origin", "https://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestAPI_Health(t *testing.T) {
	f := newFixture(t, nil)
	wantStatus(t, f.do(t, http.MethodGet, "/health", uuid.Nil, nil), http.StatusOK)
}
