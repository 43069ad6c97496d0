package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/rental-chat/internal/auth"
	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/chatclient"
	"github.com/suPer8Hu/rental-chat/internal/chatsync"
	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/db"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
	"github.com/suPer8Hu/rental-chat/internal/realtime"
)

const testSecret = "test-secret"

type server struct {
	url string
	svc *chat.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_").Replace(t.Name())
	gdb, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	hub := realtime.NewHub(nil, realtime.NewLocalBroker(), realtime.Options{SendBuffer: 32})
	svc := chat.NewService(chat.NewRepo(gdb), hub, nil, "Welcome!")
	hub.SetService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	cfg := config.Config{JWTSecret: testSecret}
	srv := httptest.NewServer(NewRouter(cfg, svc, hub))
	t.Cleanup(srv.Close)
	return &server{url: srv.URL, svc: svc}
}

func token(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := auth.SignJWT(uid, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, method, url, tok, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRouter_PingAndUnknownRoute(t *testing.T) {
	s := newServer(t)

	status, env := call(t, http.MethodGet, s.url+"/ping", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.Code)

	status, env = call(t, http.MethodGet, s.url+"/nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, env.Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newServer(t)

	status, env := call(t, http.MethodPost, s.url+"/chat/sessions", "", "{}")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40101, env.Code)

	status, _ = call(t, http.MethodPost, s.url+"/chat/sessions", "garbage", "{}")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouter_SessionLifecycleOverREST(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	api := chatclient.NewHTTPService(s.url, token(t, 7, auth.RoleUser))

	acq, err := api.GetOrCreateSession(ctx)
	require.NoError(t, err)
	assert.True(t, acq.Created)
	assert.Equal(t, protocol.StatusActive, acq.Session.Status)
	require.NotNil(t, acq.WelcomeMessage)
	assert.Equal(t, "Welcome!", acq.WelcomeMessage.Body)

	again, err := api.GetOrCreateSession(ctx)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Nil(t, again.WelcomeMessage)
	assert.Equal(t, acq.Session.ID, again.Session.ID)

	sid := acq.Session.ID
	status, env := call(t, http.MethodPost, s.url+"/chat/sessions/"+sid+"/messages", token(t, 7, auth.RoleUser), `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, status, env.Message)

	snap, err := api.GetSessionWithMessages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "Hello", snap.Messages[0].Body)
	assert.Equal(t, protocol.RoleUser, snap.Messages[0].SenderRole)

	esc, err := api.EscalateSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusAdminHandling, esc.Status)
	assert.NotNil(t, esc.EscalatedAt)

	_, err = api.EscalateSession(ctx, sid)
	assert.ErrorIs(t, err, chatsync.ErrConflict)

	require.NoError(t, api.EndSession(ctx, sid))

	snap, err = api.GetSessionWithMessages(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusEnded, snap.Session.Status)

	assert.ErrorIs(t, api.EndSession(ctx, sid), chatsync.ErrInvalidSession)
	_, err = api.EscalateSession(ctx, sid)
	assert.ErrorIs(t, err, chatsync.ErrInvalidSession)

	next, err := api.GetOrCreateSession(ctx)
	require.NoError(t, err)
	assert.True(t, next.Created)
	assert.NotEqual(t, sid, next.Session.ID)
}

func TestRouter_OtherUsersSessionIsHidden(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	acq, err := chatclient.NewHTTPService(s.url, token(t, 7, auth.RoleUser)).GetOrCreateSession(ctx)
	require.NoError(t, err)

	_, err = chatclient.NewHTTPService(s.url, token(t, 8, auth.RoleUser)).GetSessionWithMessages(ctx, acq.Session.ID)
	assert.ErrorIs(t, err, chatsync.ErrInvalidSession)
}

func TestRouter_AdminQueueAndReply(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	userTok := token(t, 7, auth.RoleUser)
	adminTok := token(t, 1, auth.RoleAdmin)
	api := chatclient.NewHTTPService(s.url, userTok)

	acq, err := api.GetOrCreateSession(ctx)
	require.NoError(t, err)
	sid := acq.Session.ID

	status, env := call(t, http.MethodGet, s.url+"/admin/chat/sessions", userTok, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 40301, env.Code)

	// agents cannot answer before escalation
	status, env = call(t, http.MethodPost, s.url+"/admin/chat/sessions/"+sid+"/messages", adminTok, `{"text":"hi"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 40901, env.Code)

	_, err = api.EscalateSession(ctx, sid)
	require.NoError(t, err)

	status, env = call(t, http.MethodGet, s.url+"/admin/chat/sessions", adminTok, "")
	require.Equal(t, http.StatusOK, status)
	var queue struct {
		Sessions []protocol.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	require.Len(t, queue.Sessions, 1)
	assert.Equal(t, sid, queue.Sessions[0].ID)

	status, _ = call(t, http.MethodPost, s.url+"/admin/chat/sessions/"+sid+"/messages", adminTok, `{"text":"Agent here"}`)
	require.Equal(t, http.StatusOK, status)

	snap, err := api.GetSessionWithMessages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, protocol.RoleAdmin, snap.Messages[0].SenderRole)

	status, env = call(t, http.MethodGet, s.url+"/admin/chat/sessions?status=bogus", adminTok, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 10002, env.Code)
}

// TestRouter_ClientCoreEndToEnd drives the real client core over the real
// socket and REST API.
func TestRouter_ClientCoreEndToEnd(t *testing.T) {
	s := newServer(t)
	tok := token(t, 7, auth.RoleUser)

	store := chatsync.NewMemoryStore("")
	sock := chatclient.NewSocket("ws"+strings.TrimPrefix(s.url, "http")+"/chat/ws", tok)
	sock.MinBackoff = 10 * time.Millisecond
	ctrl := chatsync.NewController(chatclient.NewHTTPService(s.url, tok), sock, store, chatsync.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sock.Run(ctx, ctrl) }()

	require.Eventually(t, func() bool {
		v := ctrl.View()
		return v.Connected && v.SessionID != ""
	}, 3*time.Second, 10*time.Millisecond)
	first := ctrl.View().SessionID
	assert.Empty(t, ctrl.View().Entries)

	require.NoError(t, ctrl.Send(ctx, "Hello"))
	require.Eventually(t, func() bool {
		v := ctrl.View()
		return len(v.Entries) == 1 && v.Entries[0].Kind == chatsync.EntryMessage && v.Entries[0].ID > 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Hello", ctrl.View().Entries[0].Text)

	require.NoError(t, ctrl.Escalate(ctx))
	assert.Equal(t, protocol.StatusAdminHandling, ctrl.View().Status)

	require.NoError(t, ctrl.End(ctx))
	v := ctrl.View()
	assert.NotEqual(t, first, v.SessionID)
	assert.Equal(t, protocol.StatusActive, v.Status)
	require.Len(t, v.Entries, 2)
	assert.Equal(t, chatsync.DefaultNotices.Ended, v.Entries[0].Text)
	assert.Equal(t, "Welcome!", v.Entries[1].Text)

	id, ok, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.SessionID, id)
}
