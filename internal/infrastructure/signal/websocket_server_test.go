package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pushFixture struct {
	server   *PushServer
	http     *httptest.Server
	tokens   services.TokenService
	perms    ports.PermissionRepository
	sessions ports.SessionRepository
}

func newPushFixture(t *testing.T) *pushFixture {
	t.Helper()
	feed := realtime.NewFeed()
	f := &pushFixture{
		tokens:   services.NewTokenService("secret", time.Hour, nil),
		perms:    memory.NewMemoryPermissionRepository(feed),
		sessions: memory.NewMemorySessionRepository(feed),
	}

	opts := DefaultOptions()
	opts.Watch = services.WatchOptions{InitialDelay: 20 * time.Millisecond, Interval: 20 * time.Millisecond}
	f.server = NewPushServer(f.tokens, f.perms, f.sessions, opts, nil, zaptest.NewLogger(t).Sugar())
	f.http = httptest.NewServer(http.HandlerFunc(f.server.HandleWebSocket))
	t.Cleanup(f.http.Close)
	return f
}

func (f *pushFixture) storeSession(t *testing.T, userID domain.UserID, id domain.SessionID) {
	t.Helper()
	ctx := context.Background()
	generation, err := f.sessions.NextGeneration(ctx, userID)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, f.sessions.CreateIfLatest(ctx, &domain.UserSession{
		ID: id, UserID: userID, Generation: generation, CreatedAt: now, LastActive: now,
	}))
}

func (f *pushFixture) token(t *testing.T, userID domain.UserID, role domain.UserRole) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(userID, string(userID)+"@example.com", role)
	require.NoError(t, err)
	return token
}

func (f *pushFixture) dial(t *testing.T, query url.Values) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws?" + query.Encode()
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) PushMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg PushMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPushServer_StreamsPermissionsAndInvalidation(t *testing.T) {
	f := newPushFixture(t)
	f.storeSession(t, "sub-1", "session-a")

	conn, _, err := f.dial(t, url.Values{
		"token":      {f.token(t, "sub-1", domain.RoleSubscriber)},
		"session_id": {"session-a"},
	})
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, TypePermissions, first.Type)
	assert.Empty(t, first.AssignedPublishers)

	_, err = f.perms.Create(context.Background(), &domain.StreamPermission{
		PublisherID: "pub-1", SubscriberID: "sub-1", AllowAudio: true, AllowVideo: true, IsActive: true,
	})
	require.NoError(t, err)

	update := readMessage(t, conn)
	assert.Equal(t, TypePermissions, update.Type)
	assert.Equal(t, []domain.UserID{"pub-1"}, update.AssignedPublishers)
	require.Len(t, update.Permissions, 1)

	// A newer sign-in elsewhere removes this device's record.
	require.NoError(t, f.sessions.Delete(context.Background(), "session-a"))

	var invalidated PushMessage
	for invalidated.Type != TypeSessionInvalidated {
		invalidated = readMessage(t, conn)
	}
	assert.NotEmpty(t, invalidated.Reason)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseSessionInvalidated), "got %v", err)

	assert.Eventually(t, func() bool { return f.server.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPushServer_AdminWatchesSubscriber(t *testing.T) {
	f := newPushFixture(t)
	_, err := f.perms.Create(context.Background(), &domain.StreamPermission{
		PublisherID: "pub-2", SubscriberID: "sub-9", IsActive: true,
	})
	require.NoError(t, err)

	conn, _, err := f.dial(t, url.Values{
		"token":         {f.token(t, "admin-1", domain.RoleAdmin)},
		"subscriber_id": {"sub-9"},
	})
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, []domain.UserID{"pub-2"}, msg.AssignedPublishers)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, TypePong, readMessage(t, conn).Type)
}

func TestPushServer_Rejections(t *testing.T) {
	f := newPushFixture(t)

	tests := []struct {
		name   string
		query  url.Values
		status int
	}{
		{"no token", url.Values{}, http.StatusUnauthorized},
		{"publisher", url.Values{"token": {f.token(t, "pub-1", domain.RolePublisher)}}, http.StatusForbidden},
		{"subscriber without session", url.Values{"token": {f.token(t, "sub-1", domain.RoleSubscriber)}}, http.StatusBadRequest},
		{"admin without subscriber", url.Values{"token": {f.token(t, "admin-1", domain.RoleAdmin)}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := f.dial(t, tt.query)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestPushServer_ReconnectReplacesConnection(t *testing.T) {
	f := newPushFixture(t)
	f.storeSession(t, "sub-1", "session-a")
	query := url.Values{
		"token":      {f.token(t, "sub-1", domain.RoleSubscriber)},
		"session_id": {"session-a"},
	}

	first, _, err := f.dial(t, query)
	require.NoError(t, err)
	defer first.Close()
	readMessage(t, first)

	second, _, err := f.dial(t, query)
	require.NoError(t, err)
	defer second.Close()
	readMessage(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = first.ReadMessage()
	assert.Error(t, err)
	assert.True(t, f.server.IsConnected("sub-1"))
}

func TestPushServer_AdminKeepsOneConnectionPerSubscriber(t *testing.T) {
	f := newPushFixture(t)
	token := f.token(t, "admin-1", domain.RoleAdmin)

	first, _, err := f.dial(t, url.Values{"token": {token}, "subscriber_id": {"sub-1"}})
	require.NoError(t, err)
	defer first.Close()
	readMessage(t, first)

	second, _, err := f.dial(t, url.Values{"token": {token}, "subscriber_id": {"sub-2"}})
	require.NoError(t, err)
	defer second.Close()
	readMessage(t, second)

	assert.Equal(t, 2, f.server.ConnectionCount())

	// Both streams stay open and answer.
	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
		assert.Equal(t, TypePong, readMessage(t, conn).Type)
	}

	// Watching the same subscriber again replaces that stream only.
	third, _, err := f.dial(t, url.Values{"token": {token}, "subscriber_id": {"sub-1"}})
	require.NoError(t, err)
	defer third.Close()
	readMessage(t, third)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = first.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return f.server.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.True(t, f.server.IsConnected("admin-1"))
}
