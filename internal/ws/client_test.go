package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/config"
	"github.com/pliu/pairchat/internal/store/sqlstore"
)

type testServer struct {
	srv   *httptest.Server
	store *sqlstore.SQLStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlstore.New("sqlite3", filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	h := &Handler{
		Registry: chat.NewRegistry(),
		Store:    st,
		Cfg: &config.Config{
			HistoryLimit: 50,
			ReadLimit:    32768,
			PingPeriod:   54 * time.Second,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return &testServer{srv: srv, store: st}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func expectEvent(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, eventType, ev["type"], "unexpected event: %v", ev)
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, v map[string]string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestTwoPartyScenario(t *testing.T) {
	ts := newTestServer(t)

	// A connects and claims "alice".
	a := ts.dial(t)
	expectEvent(t, a, chat.TypeRequestUsername)
	sendEvent(t, a, map[string]string{"type": chat.TypeRegisterUsername, "username": "alice"})
	ev := expectEvent(t, a, chat.TypeUsernameAccepted)
	assert.Equal(t, "alice", ev["username"])

	// B connects, collides on "alice", then claims "bob".
	b := ts.dial(t)
	expectEvent(t, b, chat.TypeRequestUsername)
	sendEvent(t, b, map[string]string{"type": chat.TypeRegisterUsername, "username": "alice"})
	ev = expectEvent(t, b, chat.TypeError)
	assert.Equal(t, chat.MsgUsernameTaken, ev["message"])

	sendEvent(t, b, map[string]string{"type": chat.TypeRegisterUsername, "username": "bob"})
	expectEvent(t, b, chat.TypeUsernameAccepted)
	ev = expectEvent(t, b, chat.TypeOtherUser)
	assert.Equal(t, "alice", ev["username"])

	ev = expectEvent(t, a, chat.TypeUserJoined)
	assert.Equal(t, "bob", ev["username"])

	// A third participant is turned away.
	c := ts.dial(t)
	expectEvent(t, c, chat.TypeRequestUsername)
	sendEvent(t, c, map[string]string{"type": chat.TypeRegisterUsername, "username": "carol"})
	ev = expectEvent(t, c, chat.TypeError)
	assert.Equal(t, chat.MsgChatFull, ev["message"])

	// A sends a message; B gets it, A gets the confirmation plus echo.
	sendEvent(t, a, map[string]string{"type": chat.TypeChatMessage, "message": "hi"})

	ev = expectEvent(t, b, chat.TypeChatMessage)
	assert.Equal(t, "alice", ev["from"])
	assert.Equal(t, "hi", ev["message"])
	assert.Nil(t, ev["isMe"])

	expectEvent(t, a, chat.TypeMessageSent)
	ev = expectEvent(t, a, chat.TypeChatMessage)
	assert.Equal(t, "hi", ev["message"])
	assert.Equal(t, true, ev["isMe"])

	// The append is fire-and-forget; wait for it to land before relying on
	// history below.
	require.Eventually(t, func() bool {
		msgs, err := ts.store.RecentMessages(50)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A disconnects: B is notified and "alice" is claimable again.
	require.NoError(t, a.Close())
	ev = expectEvent(t, b, chat.TypeUserLeft)
	assert.Equal(t, "alice", ev["username"])

	a2 := ts.dial(t)
	expectEvent(t, a2, chat.TypeRequestUsername)
	sendEvent(t, a2, map[string]string{"type": chat.TypeRegisterUsername, "username": "alice"})
	expectEvent(t, a2, chat.TypeUsernameAccepted)

	// The rejoining client replays the stored conversation.
	ev = expectEvent(t, a2, chat.TypeChatMessage)
	assert.Equal(t, "hi", ev["message"])
	assert.Equal(t, "alice", ev["from"])
	assert.Equal(t, true, ev["isHistory"])

	ev = expectEvent(t, a2, chat.TypeOtherUser)
	assert.Equal(t, "bob", ev["username"])

	ev = expectEvent(t, b, chat.TypeUserJoined)
	assert.Equal(t, "alice", ev["username"])
}

func TestChatWithoutPeerOverWire(t *testing.T) {
	ts := newTestServer(t)

	a := ts.dial(t)
	expectEvent(t, a, chat.TypeRequestUsername)
	sendEvent(t, a, map[string]string{"type": chat.TypeRegisterUsername, "username": "alice"})
	expectEvent(t, a, chat.TypeUsernameAccepted)

	sendEvent(t, a, map[string]string{"type": chat.TypeChatMessage, "message": "anyone?"})
	ev := expectEvent(t, a, chat.TypeError)
	assert.Equal(t, chat.MsgNoOtherUser, ev["message"])
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)

	a := ts.dial(t)
	expectEvent(t, a, chat.TypeRequestUsername)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// The connection survives and the handshake can still complete.
	sendEvent(t, a, map[string]string{"type": chat.TypeRegisterUsername, "username": "alice"})
	expectEvent(t, a, chat.TypeUsernameAccepted)
}
