package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signedToken(t *testing.T, secret string, userID uint64) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Minute).Unix(),
		"iat": time.Now().Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func authMessage(t *testing.T, userID uint64, token string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":   "authenticate",
		"userId": userID,
		"token":  token,
	})
	require.NoError(t, err)
	return raw
}

func newTestClient(h *Hub) *client {
	return &client{hub: h, send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var e Envelope
		require.NoError(t, json.Unmarshal(payload, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return Envelope{}
	}
}

func TestVerifyToken(t *testing.T) {
	h := NewHub(testSecret)

	sub, err := h.verifyToken(signedToken(t, testSecret, 42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sub)

	_, err = h.verifyToken(signedToken(t, "wrong-secret", 42))
	assert.Error(t, err)

	_, err = h.verifyToken("not-a-jwt")
	assert.Error(t, err)
}

func TestAuthenticateBindsConnection(t *testing.T) {
	h := NewHub(testSecret)
	c := newTestClient(h)

	require.NoError(t, c.authenticate(authMessage(t, 7, signedToken(t, testSecret, 7))))

	h.NotifyUser(7, EventSyncStarted, map[string]any{"jobId": "abc"})
	e := receive(t, c)
	assert.Equal(t, EventSyncStarted, e.Type)
	assert.Equal(t, "abc", e.Data["jobId"])
}

func TestAuthenticateRejectsSubjectMismatch(t *testing.T) {
	h := NewHub(testSecret)
	c := newTestClient(h)

	err := c.authenticate(authMessage(t, 8, signedToken(t, testSecret, 7)))
	require.Error(t, err)

	h.NotifyUser(7, EventSyncCompleted, nil)
	h.NotifyUser(8, EventSyncCompleted, nil)
	assert.Empty(t, c.send, "rejected connection must receive nothing")
}

func TestAuthenticateRejectsForgedToken(t *testing.T) {
	h := NewHub(testSecret)
	c := newTestClient(h)

	err := c.authenticate(authMessage(t, 7, signedToken(t, "attacker-secret", 7)))
	assert.Error(t, err)
}

func TestAuthenticateRejectsOtherMessageTypes(t *testing.T) {
	h := NewHub(testSecret)
	c := newTestClient(h)

	raw, err := json.Marshal(map[string]any{"type": "ping"})
	require.NoError(t, err)
	assert.Error(t, c.authenticate(raw))
}

func TestNotifyUserFansOutToAllConnections(t *testing.T) {
	h := NewHub(testSecret)
	tok := signedToken(t, testSecret, 1)
	first := newTestClient(h)
	second := newTestClient(h)
	other := newTestClient(h)
	require.NoError(t, first.authenticate(authMessage(t, 1, tok)))
	require.NoError(t, second.authenticate(authMessage(t, 1, tok)))
	require.NoError(t, other.authenticate(authMessage(t, 2, signedToken(t, testSecret, 2))))

	h.NotifyUser(1, EventSyncCompleted, map[string]any{"created": float64(3)})

	for _, c := range []*client{first, second} {
		e := receive(t, c)
		assert.Equal(t, EventSyncCompleted, e.Type)
		assert.Equal(t, float64(3), e.Data["created"])
	}
	assert.Empty(t, other.send, "other users must not see the notification")
}

func TestNotifyUserWithNoConnectionsIsDropped(t *testing.T) {
	h := NewHub(testSecret)
	h.NotifyUser(99, EventSyncFailed, map[string]any{"error": "boom"})

	// A connection arriving afterwards must not replay the notification.
	c := newTestClient(h)
	require.NoError(t, c.authenticate(authMessage(t, 99, signedToken(t, testSecret, 99))))
	assert.Empty(t, c.send)
}

func TestUnbindStopsDelivery(t *testing.T) {
	h := NewHub(testSecret)
	c := newTestClient(h)
	require.NoError(t, c.authenticate(authMessage(t, 5, signedToken(t, testSecret, 5))))

	h.unbind(c)
	h.NotifyUser(5, EventSyncCompleted, nil)

	_, open := <-c.send
	assert.False(t, open, "unbound connection's channel is closed, nothing delivered")
}

func TestNotificationTypesMatchClientContract(t *testing.T) {
	// Frontends switch on these literals; renaming a constant must not
	// change what goes over the wire.
	assert.Equal(t, "sync_started", EventSyncStarted)
	assert.Equal(t, "sync_completed", EventSyncCompleted)
	assert.Equal(t, "sync_failed", EventSyncFailed)
	assert.Equal(t, "calendar_connection_started", EventConnectionStarted)
	assert.Equal(t, "calendar_connected", EventConnectionCompleted)
	assert.Equal(t, "calendar_connection_failed", EventConnectionFailed)
}
