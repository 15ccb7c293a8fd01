package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-api/pkg/logger"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestRegistryExpiresEntries(t *testing.T) {
	now := time.Now()
	registry := NewRegistry(time.Minute)
	registry.now = func() time.Time { return now }

	conn := &fakeConn{id: "a"}
	registry.Register("123456", conn)

	got, ok := registry.Lookup("123456")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID())

	now = now.Add(time.Minute)
	_, ok = registry.Lookup("123456")
	assert.False(t, ok)

	assert.Equal(t, 1, registry.Sweep())
	assert.Equal(t, 0, registry.Len())
}

func TestRegistryReRegisterRefreshesTTL(t *testing.T) {
	now := time.Now()
	registry := NewRegistry(time.Minute)
	registry.now = func() time.Time { return now }

	registry.Register("1", &fakeConn{id: "a"})
	now = now.Add(50 * time.Second)
	registry.Register("1", &fakeConn{id: "b"})
	now = now.Add(50 * time.Second)

	got, ok := registry.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, "b", got.ID())
}

func TestRegistryUnregisterKeepsNewerBinding(t *testing.T) {
	registry := NewRegistry(time.Minute)
	old := &fakeConn{id: "old"}
	current := &fakeConn{id: "new"}

	registry.Register("1", old)
	registry.Register("1", current)

	assert.False(t, registry.Unregister("1", old))
	_, ok := registry.Lookup("1")
	assert.True(t, ok)

	assert.True(t, registry.Unregister("1", current))
	_, ok = registry.Lookup("1")
	assert.False(t, ok)
}

func TestRegistryConcurrentRegisterKeepsLastWriter(t *testing.T) {
	registry := NewRegistry(time.Minute)

	const writers = 16
	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				registry.Register("123456", &fakeConn{id: fmt.Sprintf("conn-%d", i)})
				registry.Lookup("123456")
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, registry.Len())
	settled, ok := registry.Lookup("123456")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(settled.ID(), "conn-"))

	registry.Register("123456", &fakeConn{id: "last"})

	assert.Equal(t, 1, registry.Len())
	got, ok := registry.Lookup("123456")
	require.True(t, ok)
	assert.Equal(t, "last", got.ID())
}

func TestLocalNotifierKeepsNewerBinding(t *testing.T) {
	registry := NewRegistry(time.Minute)
	stale := &fakeConn{id: "stale"}
	registry.Register("123456", stale)

	notifier := NewLocalNotifier(registry, logger.NewNop())
	require.NoError(t, notifier.Notify(context.Background(), "123456", map[string]string{"status": "failure"}))

	fresh := &fakeConn{id: "fresh"}
	registry.Register("123456", fresh)
	assert.False(t, registry.Unregister("123456", stale))

	got, ok := registry.Lookup("123456")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID())
}

func TestRegistryJanitor(t *testing.T) {
	registry := NewRegistry(10 * time.Millisecond)
	registry.Register("1", &fakeConn{id: "a"})

	registry.Start(5 * time.Millisecond)
	defer registry.Stop()

	assert.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalNotifierDeliversFrame(t *testing.T) {
	registry := NewRegistry(time.Minute)
	conn := &fakeConn{id: "a"}
	registry.Register("123456", conn)

	notifier := NewLocalNotifier(registry, logger.NewNop())

	require.NoError(t, notifier.Notify(context.Background(), "123456", map[string]string{"status": "success"}))
	require.NoError(t, notifier.Notify(context.Background(), "999999", map[string]string{"status": "success"}))

	frames := conn.received()
	require.Len(t, frames, 1)

	_, ok := registry.Lookup("123456")
	assert.False(t, ok, "binding should be released after delivery")

	require.NoError(t, notifier.Notify(context.Background(), "123456", map[string]string{"status": "success"}))
	assert.Len(t, conn.received(), 1)

	var frame Frame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, FrameTypeReceive, frame.Type)
	assert.Equal(t, "123456", frame.ConversationID)
	assert.JSONEq(t, `{"status":"success"}`, string(frame.Data))
}

func TestRedisNotifierFansOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	registry := NewRegistry(time.Minute)
	conn := &fakeConn{id: "a"}
	registry.Register("123456", conn)

	notifier := NewRedisNotifier(client, "payhub", NewLocalNotifier(registry, logger.NewNop()), logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- notifier.Run(ctx) }()

	select {
	case <-notifier.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	require.NoError(t, notifier.Notify(context.Background(), "123456", map[string]string{"status": "success"}))

	assert.Eventually(t, func() bool { return len(conn.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, string) {
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello connectedFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)
	require.NotEmpty(t, hello.ConnectionID)

	return conn, hello.ConnectionID
}

func TestHubSubscribeAndReceive(t *testing.T) {
	registry := NewRegistry(time.Minute)
	hub := NewHub(registry, nil, logger.NewNop())
	defer hub.Close()

	conn, _ := dialHub(t, hub)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "subscribe", ConversationID: "123456"}))

	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("123456")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	notifier := NewLocalNotifier(registry, logger.NewNop())
	require.NoError(t, notifier.Notify(context.Background(), "123456", map[string]string{"status": "success"}))

	var frame Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "Receive", frame.Type)
	assert.Equal(t, "123456", frame.ConversationID)
}

func TestHubBindAndDisconnect(t *testing.T) {
	registry := NewRegistry(time.Minute)
	hub := NewHub(registry, nil, logger.NewNop())
	defer hub.Close()

	conn, connectionID := dialHub(t, hub)

	assert.ErrorIs(t, hub.Bind("1", "nope"), ErrUnknownConnection)
	require.NoError(t, hub.Bind("123456", connectionID))

	got, ok := registry.Lookup("123456")
	require.True(t, ok)
	assert.Equal(t, connectionID, got.ID())

	conn.Close()

	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("123456")
		return !ok && hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"shop.example.com"})

	r := httptest.NewRequest("GET", "/pay-hub", nil)
	r.Header.Set("Origin", "https://shop.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}
