package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/cache"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/models"
)

// newConnPair upgrades one websocket connection through a test server and
// returns both ends.
func newConnPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func newTestManager(t *testing.T, ledger *billing.Ledger) *Manager {
	t.Helper()
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { store.Close() })
	registry := classify.NewRegistry(classify.NewMockBackend())
	resultCache := classify.NewResultCache(store, time.Hour, time.Second, true)
	dispatcher := classify.NewDispatcher(registry, resultCache, classify.ModelMock, 0.0, 5*time.Second)
	return NewManager(dispatcher, ledger, time.Millisecond, 2)
}

func framePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSessionWritesAreSerialized(t *testing.T) {
	serverConn, clientConn := newConnPair(t)
	m := newTestManager(t, nil)
	sess := &Session{ID: "s1", conn: serverConn}

	const writers = 4
	const perWriter = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				m.writeJSON(sess, FrameResult{Type: "result", StreamID: sess.ID})
			}
		}()
	}

	received := 0
	for received < writers*perWriter {
		clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := clientConn.ReadMessage()
		require.NoError(t, err)
		received++
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, received)
}

func TestProcessFrameBillsStreaming(t *testing.T) {
	ctx := context.Background()
	subs := billing.NewMemorySubscriptionStore()
	sub, err := subs.Create(ctx, "user-1", models.TierBasic)
	require.NoError(t, err)
	usage := billing.NewMemoryUsageStore()
	ledger := billing.NewLedger(usage, subs)

	serverConn, clientConn := newConnPair(t)
	m := newTestManager(t, ledger)
	sess := &Session{
		ID:     "s1",
		UserID: "user-1",
		conn:   serverConn,
		bill: BillingInfo{
			SubscriptionID: sub.ID,
			Tier:           sub.Tier,
			MaskedKey:      "vc_live_ab...",
		},
	}

	sess.frames = 1
	m.processFrame(ctx, sess, "", framePNG(t))

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg FrameResult
	require.NoError(t, clientConn.ReadJSON(&msg))
	assert.Equal(t, "result", msg.Type)
	assert.Empty(t, msg.Error)
	assert.NotEmpty(t, msg.Predictions)

	entries, err := usage.ListByUser(ctx, "user-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, billing.ServiceRealTimeStreaming, entries[0].ServiceType)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "vc_live_ab...", entries[0].MaskedKey)

	updated, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.UsedRequests)
}

func TestProcessFrameBillsUndecodableFrameAsFailure(t *testing.T) {
	ctx := context.Background()
	subs := billing.NewMemorySubscriptionStore()
	sub, err := subs.Create(ctx, "user-1", models.TierBasic)
	require.NoError(t, err)
	usage := billing.NewMemoryUsageStore()
	ledger := billing.NewLedger(usage, subs)

	serverConn, clientConn := newConnPair(t)
	m := newTestManager(t, ledger)
	sess := &Session{
		ID:     "s1",
		UserID: "user-1",
		conn:   serverConn,
		bill:   BillingInfo{SubscriptionID: sub.ID, Tier: sub.Tier, MaskedKey: "jwt"},
	}

	sess.frames = 1
	m.processFrame(ctx, sess, "", []byte("not an image"))

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg FrameResult
	require.NoError(t, clientConn.ReadJSON(&msg))
	assert.NotEmpty(t, msg.Error)

	entries, err := usage.ListByUser(ctx, "user-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestCloseAllCancelsSessions(t *testing.T) {
	serverConn, clientConn := newConnPair(t)
	m := newTestManager(t, nil)

	_, cancel := context.WithCancel(context.Background())
	sess := &Session{ID: "s1", UserID: "user-1", conn: serverConn, cancel: cancel}
	m.register(sess)

	m.CloseAll()

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := clientConn.ReadMessage()
	assert.Error(t, err)
}
