// Package stream serves real-time classification over websockets. A client
// opens a stream, sends image frames as binary messages, and receives one
// JSON result per processed frame.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/classify"
	"github.com/visionclass/backend/internal/metrics"
)

var ErrTooManyStreams = errors.New("stream limit reached for user")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 10 << 20
	sessionTimeout = 30 * time.Minute

	streamEndpoint = "/api/v1/stream"
)

// FrameResult is the per-frame message written back to the client.
type FrameResult struct {
	Type        string                `json:"type"`
	StreamID    string                `json:"stream_id"`
	Frame       int64                 `json:"frame"`
	Predictions []classify.Prediction `json:"predictions,omitempty"`
	Model       string                `json:"model,omitempty"`
	FromCache   bool                  `json:"from_cache,omitempty"`
	Dropped     bool                  `json:"dropped,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// BillingInfo identifies who pays for a session's frames.
type BillingInfo struct {
	SubscriptionID string
	Tier           string
	MaskedKey      string
}

// Session is one open stream for one user.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time

	conn      *websocket.Conn
	cancel    context.CancelFunc
	bill      BillingInfo
	lastFrame time.Time
	frames    int64

	// Guards conn writes: the ping loop and the result path run in
	// different goroutines, and gorilla conns allow one writer at a time.
	writeMu sync.Mutex
}

// write sends one message, holding the session write lock for the deadline
// and the write together.
func (s *Session) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, payload)
}

// Manager owns stream sessions and enforces the per-user stream cap.
type Manager struct {
	dispatcher    *classify.Dispatcher
	ledger        *billing.Ledger
	frameInterval time.Duration
	maxPerUser    int

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]int
}

func NewManager(dispatcher *classify.Dispatcher, ledger *billing.Ledger, frameInterval time.Duration, maxPerUser int) *Manager {
	if frameInterval <= 0 {
		frameInterval = 200 * time.Millisecond
	}
	if maxPerUser <= 0 {
		maxPerUser = 2
	}
	return &Manager{
		dispatcher:    dispatcher,
		ledger:        ledger,
		frameInterval: frameInterval,
		maxPerUser:    maxPerUser,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		byUser:   make(map[string]int),
	}
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Serve upgrades the request and runs the stream until the client
// disconnects, the session times out, or the server shuts down. It blocks
// for the lifetime of the stream.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, userID, model string, bill BillingInfo) error {
	if err := m.reserve(userID); err != nil {
		return err
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.release(userID, "")
		return fmt.Errorf("failed to upgrade stream connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), sessionTimeout)
	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
		conn:      conn,
		cancel:    cancel,
		bill:      bill,
	}
	m.register(sess)
	metrics.ActiveStreams.Inc()
	defer func() {
		cancel()
		conn.Close()
		m.release(userID, sess.ID)
		metrics.ActiveStreams.Dec()
		log.Printf("[stream] session %s closed after %d frames", sess.ID, sess.frames)
	}()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go m.pingLoop(ctx, sess)

	m.writeJSON(sess, FrameResult{Type: "ready", StreamID: sess.ID})
	log.Printf("[stream] session %s opened for user %s", sess.ID, userID)

	return m.readLoop(ctx, sess, model)
}

func (m *Manager) readLoop(ctx context.Context, sess *Session, model string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream read failed: %w", err)
			}
			return nil
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		sess.frames++

		// Throttle: frames arriving faster than the interval are dropped,
		// not queued, so a fast client cannot build unbounded backlog.
		now := time.Now()
		if now.Sub(sess.lastFrame) < m.frameInterval {
			m.writeJSON(sess, FrameResult{
				Type: "result", StreamID: sess.ID, Frame: sess.frames, Dropped: true,
			})
			continue
		}
		sess.lastFrame = now

		m.processFrame(ctx, sess, model, data)
	}
}

func (m *Manager) processFrame(ctx context.Context, sess *Session, model string, data []byte) {
	start := time.Now()

	img, _, err := classify.DecodeImage(data)
	if err != nil {
		m.billFrame(ctx, sess, int64(len(data)), time.Since(start), false)
		m.writeJSON(sess, FrameResult{
			Type: "result", StreamID: sess.ID, Frame: sess.frames,
			Error: "frame is not a decodable image",
		})
		return
	}

	result, err := m.dispatcher.Classify(ctx, img, classify.Options{Model: model, UseCache: true})
	if err != nil {
		m.billFrame(ctx, sess, int64(len(data)), time.Since(start), false)
		m.writeJSON(sess, FrameResult{
			Type: "result", StreamID: sess.ID, Frame: sess.frames,
			Error: "classification failed",
		})
		return
	}

	m.billFrame(ctx, sess, int64(len(data)), time.Since(start), true)
	m.writeJSON(sess, FrameResult{
		Type:        "result",
		StreamID:    sess.ID,
		Frame:       sess.frames,
		Predictions: result.Predictions,
		Model:       result.ModelUsed,
		FromCache:   result.FromCache,
	})
}

// billFrame meters one processed frame. Dropped frames are never billed.
func (m *Manager) billFrame(ctx context.Context, sess *Session, size int64, took time.Duration, success bool) {
	if m.ledger == nil || sess.bill.SubscriptionID == "" {
		return
	}
	m.ledger.Log(ctx, billing.Request{
		MaskedKey:      sess.bill.MaskedKey,
		UserID:         sess.UserID,
		SubscriptionID: sess.bill.SubscriptionID,
		ServiceType:    billing.ServiceRealTimeStreaming,
		Endpoint:       streamEndpoint,
		RequestSize:    size,
		ProcessingTime: took,
		Success:        success,
		Tier:           sess.bill.Tier,
	})
}

func (m *Manager) pingLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) writeJSON(sess *Session, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := sess.write(websocket.TextMessage, payload); err != nil {
		log.Printf("[stream] write failed: %v", err)
	}
}

// CloseAll cancels every open session and closes its connection so blocked
// reads return. Called during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.cancel()
		sess.conn.Close()
	}
}

func (m *Manager) reserve(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[userID] >= m.maxPerUser {
		return ErrTooManyStreams
	}
	m.byUser[userID]++
	return nil
}

func (m *Manager) register(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
}

func (m *Manager) release(userID string, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID != "" {
		delete(m.sessions, sessionID)
	}
	if m.byUser[userID] > 0 {
		m.byUser[userID]--
	}
	if m.byUser[userID] == 0 {
		delete(m.byUser, userID)
	}
}
