// Package ws implements the bidirectional per-client detection stream:
// a hub with register/unregister/broadcast goroutines, per-connection
// read/write pumps, and a processing loop that drives the vision
// pipeline off a newest-wins frame slot.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/suriai/attendengine/internal/imaging"
	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/observability"
	"github.com/suriai/attendengine/internal/queue"
	"github.com/suriai/attendengine/internal/storage"
	"github.com/suriai/attendengine/internal/stream"
	"github.com/suriai/attendengine/internal/vision"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is the client → server envelope.
type clientMessage struct {
	Type                string  `json:"type"`
	Image               string  `json:"image,omitempty"`
	ModelType           string  `json:"model_type,omitempty"`
	ConfidenceThreshold float32 `json:"confidence_threshold,omitempty"`
	NMSThreshold        float32 `json:"nms_threshold,omitempty"`
	EnableLiveness      *bool   `json:"enable_liveness,omitempty"`
}

type performanceMetrics struct {
	ActualFPS         float64 `json:"actual_fps"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	QueueSize         int     `json:"queue_size"`
	DroppedFrames     int64   `json:"dropped_frames"`
}

type detectionResponse struct {
	Type               string              `json:"type"`
	SessionID          string              `json:"session_id"`
	Faces              []models.FaceResult `json:"faces"`
	ModelUsed          string              `json:"model_used"`
	ProcessingTime     float64             `json:"processing_time"`
	Timestamp          string              `json:"timestamp"`
	FrameDropped       bool                `json:"frame_dropped"`
	PerformanceMetrics performanceMetrics  `json:"performance_metrics"`
}

type requestNextFrameMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type pongMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

type errorMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type attendanceEventMsg struct {
	Type string                        `json:"type"`
	Data models.AttendanceNotification `json:"data"`
}

// Client is one connected detection stream.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	session *stream.Session

	sessionID        string
	allowedPersonIDs map[string]bool

	notify  chan struct{}
	metrics *sessionMetrics
}

// Hub maintains active clients, broadcasts attendance notifications, and
// owns the shared collaborators every per-client processing loop needs.
// Tracker state stays exclusive to each stream; the Pipeline itself is
// stateless and safe to share.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	registry   *stream.Registry
	pipeline   *vision.Pipeline
	producer   *queue.Producer
	db         *storage.PostgresStore
	trackerCfg vision.TrackerConfig
}

func NewHub(registry *stream.Registry, pipeline *vision.Pipeline, producer *queue.Producer, db *storage.PostgresStore, trackerCfg vision.TrackerConfig) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		pipeline:   pipeline,
		producer:   producer,
		db:         db,
		trackerCfg: trackerCfg,
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			observability.ActiveStreams.Set(float64(h.registry.Count()))
			slog.Debug("ws client connected", "session_id", client.sessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			observability.WSConnections.Dec()
			observability.ActiveStreams.Set(float64(h.registry.Count()))
			slog.Debug("ws client disconnected", "session_id", client.sessionID)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slog.Warn("ws client send buffer full, dropping broadcast", "session_id", client.sessionID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent publishes an attendance notification to every connected
// client.
func (h *Hub) BroadcastEvent(n models.AttendanceNotification) {
	data, err := json.Marshal(attendanceEventMsg{Type: "attendance_event", Data: n})
	if err != nil {
		slog.Error("marshal attendance event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast channel full, dropping attendance event", "person_id", n.PersonID)
	}
}

// HandleWS upgrades the connection and starts the per-client pumps plus
// the single-consumer processing loop that realizes the newest-wins
// backpressure slot.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	groupID := c.Query("group_id")
	// session_id is a connection-scoped identifier, not a data-model
	// entity, so it uses uuid rather than the ulid package reserved for
	// person/record/session rows.
	sessionID := uuid.NewString()

	var allowed map[string]bool
	if groupID != "" {
		if members, err := h.db.ListMembers(c.Request.Context(), groupID); err == nil {
			allowed = make(map[string]bool, len(members))
			for _, m := range members {
				if m.Active {
					allowed[m.PersonID] = true
				}
			}
		} else {
			slog.Warn("load group members for ws session", "group_id", groupID, "error", err)
		}
	}

	sess := h.registry.Register(sessionID, groupID, h.trackerCfg)

	client := &Client{
		conn:             conn,
		send:             make(chan []byte, 64),
		session:          sess,
		sessionID:        sessionID,
		allowedPersonIDs: allowed,
		notify:           make(chan struct{}, 1),
		metrics:          newSessionMetrics(),
	}

	h.register <- client

	go client.writePump()
	go client.processLoop(h)
	client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump parses detection_request/ping client messages and hands frames
// to the backpressure slot; it never blocks on inference.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		close(c.notify)
		h.pipeline.FlushTracker(c.session.Tracker)
		h.registry.Unregister(c.sessionID)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}

		switch msg.Type {
		case "detection_request":
			dropped := c.session.Submit(msg)
			if dropped {
				c.metrics.recordDropped()
			}
			select {
			case c.notify <- struct{}{}:
			default:
			}
		case "ping":
			c.sendJSON(pongMsg{Type: "pong", SessionID: c.sessionID, Timestamp: nowRFC3339()})
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

// processLoop is the single consumer of this client's pending-frame slot,
// running ProcessFrame outside the read loop so a slow inference never
// backs up the socket. It is the only goroutine touching this stream's
// Tracker.
func (c *Client) processLoop(h *Hub) {
	for range c.notify {
		pending, ok := c.session.TakePending()
		if !ok {
			continue
		}
		msg := pending.(clientMessage)
		c.processFrame(h, msg)
	}
}

func (c *Client) processFrame(h *Hub, msg clientMessage) {
	img, err := imaging.DecodeBase64(msg.Image)
	if err != nil {
		c.sendError("decode image: " + err.Error())
		return
	}

	frameNumber := c.session.NextFrameNumber()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	faces, candidates, err := h.pipeline.ProcessFrame(ctx, c.session.Tracker, img, frameNumber, c.allowedPersonIDs)
	elapsed := time.Since(start)
	if err != nil {
		c.sendError("process frame: " + err.Error())
		return
	}

	c.metrics.recordProcessed(elapsed)
	observability.FramesProcessed.WithLabelValues(c.sessionID).Inc()
	observability.FacesDetected.WithLabelValues(c.sessionID).Add(float64(len(faces)))
	observability.FacesRecognized.WithLabelValues(c.sessionID).Add(float64(len(candidates)))
	actualFPS, avgMs, dropped := c.metrics.snapshot()

	modelUsed := msg.ModelType
	if modelUsed == "" {
		modelUsed = "default"
	}

	c.sendJSON(detectionResponse{
		Type:           "detection_response",
		SessionID:      c.sessionID,
		Faces:          faces,
		ModelUsed:      modelUsed,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      nowRFC3339(),
		FrameDropped:   false,
		PerformanceMetrics: performanceMetrics{
			ActualFPS:         actualFPS,
			AvgProcessingTime: avgMs,
			QueueSize:         0,
			DroppedFrames:     dropped,
		},
	})
	c.sendJSON(requestNextFrameMsg{Type: "request_next_frame", SessionID: c.sessionID, Timestamp: nowRFC3339()})

	for _, cand := range candidates {
		event := models.RecognitionEvent{
			PersonID:   cand.PersonID,
			GroupID:    c.session.GroupID,
			Confidence: cand.Confidence,
			Timestamp:  time.Now(),
			StreamID:   c.sessionID,
		}
		go func(ev models.RecognitionEvent) {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pubCancel()
			if err := h.producer.PublishRecognition(pubCtx, ev.StreamID, ev); err != nil {
				slog.Error("publish recognition event", "error", err, "person_id", ev.PersonID)
			}
		}(event)
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal ws message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("ws client send buffer full, dropping message", "session_id", c.sessionID)
	}
}

func (c *Client) sendError(message string) {
	c.sendJSON(errorMsg{Type: "error", SessionID: c.sessionID, Message: message})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// sessionMetrics tracks the figures detection_response's
// performance_metrics reports: FPS over a window restarted once it passes
// 60 s, and average processing time and dropped frames since the
// connection opened.
type sessionMetrics struct {
	mu              sync.Mutex
	framesProcessed int64
	droppedFrames   int64
	totalDuration   time.Duration
	windowStart     time.Time
	windowFrames    int64
}

func newSessionMetrics() *sessionMetrics {
	return &sessionMetrics{windowStart: time.Now()}
}

func (m *sessionMetrics) recordProcessed(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesProcessed++
	m.windowFrames++
	m.totalDuration += d
}

func (m *sessionMetrics) recordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedFrames++
}

func (m *sessionMetrics) snapshot() (actualFPS, avgProcessingTimeMs float64, dropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		actualFPS = float64(m.windowFrames) / elapsed
	}
	if m.framesProcessed > 0 {
		avgProcessingTimeMs = (m.totalDuration.Seconds() / float64(m.framesProcessed)) * 1000
	}
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowFrames = 0
	}
	return actualFPS, avgProcessingTimeMs, m.droppedFrames
}
