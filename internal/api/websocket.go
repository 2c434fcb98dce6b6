package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// Frame types on /ws.
const (
	FrameWatch  = "watch"
	FramePing   = "ping"
	FramePong   = "pong"
	FrameAck    = "ack"
	FrameChange = "change"
	FrameError  = "error"

	// feedQueue is how many frames a client may fall behind before it is
	// disconnected.
	feedQueue = 256
)

// FeedRequest is a client frame. A watch narrows the feed to registers
// [From, From+Count); Count 0 means up to the end of the bank.
type FeedRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	From  int    `json:"from,omitempty"`
	Count int    `json:"count,omitempty"`
}

// FeedReply answers a FeedRequest.
type FeedReply struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	From    int    `json:"from,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChangeFrame is pushed for every committed write that overlaps the
// client's window.
type ChangeFrame struct {
	Type    string   `json:"type"`
	Address int      `json:"address"`
	Values  []uint16 `json:"values"`
	Source  string   `json:"source"`
	Time    string   `json:"time"`
}

// Hub fans register changes out to WebSocket clients.
//
// A client starts out watching the whole bank. One that stops draining its
// queue is disconnected rather than silently skipped, so a connected
// client has never missed a change in its window.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	onCount func(int)

	mu    sync.Mutex
	peers map[*peer]struct{}
}

type peer struct {
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	from, to int
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, out: make(chan []byte, feedQueue), to: registers.Size}
}

// wants reports whether a write of n registers at addr overlaps the window.
func (p *peer) wants(addr, n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return addr < p.to && addr+n > p.from
}

func (p *peer) watch(from, count int) {
	p.mu.Lock()
	p.from, p.to = from, from+count
	p.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware owns origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. onCount, when not nil, receives the client count
// after every connect and disconnect.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, onCount func(int)) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		onCount: onCount,
		peers:   make(map[*peer]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	for p := range h.peers {
		h.dropLocked(p)
	}
	h.mu.Unlock()
	h.reportCount(0)
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.reportCount(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	h.dropLocked(p)
	n := len(h.peers)
	h.mu.Unlock()
	if ok {
		h.reportCount(n)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// dropLocked closes p's queue once; its write loop then closes the socket.
func (h *Hub) dropLocked(p *peer) {
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	close(p.out)
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// send queues one frame for p. A full queue disconnects p.
func (h *Hub) send(p *peer, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encoding websocket frame", "error", err)
		return
	}
	h.mu.Lock()
	h.enqueueLocked(p, data)
	h.mu.Unlock()
}

func (h *Hub) enqueueLocked(p *peer, data []byte) {
	if _, ok := h.peers[p]; !ok {
		return
	}
	select {
	case p.out <- data:
	default:
		h.logger.Warn("websocket client too slow, disconnecting")
		h.dropLocked(p)
	}
}

// Publish pushes c to every client whose window it overlaps.
func (h *Hub) Publish(c registers.Change) {
	data, err := json.Marshal(ChangeFrame{
		Type:    FrameChange,
		Address: c.Address,
		Values:  c.Values,
		Source:  string(c.Source),
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Error("encoding register change", "error", err)
		return
	}

	h.mu.Lock()
	before := len(h.peers)
	for p := range h.peers {
		if p.wants(c.Address, len(c.Values)) {
			h.enqueueLocked(p, data)
		}
	}
	after := len(h.peers)
	h.mu.Unlock()

	if after != before {
		h.reportCount(after)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// handleWebSocket serves the register change feed. Authentication, when
// enabled, has already been checked by requireRole.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	p := newPeer(conn)
	s.hub.add(p)
	go s.hub.writeLoop(p)
	go s.hub.readLoop(p)
}

func (h *Hub) readLoop(p *peer) {
	defer func() {
		h.remove(p)
		p.conn.Close() //nolint:errcheck // already disconnecting
	}()

	idle := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	p.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	p.conn.SetReadDeadline(time.Now().Add(idle))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // a failed deadline surfaces as a read error
		p.conn.SetReadDeadline(time.Now().Add(idle))
		h.send(p, h.answer(p, data))
	}
}

// answer handles one client frame and returns the reply.
func (h *Hub) answer(p *peer, data []byte) FeedReply {
	var req FeedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return FeedReply{Type: FrameError, Message: "invalid JSON"}
	}

	switch req.Type {
	case FramePing:
		return FeedReply{Type: FramePong, ID: req.ID}
	case FrameWatch:
		count := req.Count
		if count == 0 {
			count = registers.Size - req.From
		}
		if req.From < 0 || req.From >= registers.Size || count < 0 || count > registers.Size-req.From {
			return FeedReply{Type: FrameError, ID: req.ID, Message: "watch window out of range"}
		}
		p.watch(req.From, count)
		return FeedReply{Type: FrameAck, ID: req.ID, From: req.From, Count: count}
	default:
		return FeedReply{Type: FrameError, ID: req.ID, Message: "unknown frame type: " + req.Type}
	}
}

func (h *Hub) writeLoop(p *peer) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		p.conn.Close() //nolint:errcheck // already disconnecting
	}()
	deadline := time.Duration(h.cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-p.out:
			//nolint:errcheck // a failed deadline surfaces as a write error
			p.conn.SetWriteDeadline(time.Now().Add(deadline))
			if !ok {
				//nolint:errcheck // peer may already be gone
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // a failed deadline surfaces as a write error
			p.conn.SetWriteDeadline(time.Now().Add(deadline))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
