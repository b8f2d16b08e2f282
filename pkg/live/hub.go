// Package live pushes complaint snapshots and their report to connected
// dashboards over websockets.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"complaint-portal/pkg/analytics"
	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"
	"complaint-portal/pkg/response"
	"complaint-portal/pkg/store"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Frame is what every client receives after each snapshot.
type Frame struct {
	Complaints []models.Complaint `json:"complaints"`
	Report     analytics.Report   `json:"report"`
}

// Hub owns one repository subscription and fans its snapshots out to all
// clients. New clients get the latest frame immediately; clients that
// cannot keep up are dropped.
type Hub struct {
	repo     store.ComplaintRepository
	now      func() time.Time
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	frames     chan []byte

	mu      sync.Mutex
	running chan struct{}
	clients map[*Client]struct{}
	latest  []byte
}

func NewHub(repo store.ComplaintRepository, allowedOrigins []string) *Hub {
	return &Hub{
		repo: repo,
		now:  time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan []byte, 1),
		clients:    make(map[*Client]struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func BuildFrame(complaints []models.Complaint, now time.Time) Frame {
	return Frame{Complaints: complaints, Report: analytics.Build(complaints, now)}
}

// Serve runs until ctx is cancelled. It satisfies suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	running := make(chan struct{})
	h.mu.Lock()
	h.running = running
	h.mu.Unlock()
	defer close(running)

	unsubscribe, err := h.repo.Subscribe(ctx, func(cs []models.Complaint) {
		b, err := json.Marshal(BuildFrame(cs, h.now()))
		if err != nil {
			logging.Error().Err(err).Msg("failed to encode live frame")
			return
		}
		select {
		case h.frames <- b:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	logging.Info().Msg("live hub started")
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.latest != nil {
				c.send <- h.latest
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case b := <-h.frames:
			h.latest = b
			for c := range h.clients {
				select {
				case c.send <- b:
				default:
					logging.Warn().Uint64("client", c.id).Msg("dropping slow live client")
					h.drop(c)
				}
			}
		}
	}
}

// runningDone is closed once Serve has returned.
func (h *Hub) runningDone() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) String() string {
	return "live-hub"
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if running == nil {
		response.Error(w, http.StatusServiceUnavailable, "Live feed is not running", "")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
		c.start()
	case <-running:
		_ = conn.Close()
	}
}
