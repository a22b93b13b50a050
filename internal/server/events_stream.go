package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/abood991b/insightbull/internal/scheduler"
)

// eventStream pushes scheduler job events to websocket clients. Clients that
// prefer polling use the plain /events endpoint instead; both views read the
// same bounded ring.
type eventStream struct {
	scheduler *scheduler.Scheduler
	log       zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	stopCh  chan struct{}
	started bool
}

func newEventStream(sched *scheduler.Scheduler, log zerolog.Logger) *eventStream {
	return &eventStream{
		scheduler: sched,
		log:       log.With().Str("component", "event_stream").Logger(),
		clients:   make(map[*websocket.Conn]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// start launches the broadcast loop: poll the ring, fan new events out.
func (e *eventStream) start() {
	e.mu.Lock()
	if e.started || e.scheduler == nil {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go func() {
		lastSeen := time.Now().UTC()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				events := e.scheduler.GetRecentJobEvents(lastSeen)
				if len(events) == 0 {
					continue
				}
				lastSeen = events[len(events)-1].Timestamp
				e.broadcast(events)
			}
		}
	}()
}

func (e *eventStream) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	close(e.stopCh)
	for conn := range e.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	e.clients = make(map[*websocket.Conn]struct{})
	e.started = false
}

func (e *eventStream) broadcast(events []scheduler.JobEvent) {
	e.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(e.clients))
	for conn := range e.clients {
		conns = append(conns, conn)
	}
	e.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := wsjson.Write(ctx, conn, events)
		cancel()
		if err != nil {
			e.remove(conn)
		}
	}
}

func (e *eventStream) remove(conn *websocket.Conn) {
	e.mu.Lock()
	delete(e.clients, conn)
	e.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// handleWebsocket upgrades the connection and registers the client.
func (e *eventStream) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}

	e.mu.Lock()
	e.clients[conn] = struct{}{}
	e.mu.Unlock()

	// Hold the connection open; reads only serve to detect disconnects.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			e.remove(conn)
			return
		}
	}
}
