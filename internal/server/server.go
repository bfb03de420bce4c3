// -----------------------------------------------------------------------
// Status Server - live run progress over WebSocket for the local UI
// -----------------------------------------------------------------------

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/interfaces"
	"github.com/rlourenco/emissor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local-only server
	},
}

// Server broadcasts run progress events to connected WebSocket clients
// and serves a minimal status page. Clients whose writes fail are
// dropped; the run never waits on an observer.
type Server struct {
	cfg    *common.Config
	logger arbor.ILogger

	httpServer *http.Server

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
}

// New creates the status server and subscribes it to every run event.
func New(cfg *common.Config, events interfaces.EventService, logger arbor.ILogger) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}

	for _, t := range []models.EventType{
		models.EventRunStarted,
		models.EventRunFinished,
		models.EventRecordStarted,
		models.EventRecordFinished,
		models.EventRecordsSkipped,
		models.EventLogLine,
	} {
		events.Subscribe(t, s.broadcast)
	}

	return s
}

// Start begins listening. Non-blocking; listen errors are logged.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info().Str("addr", "http://"+addr).Msg("Status server listening")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status server stopped")
		}
	}()
}

// Stop shuts the server down, closing client connections.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.clientMutex[conn] = &sync.Mutex{}
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug().Msgf("Status client connected (total: %d)", total)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		delete(s.clientMutex, conn)
		remaining := len(s.clients)
		s.mu.Unlock()

		conn.Close()
		s.logger.Debug().Msgf("Status client disconnected (remaining: %d)", remaining)
	}()

	// Clients only listen; reads just detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// broadcast fans an event out to every connected client. Write failures
// drop the client on its next read; they never propagate to the run.
func (s *Server) broadcast(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	mutexes := make([]*sync.Mutex, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, s.clientMutex[conn])
	}
	s.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send event to client")
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, statusPage)
}

const statusPage = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Emissor - Status</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2rem; }
h1 { color: #6c9; font-size: 1.2rem; }
#stats { margin-bottom: 1rem; }
#stats span { margin-right: 2rem; }
#log { white-space: pre-wrap; border-top: 1px solid #333; padding-top: 1rem; }
.ok { color: #6c9; } .fail { color: #e66; } .skip { color: #888; }
</style>
</head>
<body>
<h1>Emissor</h1>
<div id="stats">
<span>Attempted: <b id="attempted">0</b></span>
<span>Succeeded: <b id="succeeded" class="ok">0</b></span>
<span>Failed: <b id="failed" class="fail">0</b></span>
</div>
<div id="log"></div>
<script>
let attempted = 0, succeeded = 0, failed = 0;
const log = document.getElementById("log");
function line(text, cls) {
  const div = document.createElement("div");
  if (cls) div.className = cls;
  div.textContent = new Date().toLocaleTimeString() + "  " + text;
  log.prepend(div);
}
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const p = ev.payload || {};
  switch (ev.type) {
    case "run.started":
      line("Run started: " + p.pending + " pending of " + p.records + " records");
      break;
    case "record.started":
      line("Row " + p.row + ": " + p.name);
      break;
    case "record.finished":
      attempted++;
      if (p.succeeded) succeeded++; else failed++;
      document.getElementById("attempted").textContent = attempted;
      document.getElementById("succeeded").textContent = succeeded;
      document.getElementById("failed").textContent = failed;
      line("Row " + p.row + " " + (p.succeeded ? "OK" : "FAILED") + " (" + p.duration + ")",
        p.succeeded ? "ok" : "fail");
      break;
    case "records.skipped":
      line(p.first_row === p.last_row
        ? "Row " + p.first_row + " skipped"
        : "Rows " + p.first_row + "-" + p.last_row + " skipped", "skip");
      break;
    case "run.finished":
      line("Run finished: " + p.succeeded + " ok, " + p.failed + " failed");
      break;
  }
};
ws.onclose = () => line("Disconnected", "fail");
</script>
</body>
</html>
`
