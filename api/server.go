package api

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/mcp-training/locationsync/transport/websocket"
)

// Server represents the relay's HTTP surface
type Server struct {
	hub      *websocket.Hub
	router   *mux.Router
	metrics  http.Handler
	serverIP string
	port     int
	log      *logrus.Entry
}

// Option configures a Server.
type Option func(*Server)

// WithServerInfo sets the address shown on the status page.
func WithServerInfo(ip string, port int) Option {
	return func(s *Server) {
		s.serverIP = ip
		s.port = port
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new API server
func NewServer(hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		hub:      hub,
		router:   mux.NewRouter(),
		serverIP: "127.0.0.1",
		log:      logrus.WithField("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Any upgrade request is a peer connecting, whatever the path.
	s.router.HeadersRegexp("Upgrade", "(?i)^websocket$").HandlerFunc(s.hub.ServeWS)
	s.router.HandleFunc("/ws", s.hub.ServeWS)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	s.router.HandleFunc("/", s.handleStatusPage).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// PeerInfo describes one connected peer.
type PeerInfo struct {
	Identity     string    `json:"identity"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Status is the body of GET /api/status.
type Status struct {
	ServerIP  string     `json:"server_ip"`
	Port      int        `json:"port"`
	PeerCount int        `json:"peer_count"`
	Peers     []PeerInfo `json:"peers"`
}

// Status snapshots the registry.
func (s *Server) Status() Status {
	peers := s.hub.Registry().Peers()
	status := Status{
		ServerIP:  s.serverIP,
		Port:      s.port,
		PeerCount: len(peers),
		Peers:     make([]PeerInfo, 0, len(peers)),
	}
	for _, p := range peers {
		status.Peers = append(status.Peers, PeerInfo{
			Identity:     p.Identity,
			ConnectionID: p.ConnID.String(),
			ConnectedAt:  p.ConnectedAt,
		})
	}
	sort.Slice(status.Peers, func(i, j int) bool {
		return status.Peers[i].Identity < status.Peers[j].Identity
	})
	return status
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Status())
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>Location Sync Server</title>
    <meta http-equiv="refresh" content="5">
    <style>
      body { font-family: Arial, sans-serif; margin: 20px; }
      .info { background: #f0f0f0; padding: 10px; border-radius: 5px; }
      .peers { margin-top: 20px; }
    </style>
  </head>
  <body>
    <h1>Location Sync Server</h1>
    <div class="info">
      <p>Server IP: {{.ServerIP}}</p>
      <p>WebSocket port: {{.Port}}</p>
      <p>Connected peers: {{.PeerCount}}</p>
    </div>
    <div class="peers">
      <h2>Connected peers:</h2>
      <ul id="peerList">
        {{- range .Peers}}
        <li>{{.Identity}}</li>
        {{- end}}
      </ul>
    </div>
  </body>
</html>
`))

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := statusPage.Execute(&buf, s.Status()); err != nil {
		s.log.Warnf("Failed to render status page: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to render status page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
