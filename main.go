// Command locationsync starts the LAN location sync relay.
//
// It supports two modes:
//  1. "server" (default) – runs the WebSocket relay plus the status page, status API, /metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal relay if none is reachable
//
// Settings come from built-in defaults, an optional YAML file, a .env file,
// environment variables and flags, later sources winning.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/mcp-training/locationsync/api"
	"github.com/wricardo/mcp-training/locationsync/config"
	"github.com/wricardo/mcp-training/locationsync/metrics"
	"github.com/wricardo/mcp-training/locationsync/relay/lifecycle"
	"github.com/wricardo/mcp-training/locationsync/relay/liveness"
	"github.com/wricardo/mcp-training/locationsync/relay/registry"
	"github.com/wricardo/mcp-training/locationsync/transport/mcp"
	"github.com/wricardo/mcp-training/locationsync/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Location Sync Relay"
)

// main loads .env, then runs the selected mode until SIGINT or SIGTERM.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.Warnf("Error loading .env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "locationsync",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   config.DefaultPort,
				Usage:   "WebSocket and HTTP port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   config.DefaultHost,
				Usage:   "listen address",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Sources: cli.EnvVars("RELAY_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				Value:   config.DefaultHeartbeatInterval,
				Usage:   "time between heartbeat rounds",
				Sources: cli.EnvVars("HEARTBEAT_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   config.DefaultLogLevel,
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   config.DefaultLogFormat,
				Usage:   "text or json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run the relay with status page, metrics and MCP endpoint (default)",
				Action:  runServer,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run an MCP stdio server, starting an internal relay if none is reachable",
				Action:  runStdioMCP,
			},
		},
	}
}

// loadConfig layers the YAML file under any flag or environment value that
// was set explicitly.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("heartbeat-interval") {
		cfg.HeartbeatInterval = cmd.Duration("heartbeat-interval")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// relay is one fully wired relay instance.
type relay struct {
	registry *registry.Registry
	monitor  *liveness.Monitor
	hub      *websocket.Hub
	handler  http.Handler
}

// newRelay wires registry, metrics, liveness monitor, hub and HTTP routes.
// mcpBaseURL is where the /mcp tools reach the status API.
func newRelay(cfg config.Config, serverIP, mcpBaseURL string) *relay {
	promReg := metrics.NewRegistry()
	m := metrics.New(promReg)
	reg := registry.New()

	monitor := liveness.NewMonitor(reg, m, liveness.WithInterval(cfg.HeartbeatInterval))
	hub := websocket.NewHub(reg, m,
		websocket.WithHeartbeat(monitor),
		websocket.WithServerIP(serverIP),
		websocket.WithWriteWait(cfg.WriteWait),
		websocket.WithMaxMessageSize(cfg.MaxMessageSize),
		websocket.WithSendBuffer(cfg.SendBuffer),
	)

	apiServer := api.NewServer(hub,
		api.WithServerInfo(serverIP, cfg.Port),
		api.WithMetrics(metrics.Handler(promReg)),
	)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcp.NewClient(mcpBaseURL)))

	return &relay{
		registry: reg,
		monitor:  monitor,
		hub:      hub,
		handler:  mainRouter,
	}
}

// mcpHandler serves MCP JSON-RPC over HTTP POST.
func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// serve runs r on ln until ctx is cancelled.
func (r *relay) serve(ctx context.Context, ln net.Listener, cfg config.Config) error {
	httpServer := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctrl := lifecycle.New(httpServer, r.monitor, r.hub,
		lifecycle.WithShutdownTimeout(cfg.ShutdownTimeout))
	return ctrl.Run(ctx, ln)
}

// runServer starts the relay and blocks until shutdown completes.
func runServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	serverIP := config.LocalIP()
	r := newRelay(cfg, serverIP, fmt.Sprintf("http://127.0.0.1:%d", port))

	logrus.Infof("Starting %s v%s", AppName, Version)
	logrus.Infof("HTTP server listening on %s", ln.Addr())
	logrus.Infof("WebSocket: ws://%s:%d/ws", serverIP, port)
	logrus.Infof("Status page: http://%s:%d/", serverIP, port)
	logrus.Infof("MCP endpoint: http://%s:%d/mcp", serverIP, port)
	logrus.Infof("Heartbeat interval: %s", cfg.HeartbeatInterval)

	return r.serve(ctx, ln, cfg)
}

// runStdioMCP runs an MCP stdio server.
// It tries to reuse a relay already listening on the configured port; if
// unavailable, it starts an internal relay bound to a random loopback port
// and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	externalURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
	logrus.Infof("Checking for external relay at %s...", externalURL)

	baseURL := externalURL
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil {
		resp.Body.Close()
	}
	if err == nil && resp.StatusCode < 500 {
		logrus.Infof("External relay found at %s, using it for MCP", externalURL)
	} else {
		logrus.Info("No external relay found, starting internal relay")

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + ln.Addr().String()

		internal := cfg
		internal.Port = ln.Addr().(*net.TCPAddr).Port
		r := newRelay(internal, "127.0.0.1", baseURL)

		go func() {
			if err := r.serve(ctx, ln, internal); err != nil {
				logrus.Errorf("Internal relay error: %v", err)
			}
		}()
		logrus.Infof("Internal relay listening on %s", ln.Addr())
	}

	logrus.Info("MCP stdio server ready")
	if err := server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
