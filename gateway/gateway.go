// Package gateway exposes the tool registry over MCP stdio, HTTP and
// WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gliderlab/mcpgate/rpcproto"
	"github.com/gliderlab/mcpgate/tools"
)

const maxBodyBytes = 4 << 20

type Config struct {
	Host string
	Port int
	// Token guards every route except /health. Empty disables auth, which is
	// only honoured on loopback hosts.
	Token string
}

type Gateway struct {
	cfg      Config
	registry *tools.Registry
	router   *tools.Router
	log      zerolog.Logger
	server   *http.Server
}

type PluginInfo struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

type PluginsReply struct {
	Plugins        []PluginInfo     `json:"plugins"`
	Conflicts      []tools.Conflict `json:"conflicts"`
	UnknownEnabled []string         `json:"unknownEnabled"`
}

func New(cfg Config, reg *tools.Registry, router *tools.Router, log zerolog.Logger) *Gateway {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if strings.TrimSpace(cfg.Token) == "" && !isLoopback(cfg.Host) {
		log.Warn().Str("host", cfg.Host).Msg("GATEWAY_TOKEN is empty on a non-loopback host; API will reject all requests")
	}
	return &Gateway{cfg: cfg, registry: reg, router: router, log: log}
}

func (g *Gateway) Addr() string {
	return net.JoinHostPort(g.cfg.Host, fmt.Sprint(g.cfg.Port))
}

// Handler returns the routed mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/v1/tools", g.requireAuth(g.handleTools))
	mux.HandleFunc("/v1/tools/call", g.requireAuth(g.handleCall))
	mux.HandleFunc("/v1/plugins", g.requireAuth(g.handlePlugins))
	mux.HandleFunc("/ws/tools", g.requireAuth(g.handleWebSocket))
	return mux
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.server = &http.Server{
		Addr:         g.Addr(),
		Handler:      g.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Info().Str("addr", g.server.Addr).Msg("gateway listening")
		errCh <- g.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		g.log.Info().Msg("gateway shutting down")
		return g.server.Shutdown(shutdownCtx)
	}
}

// requireAuth accepts "Authorization: Bearer <token>", X-Gateway-Token, or a
// token query parameter (browsers cannot set headers on WebSocket upgrades).
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(g.cfg.Token)
		if token == "" {
			if isLoopback(g.cfg.Host) {
				next(w, r)
				return
			}
			http.Error(w, "unauthorized (gateway token not set)", http.StatusUnauthorized)
			return
		}
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			header = strings.TrimSpace(header[len("Bearer "):])
		}
		if header == token || r.Header.Get("X-Gateway-Token") == token || r.URL.Query().Get("token") == token {
			next(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"plugins": len(g.registry.Plugins()),
		"tools":   len(g.registry.Tools()),
	})
}

func (g *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, rpcproto.ListToolsReply{Tools: g.registry.Tools()})
}

func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcproto.CallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	args, err := req.DecodeArguments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := g.router.Call(r.Context(), req.Name, args)
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply := PluginsReply{
		Plugins:        []PluginInfo{},
		Conflicts:      g.registry.Conflicts(),
		UnknownEnabled: g.registry.UnknownEnabled(),
	}
	for _, p := range g.registry.Plugins() {
		reply.Plugins = append(reply.Plugins, PluginInfo{Name: p.Name, Tools: p.ToolNames()})
	}
	if reply.Conflicts == nil {
		reply.Conflicts = []tools.Conflict{}
	}
	if reply.UnknownEnabled == nil {
		reply.UnknownEnabled = []string{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
