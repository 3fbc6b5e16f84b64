// Package health reports the gateway's own state as a tool.
package health

import (
	"context"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gliderlab/mcpgate/rpcproto"
	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
)

const Name = "serverHealth"

// Source is the live view of the registry. *tools.Registry satisfies it.
type Source interface {
	PluginNames() []string
	Tools() []rpcproto.ToolDescriptor
	Conflicts() []tools.Conflict
}

type Config struct {
	ServerName    string
	ServerVersion string
	Started       time.Time
	Now           func() time.Time
	// Source is resolved on every call; the registry that includes this
	// plugin is only built after the plugin itself.
	Source func() Source
	// Stores maps a plugin name to a row-count probe for its database.
	Stores map[string]StatsFunc
}

type StatsFunc func(ctx context.Context) (map[string]int, error)

type Report struct {
	Status        string                    `json:"status"`
	Server        string                    `json:"server"`
	Version       string                    `json:"version"`
	StartedAt     time.Time                 `json:"startedAt"`
	Uptime        string                    `json:"uptime"`
	UptimeSeconds int64                     `json:"uptimeSeconds"`
	Plugins       []string                  `json:"plugins"`
	ToolCount     int                       `json:"toolCount"`
	Conflicts     []tools.Conflict          `json:"conflicts"`
	GoVersion     string                    `json:"goVersion"`
	Goroutines    int                       `json:"goroutines"`
	HeapAlloc     string                    `json:"heapAlloc"`
	Storage       map[string]map[string]int `json:"storage,omitempty"`
	StorageErrors map[string]string         `json:"storageErrors,omitempty"`
}

func New(cfg Config) tools.Plugin {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Now()
	}
	return adapter.NewSet(Name).
		Add("server_health", "Report gateway status: uptime, active plugins, tool count and tool name conflicts",
			nil, func(ctx context.Context, _ adapter.Args) (interface{}, error) {
				return snapshot(ctx, cfg), nil
			}).
		Plugin()
}

func snapshot(ctx context.Context, cfg Config) Report {
	up := cfg.Now().Sub(cfg.Started)
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r := Report{
		Status:        "ok",
		Server:        cfg.ServerName,
		Version:       cfg.ServerVersion,
		StartedAt:     cfg.Started.UTC(),
		Uptime:        up.Truncate(time.Second).String(),
		UptimeSeconds: int64(up / time.Second),
		Plugins:       []string{},
		Conflicts:     []tools.Conflict{},
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     humanize.Bytes(mem.HeapAlloc),
	}
	for name, probe := range cfg.Stores {
		stats, err := probe(ctx)
		if err != nil {
			if r.StorageErrors == nil {
				r.StorageErrors = map[string]string{}
			}
			r.StorageErrors[name] = err.Error()
			r.Status = "degraded"
			continue
		}
		if r.Storage == nil {
			r.Storage = map[string]map[string]int{}
		}
		r.Storage[name] = stats
	}
	if cfg.Source == nil {
		return r
	}
	src := cfg.Source()
	if src == nil {
		r.Status = "starting"
		return r
	}
	r.Plugins = src.PluginNames()
	r.ToolCount = len(src.Tools())
	if c := src.Conflicts(); len(c) > 0 {
		r.Conflicts = c
		r.Status = "degraded"
	}
	return r
}
