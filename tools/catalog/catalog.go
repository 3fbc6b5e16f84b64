// Package catalog lists every plugin the gateway ships and builds the ones
// enabled by configuration.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/gliderlab/mcpgate/config"
	"github.com/gliderlab/mcpgate/logging"
	"github.com/gliderlab/mcpgate/processtool"
	"github.com/gliderlab/mcpgate/storage"
	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/cloudflare"
	"github.com/gliderlab/mcpgate/tools/eesystem"
	"github.com/gliderlab/mcpgate/tools/filesystem"
	"github.com/gliderlab/mcpgate/tools/github"
	"github.com/gliderlab/mcpgate/tools/gohighlevel"
	"github.com/gliderlab/mcpgate/tools/health"
	"github.com/gliderlab/mcpgate/tools/memorygraph"
	"github.com/gliderlab/mcpgate/tools/openapi"
	"github.com/gliderlab/mcpgate/tools/process"
	"github.com/gliderlab/mcpgate/tools/whatsapp"
)

const (
	KeyGitHubURL = "GITHUB_API_URL"
	KeyGHLURL    = "GHL_API_URL"
)

// Entry is a plugin that has not been constructed yet.
type Entry struct {
	Name        string
	Description string
	build       func(*Catalog) (tools.Plugin, error)
}

func (e Entry) PluginName() string { return e.Name }

// Entries returns the catalog in priority order; on a tool name collision
// the earlier plugin wins.
func Entries() []Entry {
	return []Entry{
		{filesystem.Name, "Sandboxed file and directory access", buildFilesystem},
		{memorygraph.Name, "Persistent knowledge graph", buildMemory},
		{github.Name, "GitHub repositories and issues", buildGitHub},
		{cloudflare.Name, "Cloudflare Workers, DNS analytics and audit logs", buildCloudflare},
		{whatsapp.Name, "WhatsApp chats through a local bridge", buildWhatsApp},
		{gohighlevel.Name, "GoHighLevel CRM contacts and messaging", buildGoHighLevel},
		{openapi.Name, "OpenAPI directory search and documentation", buildOpenAPI},
		{eesystem.Name, "Evolutionary problem solving", buildEESystem},
		{process.Name, "Background process management", buildProcess},
		{health.Name, "Gateway status", buildHealth},
	}
}

// Catalog owns the built plugins and the resources behind them.
type Catalog struct {
	cfg     *config.Config
	log     zerolog.Logger
	started time.Time

	registry *tools.Registry
	closers  []func() error
	stores   map[string]health.StatsFunc
}

// Build constructs only the enabled plugins and registers them.
func Build(cfg *config.Config, log zerolog.Logger) (*Catalog, error) {
	c := &Catalog{cfg: cfg, log: log, started: time.Now(), stores: map[string]health.StatsFunc{}}

	var built []tools.Plugin
	for _, e := range tools.FilterEnabled(Entries(), cfg.EnabledPlugins) {
		p, err := e.build(c)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("build plugin %s: %w", e.Name, err)
		}
		built = append(built, p)
	}

	reg, err := tools.NewRegistry(built, cfg.EnabledPlugins,
		tools.WithStrict(cfg.StrictPlugins),
		tools.WithRegistryLogger(logging.Component(log, "registry")))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.registry = reg
	return c, nil
}

func (c *Catalog) Registry() *tools.Registry { return c.registry }

func (c *Catalog) Router() *tools.Router {
	return tools.NewRouter(c.registry.Table(),
		tools.WithCallTimeout(c.cfg.CallTimeout),
		tools.WithRouterLogger(logging.Component(c.log, "router")))
}

// Close releases databases and kills processes started by plugins.
func (c *Catalog) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Catalog) onClose(fn func() error) { c.closers = append(c.closers, fn) }

func buildFilesystem(c *Catalog) (tools.Plugin, error) {
	return filesystem.New(filesystem.Config{
		AllowedDirs: config.ParseList(c.cfg.Get(filesystem.KeyAllowedDirs)),
	})
}

func buildMemory(c *Catalog) (tools.Plugin, error) {
	path := c.cfg.GetOr(memorygraph.KeyDBPath, filepath.Join(c.cfg.DataDir, "memory.db"))
	store, err := storage.New(path)
	if err != nil {
		return tools.Plugin{}, err
	}
	c.onClose(store.Close)
	c.stores[memorygraph.Name] = store.Stats
	return memorygraph.New(store), nil
}

func buildGitHub(c *Catalog) (tools.Plugin, error) {
	return github.New(github.Config{
		Token:   c.cfg.Get(github.TokenKey),
		BaseURL: c.cfg.Get(KeyGitHubURL),
	}), nil
}

func buildCloudflare(c *Catalog) (tools.Plugin, error) {
	return cloudflare.New(cloudflare.Config{
		Token:     c.cfg.Get(cloudflare.TokenKey),
		AccountID: c.cfg.Get(cloudflare.AccountKey),
	}), nil
}

func buildWhatsApp(c *Catalog) (tools.Plugin, error) {
	p, closer := whatsapp.New(whatsapp.Config{
		DBPath:    c.cfg.Get(whatsapp.KeyDBPath),
		BridgeURL: c.cfg.Get(whatsapp.KeyBridgeURL),
	})
	c.onClose(closer)
	return p, nil
}

func buildGoHighLevel(c *Catalog) (tools.Plugin, error) {
	return gohighlevel.New(gohighlevel.Config{
		APIKey:     c.cfg.Get(gohighlevel.KeyAPIKey),
		LocationID: c.cfg.Get(gohighlevel.KeyLocationID),
		BaseURL:    c.cfg.Get(KeyGHLURL),
	}), nil
}

func buildOpenAPI(c *Catalog) (tools.Plugin, error) {
	return openapi.New(openapi.Config{DirectoryURL: c.cfg.Get(openapi.KeyDirectoryURL)}), nil
}

func buildEESystem(c *Catalog) (tools.Plugin, error) {
	return eesystem.New(eesystem.Config{
		OpenAIKey: c.cfg.Get(eesystem.KeyOpenAIKey),
		BaseURL:   c.cfg.Get(eesystem.KeyOpenAIBase),
		Model:     c.cfg.Get(eesystem.KeyModel),
	}), nil
}

func buildProcess(c *Catalog) (tools.Plugin, error) {
	opts := []processtool.Option{processtool.WithLogger(logging.Component(c.log, "process"))}
	if v := c.cfg.Get(process.KeyMaxOutput); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil || n == 0 {
			return tools.Plugin{}, fmt.Errorf("invalid %s %q", process.KeyMaxOutput, v)
		}
		opts = append(opts, processtool.WithMaxOutput(int(n)))
	}
	mgr := processtool.NewManager(opts...)
	c.onClose(mgr.Close)
	return process.New(process.Config{
		AllowedCommands: config.ParseList(c.cfg.Get(process.KeyAllowedCommands)),
	}, mgr), nil
}

func buildHealth(c *Catalog) (tools.Plugin, error) {
	return health.New(health.Config{
		ServerName:    c.cfg.ServerName,
		ServerVersion: c.cfg.ServerVersion,
		Started:       c.started,
		Stores:        c.stores,
		Source: func() health.Source {
			if c.registry == nil {
				return nil
			}
			return c.registry
		},
	}), nil
}
