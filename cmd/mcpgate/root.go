package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gliderlab/mcpgate/config"
	"github.com/gliderlab/mcpgate/gateway"
	"github.com/gliderlab/mcpgate/logging"
	"github.com/gliderlab/mcpgate/tools/catalog"
)

var Version = "dev" // Overridden by ldflags

type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mcpgate",
		Short: "Plugin-aggregating MCP tool gateway",
		Long: `mcpgate aggregates independent tool plugins (filesystem, memory graph,
GitHub, Cloudflare, WhatsApp, GoHighLevel, OpenAPI directory, evolutionary
search, process control) behind one MCP server.

Enable a subset with ENABLED_PLUGINS or --enable; everything is enabled
when neither is set.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serveStdio(cmd.Context())
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nGo version: %s\nPlatform: %s/%s\n",
		goVersion(), runtime.GOOS, runtime.GOARCH))

	flags := root.PersistentFlags()
	flags.String("config", config.DefaultJSONFile, "Path to config.json")
	flags.String("env-file", config.DefaultEnvFile, "Path to the KEY=VALUE env file")
	flags.String("enable", "", "Comma-separated plugin names (overrides ENABLED_PLUGINS)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve MCP over stdio (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.serveStdio(cmd.Context())
			},
		},
		a.httpCommand(),
		a.toolsCommand(),
		a.pluginsCommand(),
		a.configCommand(),
	)
	return root
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

func (a *app) load(cmd *cobra.Command) error {
	jsonFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile, JSONFile: jsonFile})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	overrides := map[string]string{}
	if cmd.Flags().Changed("enable") {
		v, _ := cmd.Flags().GetString("enable")
		overrides[config.KeyEnabledPlugins] = v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		overrides[config.KeyLogLevel] = v
		cfg.LogLevel = v
	}
	if len(overrides) > 0 {
		cfg = cfg.WithOverrides(overrides)
	}

	a.cfg = cfg
	a.log = logging.New(cfg.LogLevel)
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) buildCatalog() (*catalog.Catalog, error) {
	c, err := catalog.Build(a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to build plugin registry: %w", err)
	}
	return c, nil
}

func (a *app) serveStdio(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	c, err := a.buildCatalog()
	if err != nil {
		return err
	}
	defer c.Close()

	srv, err := gateway.NewStdioServer(a.cfg.ServerName, a.cfg.ServerVersion, c.Registry(), c.Router(),
		logging.Component(a.log, "stdio"))
	if err != nil {
		return err
	}
	a.log.Info().
		Str("server", a.cfg.ServerName).
		Str("version", a.cfg.ServerVersion).
		Strs("plugins", c.Registry().PluginNames()).
		Int("tools", len(c.Registry().Tools())).
		Msg("serving MCP on stdio")

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *app) httpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the HTTP and WebSocket gateway",
		Example: `  # Loopback only, no token required
  mcpgate http

  # Public bind requires GATEWAY_TOKEN
  GATEWAY_TOKEN=secret mcpgate http --host 0.0.0.0 --port 8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			if !cmd.Flags().Changed("host") {
				host = a.cfg.GatewayHost
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.GatewayPort
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := a.buildCatalog()
			if err != nil {
				return err
			}
			defer c.Close()

			g := gateway.New(gateway.Config{Host: host, Port: port, Token: a.cfg.GatewayToken},
				c.Registry(), c.Router(), logging.Component(a.log, "gateway"))
			return g.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("host", config.DefaultGatewayHost, "Bind host (GATEWAY_HOST)")
	cmd.Flags().Int("port", config.DefaultGatewayPort, "Bind port (GATEWAY_PORT)")
	return cmd
}

func (a *app) toolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the operations exposed by enabled plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plugin, _ := cmd.Flags().GetString("plugin")
			c, err := a.buildCatalog()
			if err != nil {
				return err
			}
			defer c.Close()
			return renderTools(cmd.OutOrStdout(), c.Registry(), plugin)
		},
	}
	cmd.Flags().String("plugin", "", "Only list tools of this plugin")
	return cmd
}

func (a *app) pluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List catalog plugins and whether they are enabled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderPlugins(cmd.OutOrStdout(), catalog.Entries(), a.cfg.EnabledPlugins)
		},
	}
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or persist configuration values",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "set KEY=VALUE...",
			Short:   "Write values to the env file",
			Example: "  mcpgate config set GITHUB_PERSONAL_ACCESS_TOKEN=ghp_xxx ENABLED_PLUGINS=github,memory",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				updates := make(map[string]string, len(args))
				for _, arg := range args {
					k, v, ok := strings.Cut(arg, "=")
					if !ok || strings.TrimSpace(k) == "" {
						return fmt.Errorf("expected KEY=VALUE, got %q", arg)
					}
					updates[strings.TrimSpace(k)] = v
				}
				envFile, _ := cmd.Flags().GetString("env-file")
				if err := config.WriteEnvFile(envFile, updates); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d key(s) in %s\n", len(updates), envFile)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print the resolved value of a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.cfg.Get(args[0]))
				return nil
			},
		},
	)
	return cmd
}
