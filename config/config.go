// Package config loads process configuration once at start.
//
// Values are resolved per key from, in order: the process environment, an
// env.config file (KEY=VALUE lines), and an optional config.json. The first
// non-empty source wins; defaults apply last.
package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultServerName    = "mcpgate"
	DefaultServerVersion = "1.0.0"
	DefaultGatewayHost   = "127.0.0.1"
	DefaultGatewayPort   = 55003
	DefaultDataDir       = "./data"
	DefaultEnvFile       = "env.config"
	DefaultJSONFile      = "config.json"
)

// Well-known keys.
const (
	KeyServerName     = "SERVER_NAME"
	KeyServerVersion  = "SERVER_VERSION"
	KeyEnabledPlugins = "ENABLED_PLUGINS"
	KeyStrictPlugins  = "STRICT_PLUGINS"
	KeyCallTimeout    = "TOOL_CALL_TIMEOUT"
	KeyLogLevel       = "LOG_LEVEL"
	KeyGatewayHost    = "GATEWAY_HOST"
	KeyGatewayPort    = "GATEWAY_PORT"
	KeyGatewayToken   = "GATEWAY_TOKEN"
	KeyDataDir        = "DATA_DIR"
)

type Config struct {
	ServerName     string
	ServerVersion  string
	EnabledPlugins []string
	StrictPlugins  bool
	CallTimeout    time.Duration
	LogLevel       string
	GatewayHost    string
	GatewayPort    int
	GatewayToken   string
	DataDir        string

	lookup func(string) string
}

// fileConfig is the optional config.json shape. Env holds arbitrary keys,
// typically plugin credentials.
type fileConfig struct {
	ServerName     string            `json:"serverName"`
	ServerVersion  string            `json:"serverVersion"`
	EnabledPlugins []string          `json:"enabledPlugins"`
	StrictPlugins  bool              `json:"strictPlugins"`
	CallTimeout    string            `json:"toolCallTimeout"`
	LogLevel       string            `json:"logLevel"`
	Gateway        fileGateway       `json:"gateway"`
	DataDir        string            `json:"dataDir"`
	Env            map[string]string `json:"env"`
}

type fileGateway struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

type LoadOptions struct {
	EnvFile  string
	JSONFile string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load resolves the configuration. Missing files are not an error; malformed
// ones are.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile == "" {
		opts.EnvFile = DefaultEnvFile
	}
	if opts.JSONFile == "" {
		opts.JSONFile = DefaultJSONFile
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	envFile := ReadEnvFile(opts.EnvFile)
	fc, err := readJSONFile(opts.JSONFile)
	if err != nil {
		return nil, err
	}

	jsonValues := fc.values()
	lookup := func(key string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		if v := envFile[key]; v != "" {
			return v
		}
		return jsonValues[key]
	}

	cfg := &Config{
		ServerName:     firstNonEmpty(lookup(KeyServerName), DefaultServerName),
		ServerVersion:  firstNonEmpty(lookup(KeyServerVersion), DefaultServerVersion),
		EnabledPlugins: ParseList(lookup(KeyEnabledPlugins)),
		LogLevel:       firstNonEmpty(lookup(KeyLogLevel), "info"),
		GatewayHost:    firstNonEmpty(lookup(KeyGatewayHost), DefaultGatewayHost),
		GatewayToken:   lookup(KeyGatewayToken),
		DataDir:        firstNonEmpty(lookup(KeyDataDir), DefaultDataDir),
		lookup:         lookup,
	}

	if v := lookup(KeyStrictPlugins); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyStrictPlugins, v, err)
		}
		cfg.StrictPlugins = b
	}

	if v := lookup(KeyCallTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyCallTimeout, v, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid %s %q: must not be negative", KeyCallTimeout, v)
		}
		cfg.CallTimeout = d
	}

	cfg.GatewayPort = DefaultGatewayPort
	if v := lookup(KeyGatewayPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid %s %q", KeyGatewayPort, v)
		}
		cfg.GatewayPort = p
	}

	return cfg, nil
}

// Get returns the resolved value for any key, e.g. plugin credentials.
func (c *Config) Get(key string) string {
	if c == nil || c.lookup == nil {
		return ""
	}
	return c.lookup(key)
}

// GetOr returns the resolved value or def when unset.
func (c *Config) GetOr(key, def string) string {
	return firstNonEmpty(c.Get(key), def)
}

// WithOverrides returns a copy whose lookups consult overrides first.
func (c *Config) WithOverrides(overrides map[string]string) *Config {
	cp := *c
	base := c.lookup
	cp.lookup = func(key string) string {
		if v, ok := overrides[key]; ok && v != "" {
			return v
		}
		if base == nil {
			return ""
		}
		return base(key)
	}
	if v, ok := overrides[KeyEnabledPlugins]; ok {
		cp.EnabledPlugins = ParseList(v)
	}
	return &cp
}

// ParseList splits a comma-separated list, trimming entries and dropping empties.
func ParseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReadEnvFile reads KEY=VALUE lines. Blank lines and # comments are skipped.
// A missing file yields an empty map.
func ReadEnvFile(path string) map[string]string {
	values := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return values
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[strings.TrimSpace(parts[0])] = strings.Trim(strings.TrimSpace(parts[1]), `"`)
	}
	return values
}

// WriteEnvFile merges updates into the env file, keeping keys sorted.
func WriteEnvFile(path string, updates map[string]string) error {
	values := ReadEnvFile(path)
	for k, v := range updates {
		values[k] = v
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0600)
}

func readJSONFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, nil
}

// values flattens the typed fields into the same key space as the env sources.
func (fc *fileConfig) values() map[string]string {
	v := make(map[string]string, len(fc.Env)+10)
	for k, val := range fc.Env {
		v[k] = val
	}
	set := func(k, val string) {
		if val != "" {
			v[k] = val
		}
	}
	set(KeyServerName, fc.ServerName)
	set(KeyServerVersion, fc.ServerVersion)
	set(KeyEnabledPlugins, strings.Join(fc.EnabledPlugins, ","))
	if fc.StrictPlugins {
		set(KeyStrictPlugins, "true")
	}
	set(KeyCallTimeout, fc.CallTimeout)
	set(KeyLogLevel, fc.LogLevel)
	set(KeyGatewayHost, fc.Gateway.Host)
	if fc.Gateway.Port > 0 {
		set(KeyGatewayPort, strconv.Itoa(fc.Gateway.Port))
	}
	set(KeyGatewayToken, fc.Gateway.Token)
	set(KeyDataDir, fc.DataDir)
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
