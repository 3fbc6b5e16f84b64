package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/mcpgate/config"
	"github.com/gliderlab/mcpgate/tools/health"
	"github.com/gliderlab/mcpgate/tools/process"
)

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	base := map[string]string{
		config.KeyDataDir:         dir,
		"FILESYSTEM_ALLOWED_DIRS": dir,
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.Load(config.LoadOptions{
		EnvFile:  filepath.Join(dir, "env.config"),
		JSONFile: filepath.Join(dir, "config.json"),
		Getenv:   func(k string) string { return base[k] },
	})
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, env map[string]string) *Catalog {
	t.Helper()
	c, err := Build(loadConfig(t, env), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEntriesHaveUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range Entries() {
		assert.False(t, seen[e.Name], "duplicate entry %s", e.Name)
		seen[e.Name] = true
		assert.NotEmpty(t, e.Description)
	}
}

func TestBuildAllHasNoConflicts(t *testing.T) {
	c := build(t, nil)
	reg := c.Registry()

	names := make([]string, 0, len(Entries()))
	for _, e := range Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, names, reg.PluginNames())
	assert.Empty(t, reg.Conflicts())
	assert.Empty(t, reg.UnknownEnabled())
}

func TestToolSchemasCompile(t *testing.T) {
	c := build(t, nil)
	for _, tool := range c.Registry().Tools() {
		t.Run(tool.Name, func(t *testing.T) {
			assert.NotEmpty(t, tool.Description)
			require.NotNil(t, tool.InputSchema)
			assert.Equal(t, "object", tool.InputSchema["type"])

			raw, err := json.Marshal(tool.InputSchema)
			require.NoError(t, err)
			url := "mem://" + tool.Name + ".json"
			compiler := jsonschema.NewCompiler()
			require.NoError(t, compiler.AddResource(url, bytes.NewReader(raw)))
			_, err = compiler.Compile(url)
			assert.NoError(t, err)
		})
	}
}

func TestBuildOnlyEnabled(t *testing.T) {
	c := build(t, map[string]string{config.KeyEnabledPlugins: "serverHealth,github,bogus"})
	reg := c.Registry()
	assert.Equal(t, []string{"github", "serverHealth"}, reg.PluginNames())
	assert.Equal(t, []string{"bogus"}, reg.UnknownEnabled())
}

func TestStrictRejectsUnknown(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		config.KeyEnabledPlugins: "github,bogus",
		config.KeyStrictPlugins:  "true",
	})
	_, err := Build(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "bogus")
}

func TestHealthSeesRegistry(t *testing.T) {
	c := build(t, map[string]string{config.KeyEnabledPlugins: "serverHealth,memory"})

	resp := c.Router().Call(context.Background(), "server_health", map[string]interface{}{})
	require.False(t, resp.IsError, resp.Text())

	var report health.Report
	require.NoError(t, json.Unmarshal([]byte(resp.Text()), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, []string{"memory", "serverHealth"}, report.Plugins)
	assert.Equal(t, len(c.Registry().Tools()), report.ToolCount)
	assert.Equal(t, map[string]int{"entities": 0, "observations": 0, "relations": 0}, report.Storage["memory"])
}

func TestMissingCredentialsAreToolErrors(t *testing.T) {
	c := build(t, map[string]string{config.KeyEnabledPlugins: "github"})

	resp := c.Router().Call(context.Background(), "create_issue", map[string]interface{}{"owner": "o", "repo": "r", "title": "t"})
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Text(), "GITHUB_PERSONAL_ACCESS_TOKEN is not configured")
}

func TestMemoryDefaultsToDataDir(t *testing.T) {
	cfg := loadConfig(t, map[string]string{config.KeyEnabledPlugins: "memory"})
	c, err := Build(cfg, zerolog.Nop())
	require.NoError(t, err)

	resp := c.Router().Call(context.Background(), "create_entities", map[string]interface{}{
		"entities": []interface{}{map[string]interface{}{"name": "gateway", "entityType": "service", "observations": []interface{}{"runs"}}},
	})
	require.False(t, resp.IsError, resp.Text())
	require.NoError(t, c.Close())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "memory.db"))
}

func TestProcessMaxOutput(t *testing.T) {
	env := map[string]string{config.KeyEnabledPlugins: "process", process.KeyMaxOutput: "64KB"}
	c := build(t, env)
	assert.Equal(t, []string{"process"}, c.Registry().PluginNames())

	env[process.KeyMaxOutput] = "lots"
	_, err := Build(loadConfig(t, env), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), process.KeyMaxOutput)
}
