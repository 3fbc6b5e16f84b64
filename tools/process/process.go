// Package process exposes background process management as tools.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/gliderlab/mcpgate/processtool"
	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
)

const (
	Name               = "process"
	KeyAllowedCommands = "PROCESS_ALLOWED_COMMANDS"
	KeyMaxOutput       = "PROCESS_MAX_OUTPUT"
)

type Config struct {
	// AllowedCommands lists executables that may be started: bare names
	// looked up in PATH or exact paths. "*" allows any command; an empty
	// list disables process_start.
	AllowedCommands []string
	Workdir         string
}

type plugin struct {
	cfg Config
	mgr *processtool.Manager
}

func New(cfg Config, mgr *processtool.Manager) tools.Plugin {
	p := &plugin{cfg: cfg, mgr: mgr}
	session := adapter.StringParam("Session ID returned by process_start")

	return adapter.NewSet(Name).
		Add("process_start", "Start a background process, optionally attached to a pseudo-terminal",
			adapter.Object(map[string]interface{}{
				"command": adapter.StringParam("Command line to execute (shell-style quoting, no shell expansion)"),
				"workdir": adapter.StringParam("Working directory"),
				"env":     adapter.ArrayParam("Extra environment entries as KEY=VALUE", map[string]interface{}{"type": "string"}),
				"pty":     adapter.BoolParam("Run inside a pseudo-terminal"),
			}, "command"), p.start).
		Add("process_list", "List tracked processes and their status", nil, p.list).
		Add("process_log", "Read buffered process output",
			adapter.Object(map[string]interface{}{
				"sessionId": session,
				"offset":    adapter.IntParam("Byte offset to start from"),
				"limit":     adapter.IntParam("Maximum number of bytes to return"),
			}, "sessionId"), p.readLog).
		Add("process_write", "Write to a process's stdin",
			adapter.Object(map[string]interface{}{
				"sessionId": session,
				"data":      adapter.StringParam("Data to write"),
				"eof":       adapter.BoolParam("Close stdin after writing"),
			}, "sessionId"), p.write).
		Add("process_kill", "Kill a process and discard its session",
			adapter.Object(map[string]interface{}{"sessionId": session}, "sessionId"), p.kill).
		Plugin()
}

// resolve checks command against the allow-list and returns the argv to run.
// Bare names must be listed and are resolved through PATH; anything with a
// path separator must be listed verbatim.
func (p *plugin) resolve(command string) ([]string, error) {
	if err := adapter.RequireCredential(KeyAllowedCommands, strings.Join(p.cfg.AllowedCommands, ",")); err != nil {
		return nil, err
	}
	argv, err := shlex.Split(command)
	if err != nil || len(argv) == 0 {
		return nil, fmt.Errorf("invalid command %q", command)
	}

	exe := argv[0]
	if !p.listed(exe) {
		return nil, fmt.Errorf("command %q is not in %s", exe, KeyAllowedCommands)
	}
	if !strings.ContainsRune(exe, filepath.Separator) {
		path, err := exec.LookPath(exe)
		if err != nil {
			return nil, fmt.Errorf("command %q not found: %w", exe, err)
		}
		argv[0] = path
	}
	return argv, nil
}

func (p *plugin) listed(exe string) bool {
	for _, a := range p.cfg.AllowedCommands {
		if a == "*" || a == exe {
			return true
		}
	}
	return false
}

func (p *plugin) start(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("command"); err != nil {
		return nil, err
	}
	command := args.String("command")
	argv, err := p.resolve(command)
	if err != nil {
		return nil, err
	}
	return p.mgr.Start(processtool.StartOptions{
		Command: command,
		Argv:    argv,
		Workdir: args.StringOr("workdir", p.cfg.Workdir),
		Env:     args.Strings("env"),
		Pty:     args.Bool("pty"),
	})
}

func (p *plugin) list(context.Context, adapter.Args) (interface{}, error) {
	procs := p.mgr.List()
	return map[string]interface{}{"processes": procs, "count": len(procs)}, nil
}

func (p *plugin) readLog(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("sessionId"); err != nil {
		return nil, err
	}
	return p.mgr.Log(args.String("sessionId"), args.Int("offset"), args.Int("limit"))
}

func (p *plugin) write(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("sessionId"); err != nil {
		return nil, err
	}
	if !args.Has("data") && !args.Bool("eof") {
		return nil, &adapter.MissingArgumentError{Names: []string{"data"}}
	}
	n, err := p.mgr.Write(args.String("sessionId"), args.String("data"), args.Bool("eof"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": args.String("sessionId"), "written": n, "eof": args.Bool("eof")}, nil
}

func (p *plugin) kill(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("sessionId"); err != nil {
		return nil, err
	}
	if err := p.mgr.Kill(args.String("sessionId")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": args.String("sessionId"), "killed": true}, nil
}
