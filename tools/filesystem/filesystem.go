// Package filesystem provides file and directory tools confined to a set of
// allowed directories.
package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
)

const (
	Name           = "filesystem"
	KeyAllowedDirs = "FILESYSTEM_ALLOWED_DIRS"

	maxReadBytes = 1 << 20
)

type Config struct {
	// AllowedDirs defaults to the working directory.
	AllowedDirs []string
}

type plugin struct {
	box *sandbox
}

func New(cfg Config) (tools.Plugin, error) {
	box, err := newSandbox(cfg.AllowedDirs)
	if err != nil {
		return tools.Plugin{}, err
	}
	p := &plugin{box: box}

	path := adapter.Object(map[string]interface{}{"path": adapter.StringParam("Path to operate on")}, "path")
	str := map[string]interface{}{"type": "string"}

	return adapter.NewSet(Name).
		Add("read_file", "Read the complete contents of a file. Use head or tail to read only the first or last N lines.",
			adapter.Object(map[string]interface{}{
				"path": adapter.StringParam("File to read"),
				"head": adapter.IntParam("If provided, returns only the first N lines of the file"),
				"tail": adapter.IntParam("If provided, returns only the last N lines of the file"),
			}, "path"), p.readFile).
		Add("read_multiple_files", "Read the contents of multiple files. Failed reads are reported inline and do not stop the others.",
			adapter.Object(map[string]interface{}{"paths": adapter.ArrayParam("Files to read", str)}, "paths"),
			p.readMultiple).
		Add("write_file", "Create a new file or completely overwrite an existing file with new content.",
			adapter.Object(map[string]interface{}{
				"path":    adapter.StringParam("File to write"),
				"content": adapter.StringParam("File content"),
			}, "path", "content"), p.writeFile).
		Add("edit_file", "Make line-based edits to a text file. Each edit replaces the first match of oldText. Returns a git-style diff.",
			adapter.Object(map[string]interface{}{
				"path": adapter.StringParam("File to edit"),
				"edits": adapter.ArrayParam("Edits applied in order", adapter.Object(map[string]interface{}{
					"oldText": adapter.StringParam("Text to search for"),
					"newText": adapter.StringParam("Text to replace with"),
				}, "oldText", "newText")),
				"dryRun": adapter.BoolParam("Preview changes as a diff without writing"),
			}, "path", "edits"), p.editFile).
		Add("create_directory", "Create a new directory, including parents. Succeeds silently if it already exists.", path, p.createDirectory).
		Add("list_directory", "Get a listing of all files and directories in a path, marked [FILE] or [DIR].", path, p.listDirectory).
		Add("list_directory_with_sizes", "Get a listing of all files and directories in a path with sizes.",
			adapter.Object(map[string]interface{}{
				"path":   adapter.StringParam("Directory to list"),
				"sortBy": adapter.EnumParam("Sort entries by name or size (default name)", "name", "size"),
			}, "path"), p.listWithSizes).
		Add("directory_tree", "Get a recursive tree view of files and directories as JSON.",
			adapter.Object(map[string]interface{}{
				"path":            adapter.StringParam("Root directory"),
				"excludePatterns": adapter.ArrayParam("gitignore-style patterns to skip", str),
			}, "path"), p.directoryTree).
		Add("move_file", "Move or rename files and directories. Fails if the destination exists.",
			adapter.Object(map[string]interface{}{
				"source":      adapter.StringParam("Path to move"),
				"destination": adapter.StringParam("New path"),
			}, "source", "destination"), p.moveFile).
		Add("search_files", "Recursively search for files and directories whose name matches a pattern (substring, case-insensitive, or a glob).",
			adapter.Object(map[string]interface{}{
				"path":            adapter.StringParam("Directory to search from"),
				"pattern":         adapter.StringParam("Name substring or glob"),
				"excludePatterns": adapter.ArrayParam("gitignore-style patterns to skip", str),
			}, "path", "pattern"), p.searchFiles).
		Add("get_file_info", "Retrieve metadata about a file or directory.", path, p.fileInfo).
		Add("list_allowed_directories", "List the directories this server is allowed to access.", nil, p.listAllowed).
		Plugin(), nil
}

func (p *plugin) path(args adapter.Args, key string) (string, error) {
	if err := args.Require(key); err != nil {
		return "", err
	}
	return p.box.resolve(args.String(key))
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0
}

func (p *plugin) readFile(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	head, tail := args.Int("head"), args.Int("tail")
	if head > 0 && tail > 0 {
		return nil, errors.New("cannot specify both head and tail")
	}
	return readText(path, head, tail)
}

// readText reads at most maxReadBytes. With tail set on a larger file the
// read starts that far from the end instead.
func readText(path string, head, tail int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	fromEnd := tail > 0 && info.Size() > maxReadBytes
	if fromEnd {
		if _, err := f.Seek(-maxReadBytes, io.SeekEnd); err != nil {
			return "", err
		}
	}
	content, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", err
	}
	if isBinary(content) {
		return fmt.Sprintf("[binary file %s]", humanize.Bytes(uint64(info.Size()))), nil
	}

	truncated := fromEnd || len(content) > maxReadBytes
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes]
	}
	text := string(content)
	if fromEnd {
		// The first line is likely partial.
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}

	if head > 0 || tail > 0 {
		lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
		if head > 0 && head < len(lines) {
			lines = lines[:head]
			truncated = false
		}
		if tail > 0 && tail < len(lines) {
			lines = lines[len(lines)-tail:]
			truncated = false
		}
		text = strings.Join(lines, "\n")
	}
	if truncated {
		text += "...\n(content truncated)"
	}
	return text, nil
}

func (p *plugin) readMultiple(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("paths"); err != nil {
		return nil, err
	}
	var parts []string
	for _, raw := range args.Strings("paths") {
		text, err := func() (string, error) {
			path, err := p.box.resolve(raw)
			if err != nil {
				return "", err
			}
			return readText(path, 0, 0)
		}()
		if err != nil {
			parts = append(parts, fmt.Sprintf("%s: Error - %v", raw, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s\n", raw, text))
	}
	return strings.Join(parts, "\n---\n"), nil
}

func (p *plugin) writeFile(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	if !args.Has("content") {
		return nil, &adapter.MissingArgumentError{Names: []string{"content"}}
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%s is a directory; cannot overwrite with a file", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(args.String("content")), 0644); err != nil {
		return nil, err
	}
	return "Successfully wrote to " + args.String("path"), nil
}

func (p *plugin) editFile(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	var in struct {
		Edits []Edit `json:"edits"`
	}
	if err := args.Require("edits"); err != nil {
		return nil, err
	}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	return editFile(path, in.Edits, args.Bool("dryRun"))
}

func (p *plugin) createDirectory(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return "Successfully created directory " + args.String("path"), nil
}

func (p *plugin) listDirectory(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "[FILE]"
		if e.IsDir() {
			kind = "[DIR]"
		}
		fmt.Fprintf(&b, "%s %s\n", kind, e.Name())
	}
	return b.String(), nil
}

func (p *plugin) listWithSizes(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	type row struct {
		name string
		dir  bool
		size int64
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		r := row{name: e.Name(), dir: e.IsDir()}
		if !r.dir {
			r.size = info.Size()
		}
		rows = append(rows, r)
	}
	if args.StringOr("sortBy", "name") == "size" {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].size > rows[j].size })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	}

	var (
		b            strings.Builder
		files, dirs  int
		combinedSize int64
	)
	for _, r := range rows {
		if r.dir {
			dirs++
			fmt.Fprintf(&b, "[DIR]  %s\n", r.name)
			continue
		}
		files++
		combinedSize += r.size
		fmt.Fprintf(&b, "[FILE] %-30s %10s\n", r.name, humanize.Bytes(uint64(r.size)))
	}
	fmt.Fprintf(&b, "\nTotal: %d files, %d directories\nCombined size: %s\n", files, dirs, humanize.Bytes(uint64(combinedSize)))
	return b.String(), nil
}

type treeEntry struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Children *[]treeEntry `json:"children,omitempty"`
}

func (p *plugin) directoryTree(_ context.Context, args adapter.Args) (interface{}, error) {
	root, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	excluded := ignore.CompileIgnoreLines(args.Strings("excludePatterns")...)

	var build func(dir string) ([]treeEntry, error)
	build = func(dir string) ([]treeEntry, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		out := []treeEntry{}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			rel, _ := filepath.Rel(root, full)
			if excluded.MatchesPath(rel) {
				continue
			}
			if !e.IsDir() {
				out = append(out, treeEntry{Name: e.Name(), Type: "file"})
				continue
			}
			children, err := build(full)
			if err != nil {
				return nil, err
			}
			out = append(out, treeEntry{Name: e.Name(), Type: "directory", Children: &children})
		}
		return out, nil
	}

	tree, err := build(root)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func (p *plugin) moveFile(_ context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("source", "destination"); err != nil {
		return nil, err
	}
	src, err := p.box.resolve(args.String("source"))
	if err != nil {
		return nil, err
	}
	dst, err := p.box.resolve(args.String("destination"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(dst); err == nil {
		return nil, fmt.Errorf("destination already exists: %s", args.String("destination"))
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully moved %s to %s", args.String("source"), args.String("destination")), nil
}

func (p *plugin) searchFiles(ctx context.Context, args adapter.Args) (interface{}, error) {
	root, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	if err := args.Require("pattern"); err != nil {
		return nil, err
	}
	pattern := strings.ToLower(args.String("pattern"))
	glob := strings.ContainsAny(pattern, "*?[")
	excluded := ignore.CompileIgnoreLines(args.Strings("excludePatterns")...)

	var found []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing the search.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if excluded.MatchesPath(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := strings.ToLower(d.Name())
		matched := strings.Contains(name, pattern)
		if glob {
			matched, _ = filepath.Match(pattern, name)
		}
		if matched {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return "No matches found", nil
	}
	return strings.Join(found, "\n"), nil
}

func (p *plugin) fileInfo(_ context.Context, args adapter.Args) (interface{}, error) {
	path, err := p.path(args, "path")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("size: %d\nmodified: %s\nisDirectory: %t\nisFile: %t\npermissions: %o\n",
		info.Size(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		info.IsDir(), info.Mode().IsRegular(), info.Mode().Perm()), nil
}

func (p *plugin) listAllowed(context.Context, adapter.Args) (interface{}, error) {
	return "Allowed directories:\n" + strings.Join(p.box.allowed, "\n"), nil
}
