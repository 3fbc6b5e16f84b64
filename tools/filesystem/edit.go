package filesystem

import (
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Edit replaces the first occurrence of OldText with NewText.
type Edit struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

type EditError struct {
	Message string
}

func (e *EditError) Error() string {
	return e.Message
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// applyEdits runs edits in order against content. An edit that has no exact
// match is retried line by line ignoring surrounding whitespace, and the
// replacement takes the indentation of the first matched line.
func applyEdits(content string, edits []Edit) (string, error) {
	out := normalizeLineEndings(content)
	for i, e := range edits {
		oldText := normalizeLineEndings(e.OldText)
		newText := normalizeLineEndings(e.NewText)
		if oldText == "" {
			return "", &EditError{Message: fmt.Sprintf("edit %d: oldText is required", i)}
		}
		if strings.Contains(out, oldText) {
			out = strings.Replace(out, oldText, newText, 1)
			continue
		}
		replaced, ok := replaceLoose(out, oldText, newText)
		if !ok {
			return "", &EditError{Message: "could not find exact match for edit:\n" + e.OldText}
		}
		out = replaced
	}
	return out, nil
}

func replaceLoose(content, oldText, newText string) (string, bool) {
	lines := strings.Split(content, "\n")
	oldLines := strings.Split(oldText, "\n")
	for i := 0; i+len(oldLines) <= len(lines); i++ {
		match := true
		for j, ol := range oldLines {
			if strings.TrimSpace(lines[i+j]) != strings.TrimSpace(ol) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		first := lines[i]
		indent := first[:len(first)-len(strings.TrimLeft(first, " \t"))]
		newLines := strings.Split(newText, "\n")
		for k, nl := range newLines {
			newLines[k] = indent + strings.TrimLeft(nl, " \t")
		}
		out := append([]string{}, lines[:i]...)
		out = append(out, newLines...)
		out = append(out, lines[i+len(oldLines):]...)
		return strings.Join(out, "\n"), true
	}
	return "", false
}

func unifiedDiff(path, before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: path + " (original)",
		ToFile:   path + " (modified)",
		Context:  3,
	})
	if err != nil {
		return err.Error()
	}
	return diff
}

// editFile applies edits to path and returns a fenced diff of the change.
// With dryRun the file is left untouched.
func editFile(path string, edits []Edit, dryRun bool) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &EditError{Message: "file not found: " + path}
		}
		return "", &EditError{Message: "cannot access file: " + err.Error()}
	}
	if info.IsDir() {
		return "", &EditError{Message: "path is a directory"}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", &EditError{Message: "read failed: " + err.Error()}
	}

	original := normalizeLineEndings(string(content))
	modified, err := applyEdits(original, edits)
	if err != nil {
		return "", err
	}
	if !dryRun {
		if err := os.WriteFile(path, []byte(modified), info.Mode().Perm()); err != nil {
			return "", &EditError{Message: "write failed: " + err.Error()}
		}
	}

	diff := unifiedDiff(path, original, modified)
	fence := "```"
	for strings.Contains(diff, fence) {
		fence += "`"
	}
	return fmt.Sprintf("%sdiff\n%s%s\n", fence, diff, fence), nil
}
