package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/agentrouter/internal/helpers"
	"github.com/mohammad-safakhou/agentrouter/internal/taskgraph"
	"github.com/mohammad-safakhou/agentrouter/provider"
	"github.com/spf13/afero"
)

const fileActionPrompt = `You are a File System Agent with the following tools:
- read: Read file contents from a path
- write: Write content to a file
- list: List files in a directory

Pick exactly one tool for the request below and answer with JSON only:
{"tool": "read" | "write" | "list", "path": "<relative path>", "content": "<text to write, only for write>"}

Request:
%s`

// FileAction is a single file system operation.
type FileAction struct {
	Tool    string `json:"tool"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// File performs read, write and list operations inside a sandboxed root.
type File struct {
	fs   afero.Fs
	root string
	gen  provider.Generator
}

// NewFile returns a file worker rooted at root on the host file system.
func NewFile(root string, gen provider.Generator) *File {
	return NewFileWithFs(afero.NewBasePathFs(afero.NewOsFs(), root), root, gen)
}

// NewFileWithFs uses fs as the sandbox. root is only used in messages.
func NewFileWithFs(fs afero.Fs, root string, gen provider.Generator) *File {
	if root == "" {
		root = "/"
	}
	return &File{fs: fs, root: root, gen: gen}
}

func (f *File) Kind() taskgraph.WorkerKind { return taskgraph.File }

func (f *File) Description() string {
	return "Can read, write, list, and organize files on the system (cannot move/copy files, create directories, search file contents)"
}

func (f *File) Execute(ctx context.Context, instruction string) (string, error) {
	action, err := f.plan(ctx, instruction)
	if err != nil {
		return "", err
	}
	return f.Apply(action)
}

// Apply runs a single action.
func (f *File) Apply(a FileAction) (string, error) {
	switch strings.ToLower(strings.TrimSpace(a.Tool)) {
	case "read":
		return f.Read(a.Path)
	case "write":
		return f.Write(a.Path, a.Content)
	case "list":
		return f.List(a.Path)
	default:
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("unsupported file tool %q", a.Tool))
	}
}

func (f *File) plan(ctx context.Context, instruction string) (FileAction, error) {
	if f.gen != nil {
		out, err := f.gen.Generate(ctx, fmt.Sprintf(fileActionPrompt, instruction))
		if err != nil {
			return FileAction{}, ExecutionFailed(taskgraph.File, err)
		}
		if obj, ok := helpers.ExtractJSONObject(out); ok {
			var a FileAction
			if err := json.Unmarshal([]byte(obj), &a); err == nil && a.Tool != "" {
				return a, nil
			}
		}
	}
	if a, ok := HeuristicFileAction(instruction); ok {
		return a, nil
	}
	return FileAction{}, ExecutionFailed(taskgraph.File, errors.New("could not determine which file operation to perform"))
}

var pathToken = regexp.MustCompile(`[\w~./-]+\.[A-Za-z0-9]+`)

// HeuristicFileAction interprets instructions without a model. "path|content"
// writes, "list" lists, and a file-looking token with "read" reads.
func HeuristicFileAction(instruction string) (FileAction, bool) {
	text := strings.TrimSpace(lastLine(instruction))
	if i := strings.Index(text, "|"); i > 0 {
		return FileAction{Tool: "write", Path: strings.TrimSpace(text[:i]), Content: text[i+1:]}, true
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "list") {
		dir := "."
		if fields := strings.Fields(text); len(fields) > 1 {
			last := strings.Trim(fields[len(fields)-1], `"'.`)
			if strings.Contains(last, "/") || last == "." {
				dir = last
			}
		}
		return FileAction{Tool: "list", Path: dir}, true
	}
	if p := pathToken.FindString(text); p != "" {
		return FileAction{Tool: "read", Path: strings.Trim(p, `"'`)}, true
	}
	return FileAction{}, false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (f *File) clean(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "~")
	if p == "" {
		p = "."
	}
	return path.Clean("/" + p)
}

func (f *File) display(p string) string {
	return path.Join(f.root, p)
}

// Read returns the contents of p.
func (f *File) Read(p string) (string, error) {
	clean := f.clean(p)
	data, err := afero.ReadFile(f.fs, clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ExecutionFailed(taskgraph.File, fmt.Errorf("file not found at %s", f.display(clean)))
		}
		if errors.Is(err, os.ErrPermission) {
			return "", ExecutionFailed(taskgraph.File, fmt.Errorf("permission denied to read %s", f.display(clean)))
		}
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("error reading file: %w", err))
	}
	return fmt.Sprintf("Contents of %s:\n\n%s", f.display(clean), data), nil
}

// Write replaces the contents of p, creating parent directories.
func (f *File) Write(p, content string) (string, error) {
	clean := f.clean(p)
	if clean == "/" {
		return "", ExecutionFailed(taskgraph.File, errors.New("please use format 'filename|content'"))
	}
	if dir := path.Dir(clean); dir != "/" {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return "", ExecutionFailed(taskgraph.File, fmt.Errorf("error writing file: %w", err))
		}
	}
	if err := afero.WriteFile(f.fs, clean, []byte(content), 0o644); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", ExecutionFailed(taskgraph.File, fmt.Errorf("permission denied to write to %s", f.display(clean)))
		}
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("error writing file: %w", err))
	}
	return fmt.Sprintf("Successfully wrote %d characters to %s", utf8.RuneCountInString(content), f.display(clean)), nil
}

// List describes the entries of directory p.
func (f *File) List(p string) (string, error) {
	clean := f.clean(p)
	info, err := f.fs.Stat(clean)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ExecutionFailed(taskgraph.File, fmt.Errorf("directory not found at %s", f.display(clean)))
		}
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("error listing directory: %w", err))
	}
	if !info.IsDir() {
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("%s is not a directory", f.display(clean)))
	}
	entries, err := afero.ReadDir(f.fs, clean)
	if err != nil {
		return "", ExecutionFailed(taskgraph.File, fmt.Errorf("error listing directory: %w", err))
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", f.display(clean)), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, "[DIR]  "+e.Name())
		} else {
			lines = append(lines, fmt.Sprintf("[FILE] %s (%d bytes)", e.Name(), e.Size()))
		}
	}
	return fmt.Sprintf("Contents of %s:\n%s", f.display(clean), strings.Join(lines, "\n")), nil
}
