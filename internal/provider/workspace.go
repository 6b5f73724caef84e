package provider

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxReadBytes     = 1 << 20
	maxSearchResults = 200
)

var ErrOutsideRoot = errors.New("path escapes the workspace root")

type ReadFileArgs struct {
	Path string `json:"path"`
}

type ListDirArgs struct {
	Path string `json:"path,omitempty"`
}

type SearchFilesArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type WriteFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Workspace はルートディレクトリ配下に限定したファイル操作を提供する
type Workspace struct {
	root  string
	cache *ListingCache
}

func NewWorkspace(root string, cache *ListingCache) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs, cache: cache}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// resolve は相対パスをルート配下の絶対パスに変換する
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(w.root, path)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return full, nil
}

func (w *Workspace) ReadFile(args ReadFileArgs) (string, error) {
	if strings.TrimSpace(args.Path) == "" {
		return "", errors.New("path is required")
	}
	full, err := w.resolve(args.Path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n... (truncated)", nil
	}
	return string(data), nil
}

func (w *Workspace) ListDir(args ListDirArgs) ([]string, error) {
	full, err := w.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	key := w.cache.GenerateKey(args)
	if names, ok := w.cache.Get(key); ok {
		return names, nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", displayPath(args.Path), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	w.cache.Set(key, names)
	return names, nil
}

// SearchFiles はファイル名がパターンに一致するパスを返す
// パターンは glob、メタ文字を含まない場合は部分一致として扱う
func (w *Workspace) SearchFiles(args SearchFilesArgs) ([]string, error) {
	pattern := strings.TrimSpace(args.Pattern)
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	base, err := w.resolve(args.Path)
	if err != nil {
		return nil, err
	}
	key := w.cache.GenerateKey(args)
	if found, ok := w.cache.Get(key); ok {
		return found, nil
	}

	glob := strings.ContainsAny(pattern, "*?[")
	var found []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		var hit bool
		if glob {
			hit, _ = filepath.Match(pattern, d.Name())
		} else {
			hit = strings.Contains(strings.ToLower(d.Name()), strings.ToLower(pattern))
		}
		if hit {
			rel, _ := filepath.Rel(w.root, path)
			found = append(found, filepath.ToSlash(rel))
		}
		if len(found) >= maxSearchResults {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", displayPath(args.Path), err)
	}
	sort.Strings(found)
	w.cache.Set(key, found)
	return found, nil
}

func (w *Workspace) WriteFile(args WriteFileArgs) (string, error) {
	if strings.TrimSpace(args.Path) == "" {
		return "", errors.New("path is required")
	}
	full, err := w.resolve(args.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent of %s: %w", args.Path, err)
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", args.Path, err)
	}
	w.cache.Invalidate()
	return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Path), nil
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
