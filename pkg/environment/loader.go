package environment

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/kristofer/mjcore/pkg/errkind"
)

// TemplateLoader is the external collaborator consulted on a registry
// miss. Load returns the raw template source for name, or
// an error the Environment wraps as TemplateNotFound.
type TemplateLoader interface {
	Load(name string) (string, error)
}

// FileSystemLoader loads templates from a directory on disk, joining
// the requested name onto a fixed root (grounded on the retrieved
// gojinja runtime's FileSystemLoader).
type FileSystemLoader struct {
	root string
}

// NewFileSystemLoader returns a loader rooted at root.
func NewFileSystemLoader(root string) *FileSystemLoader {
	return &FileSystemLoader{root: root}
}

func (l *FileSystemLoader) Load(name string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(name))
	data, err := os.ReadFile(full)
	if err != nil {
		return "", errors.Wrapf(err, "reading template %q", name)
	}
	return string(data), nil
}

// MapLoader loads templates from an in-memory name→source map, useful
// for tests and embedding template sources directly in Go code.
type MapLoader struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapLoader returns a loader backed by templates (copied, not
// retained).
func NewMapLoader(templates map[string]string) *MapLoader {
	cp := make(map[string]string, len(templates))
	for k, v := range templates {
		cp[k] = v
	}
	return &MapLoader{templates: cp}
}

func (l *MapLoader) Load(name string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src, ok := l.templates[name]
	if !ok {
		return "", errkind.New(errkind.TemplateNotFound, name)
	}
	return src, nil
}

// Set adds or replaces a template source in the map loader.
func (l *MapLoader) Set(name, src string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[name] = src
}
