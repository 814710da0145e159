// Package assets serves the static pages of the unified listener.
package assets

import (
	"embed"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Page names used by the router.
const (
	PageIndex       = "index.html"
	PageNoDevice    = "no_device.html"
	PageMacroEditor = "macro_editor.html"
	PageWebRTC      = "webrtc.html"
)

//go:embed static
var static embed.FS

// Provider returns named static resources.
type Provider interface {
	// Open returns the resource content or an error wrapping ErrNotFound.
	Open(name string) ([]byte, error)
}

// FSProvider serves resources from an fs.FS.
type FSProvider struct {
	fsys fs.FS
}

// NewFSProvider wraps fsys.
func NewFSProvider(fsys fs.FS) *FSProvider {
	return &FSProvider{fsys: fsys}
}

// Embedded returns the provider for the built-in pages.
func Embedded() *FSProvider {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return NewFSProvider(sub)
}

// Open implements Provider.
func (p *FSProvider) Open(name string) ([]byte, error) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" || !fs.ValidPath(name) {
		return nil, ErrNotFound
	}
	b, err := fs.ReadFile(p.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Overlay serves files from a directory and falls back to another provider
// for names the directory does not contain.
type Overlay struct {
	dir      *FSProvider
	fallback Provider
}

// NewOverlay creates an Overlay on dir. If dir is empty the fallback is
// used directly.
func NewOverlay(dir string, fallback Provider) (Provider, error) {
	if dir == "" {
		return fallback, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: dir, Err: errors.New("not a directory")}
	}
	return &Overlay{dir: NewFSProvider(os.DirFS(filepath.Clean(dir))), fallback: fallback}, nil
}

// Open implements Provider.
func (o *Overlay) Open(name string) ([]byte, error) {
	b, err := o.dir.Open(name)
	if errors.Is(err, ErrNotFound) {
		return o.fallback.Open(name)
	}
	return b, err
}

// ContentType returns the MIME type for a resource name.
func ContentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
