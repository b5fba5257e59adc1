package fileprod

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FSProducer serves files from a webroot directory. Only paths fully matching
// a whitelisted prefix pattern are looked up; everything else is passed over.
type FSProducer struct {
	root      string
	whitelist []*regexp.Regexp
}

// NewFSProducer creates a producer rooted at the given directory.
func NewFSProducer(root string) *FSProducer {
	return &FSProducer{root: root}
}

// Whitelist adds a pattern of paths this producer is allowed to serve.
func (p *FSProducer) Whitelist(pattern string) {
	p.whitelist = append(p.whitelist, anchored(regexp.MustCompile(pattern)))
}

// Produce reads the file behind the URL path if it is whitelisted.
func (p *FSProducer) Produce(urlPath string) (*Blob, error) {
	if !p.allowed(urlPath) {
		return nil, nil
	}

	// Normalize and refuse anything that escapes the webroot.
	clean := path.Clean("/" + urlPath)
	if strings.Contains(clean, "..") {
		return nil, nil
	}

	full := filepath.Join(p.root, filepath.FromSlash(clean))
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, nil
	}
	if err != nil {
		// A directory read also lands here on some platforms.
		if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
			return nil, nil
		}
		return nil, err
	}

	return &Blob{Path: urlPath, Data: data, Generated: time.Now()}, nil
}

func (p *FSProducer) allowed(urlPath string) bool {
	for _, re := range p.whitelist {
		if re.MatchString(urlPath) {
			return true
		}
	}
	return false
}

// ResourceProducer serves files embedded in the binary. It backs the same
// paths as the filesystem producer and is consulted after it, so a webroot
// file always wins over the embedded fallback.
type ResourceProducer struct {
	fsys fs.FS
}

// NewResourceProducer wraps an fs.FS (typically an embed.FS).
func NewResourceProducer(fsys fs.FS) *ResourceProducer {
	return &ResourceProducer{fsys: fsys}
}

// Produce looks the path up in the embedded filesystem.
func (p *ResourceProducer) Produce(urlPath string) (*Blob, error) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || strings.Contains(name, "..") {
		return nil, nil
	}
	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return nil, nil
	}
	return &Blob{Path: urlPath, Data: data, Generated: time.Now()}, nil
}

// StringProducer serves statically registered path -> content pairs, such as
// the generated /static/version.js.
type StringProducer struct {
	files map[string]string
}

// NewStringProducer returns an empty producer.
func NewStringProducer() *StringProducer {
	return &StringProducer{files: make(map[string]string)}
}

// Put registers content for a path, replacing any previous registration.
func (p *StringProducer) Put(path, content string) {
	p.files[path] = content
}

// Produce returns the registered content, if any.
func (p *StringProducer) Produce(urlPath string) (*Blob, error) {
	content, ok := p.files[urlPath]
	if !ok {
		return nil, nil
	}
	return &Blob{Path: urlPath, Data: []byte(content), Generated: time.Now()}, nil
}
