package sink

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Destination kinds.
const (
	KindFile   = "file"
	KindGCS    = "gs"
	KindMemory = "memory"
)

// Destination is a parsed output URI.
//
//	results.json            -> file, Base ".", Path "results.json"
//	file:///tmp/out/r.json  -> file, Base "/tmp/out", Path "r.json"
//	gs://bucket/runs/r.json -> gs, Base "bucket", Path "runs/r.json"
//	memory://r.json         -> memory, Path "r.json"
type Destination struct {
	Kind string
	Base string
	Path string
}

// ParseDestination interprets an output URI.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, fmt.Errorf("output uri is required")
	}
	if !strings.Contains(raw, "://") {
		return fileDestination(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("parse output uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case KindFile:
		return fileDestination(u.Host + u.Path)
	case KindGCS:
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Destination{}, fmt.Errorf("gs uri %q needs a bucket and an object name", raw)
		}
		return Destination{Kind: KindGCS, Base: u.Host, Path: object}, nil
	case KindMemory:
		name := strings.TrimPrefix(u.Host+u.Path, "/")
		if name == "" {
			return Destination{}, fmt.Errorf("memory uri %q needs an object name", raw)
		}
		return Destination{Kind: KindMemory, Path: name}, nil
	default:
		return Destination{}, fmt.Errorf("unsupported output scheme %q", u.Scheme)
	}
}

func fileDestination(p string) (Destination, error) {
	if p == "" || strings.HasSuffix(p, "/") {
		return Destination{}, fmt.Errorf("output path %q must name a file", p)
	}
	clean := filepath.Clean(p)
	return Destination{Kind: KindFile, Base: filepath.Dir(clean), Path: filepath.Base(clean)}, nil
}
