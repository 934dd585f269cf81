// Package catalog discovers log files under the configured roots and maps
// each file to the project it belongs to.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/types"
)

// Source is one discovered log file and its logical owner.
type Source struct {
	Path     string
	SourceID string
	Root     string
	ModTime  time.Time
}

// Listing is the result of one discovery pass.
type Listing struct {
	Sources []Source
	// Warnings holds discovery errors not reported by an earlier pass.
	Warnings []*types.DiscoveryError
	// UsableRoots counts roots that could be listed.
	UsableRoots int
}

type Options struct {
	// MaxFileAge skips files not modified within this duration. Zero
	// disables the filter.
	MaxFileAge time.Duration
	Clock      func() time.Time
	Logger     logrus.FieldLogger
}

type Catalog struct {
	roots  []string
	lister Lister
	opts   Options
	warned map[string]bool
}

func New(roots []string, lister Lister, opts Options) *Catalog {
	if lister == nil {
		lister = FSLister{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Catalog{
		roots:  append([]string(nil), roots...),
		lister: lister,
		opts:   opts,
		warned: make(map[string]bool),
	}
}

// Roots returns the configured roots.
func (c *Catalog) Roots() []string {
	return append([]string(nil), c.roots...)
}

// ListSources lists every log file under the usable roots. Missing roots
// are reported once each as warnings. If no root is usable the error wraps
// types.ErrNoUsableRoot.
func (c *Catalog) ListSources() (Listing, error) {
	var listing Listing
	var failures []error
	seen := make(map[string]bool)

	cutoff := time.Time{}
	if c.opts.MaxFileAge > 0 {
		cutoff = c.opts.Clock().Add(-c.opts.MaxFileAge)
	}

	for _, root := range c.roots {
		files, err := c.lister.List(root)
		if err != nil {
			derr := &types.DiscoveryError{Root: root, Err: err}
			failures = append(failures, derr)
			if !c.warned[root] {
				c.warned[root] = true
				listing.Warnings = append(listing.Warnings, derr)
				c.opts.Logger.WithField("root", root).WithError(err).Warn("Source root is not usable")
			}
			continue
		}
		if c.warned[root] {
			c.opts.Logger.WithField("root", root).Info("Source root is usable again")
			delete(c.warned, root)
		}
		listing.UsableRoots++

		for _, f := range files {
			if seen[f.Path] {
				continue
			}
			if !cutoff.IsZero() && f.ModTime.Before(cutoff) {
				continue
			}
			id, ok := SourceID(root, f.Path)
			if !ok {
				continue
			}
			seen[f.Path] = true
			listing.Sources = append(listing.Sources, Source{
				Path:     f.Path,
				SourceID: id,
				Root:     root,
				ModTime:  f.ModTime,
			})
		}
	}

	if listing.UsableRoots == 0 {
		if len(failures) == 0 {
			return listing, types.ErrNoUsableRoot
		}
		return listing, fmt.Errorf("%w: %w", types.ErrNoUsableRoot, errors.Join(failures...))
	}

	sort.Slice(listing.Sources, func(i, j int) bool {
		return listing.Sources[i].Path < listing.Sources[j].Path
	})
	return listing, nil
}

// SourceID derives the owning project from a file path. Paths look like
// <root>/<encoded-project>/<session>.jsonl, possibly nested deeper. Files
// directly under root and non-jsonl files have no identity.
func SourceID(root, path string) (string, bool) {
	if !strings.HasSuffix(strings.ToLower(path), ".jsonl") {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", false
	}
	first, _, found := strings.Cut(rel, "/")
	if !found || first == "" || first == "." {
		return "", false
	}
	return DecodeProjectName(first), true
}

// DecodeProjectName reverses the directory encoding used for project
// paths: a leading '-' marks an absolute path, every '-' was a '/'.
func DecodeProjectName(encoded string) string {
	if strings.HasPrefix(encoded, "-") {
		return "/" + strings.ReplaceAll(encoded[1:], "-", "/")
	}
	return strings.ReplaceAll(encoded, "-", "/")
}

// ProjectName returns the last component of a decoded source id.
func ProjectName(sourceID string) string {
	trimmed := strings.TrimRight(sourceID, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	if trimmed == "" {
		return sourceID
	}
	return trimmed
}
