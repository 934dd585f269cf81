package monitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// defaultRescan is how often roots missing at startup are looked for.
const defaultRescan = 5 * time.Second

// Notifier turns filesystem events under the source roots into tick
// requests. It only ever requests; it never reads files itself.
type Notifier struct {
	watcher *fsnotify.Watcher
	roots   []string
	missing []string
	rescan  time.Duration
	logger  logrus.FieldLogger
}

func NewNotifier(roots []string, logger logrus.FieldLogger) (*Notifier, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &Notifier{watcher: w, roots: roots, rescan: defaultRescan, logger: logger}
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			n.missing = append(n.missing, root)
			continue
		}
		n.addTree(root)
	}
	return n, nil
}

// WatchList returns the directories currently watched.
func (n *Notifier) WatchList() []string {
	return n.watcher.WatchList()
}

// Run forwards relevant events to request until ctx is done.
func (n *Notifier) Run(ctx context.Context, request func()) error {
	defer n.watcher.Close()

	var retry <-chan time.Time
	if len(n.missing) > 0 {
		ticker := time.NewTicker(n.rescan)
		defer ticker.Stop()
		retry = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry:
			if n.watchMissing() {
				request()
			}
			if len(n.missing) == 0 {
				retry = nil
			}
		case event, ok := <-n.watcher.Events:
			if !ok {
				return nil
			}
			if n.handle(event) {
				request()
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.WithError(err).Warn("filesystem watcher error")
		}
	}
}

func (n *Notifier) handle(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			n.addTree(event.Name)
			return true
		}
	}
	if !isSourceFile(event.Name) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// watchMissing starts watching roots that have appeared since startup and
// reports whether any did.
func (n *Notifier) watchMissing() bool {
	var still []string
	found := false
	for _, root := range n.missing {
		if _, err := os.Stat(root); err != nil {
			still = append(still, root)
			continue
		}
		n.logger.WithField("root", root).Debug("source root appeared")
		n.addTree(root)
		found = true
	}
	n.missing = still
	return found
}

func (n *Notifier) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if !d.IsDir() {
			return nil
		}
		if err := n.watcher.Add(path); err != nil {
			n.logger.WithError(err).WithField("path", path).Debug("cannot watch directory")
		}
		return nil
	})
}

func isSourceFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}
