// Package tracker owns per-file read cursors and hands back only the
// complete lines appended since the last commit.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/types"
)

// Cursor is the read state of one file. Offset + len(Pending) is the number
// of bytes already observed. Offset only counts bytes of complete lines that
// were committed.
type Cursor struct {
	Path          string
	SourceID      string
	Offset        int64
	Pending       []byte
	LastKnownSize int64
}

func (c Cursor) observed() int64 {
	return c.Offset + int64(len(c.Pending))
}

// Batch is the result of one ReadNew call. Nothing changes in the tracker
// until the batch is committed.
type Batch struct {
	Path     string
	SourceID string
	Lines    [][]byte
	// Discontinuity is set when the file shrank below the cursor. The
	// lines then start at offset 0 and earlier records from this path
	// must be dropped before ingesting them.
	Discontinuity bool

	next Cursor
}

// RetryConfig bounds the backoff applied to failing reads.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the default read retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  25 * time.Millisecond,
		MaxDelay:   400 * time.Millisecond,
	}
}

type readResult struct {
	data []byte
	size int64
}

type Tracker struct {
	reader  FileReader
	retry   retrypolicy.RetryPolicy[readResult]
	logger  logrus.FieldLogger
	cursors map[string]*Cursor
}

func New(reader FileReader, cfg RetryConfig, logger logrus.FieldLogger) *Tracker {
	if reader == nil {
		reader = OSReader{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	builder := retrypolicy.NewBuilder[readResult]().
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ readResult, err error) bool {
			return err != nil && !errors.Is(err, fs.ErrNotExist)
		})
	if cfg.BaseDelay > 0 {
		builder = builder.WithBackoff(cfg.BaseDelay, cfg.MaxDelay)
	}

	return &Tracker{
		reader:  reader,
		retry:   builder.Build(),
		logger:  logger,
		cursors: make(map[string]*Cursor),
	}
}

// Track registers path with a fresh cursor at offset 0. It returns false
// if the path was already tracked.
func (t *Tracker) Track(path, sourceID string) bool {
	if _, ok := t.cursors[path]; ok {
		return false
	}
	t.cursors[path] = &Cursor{Path: path, SourceID: sourceID}
	return true
}

// Forget discards the cursor for path.
func (t *Tracker) Forget(path string) {
	delete(t.cursors, path)
}

// Paths returns the tracked paths in sorted order.
func (t *Tracker) Paths() []string {
	paths := make([]string, 0, len(t.cursors))
	for p := range t.cursors {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Cursor returns a copy of the cursor for path.
func (t *Tracker) Cursor(path string) (Cursor, bool) {
	c, ok := t.cursors[path]
	if !ok {
		return Cursor{}, false
	}
	cp := *c
	cp.Pending = append([]byte(nil), c.Pending...)
	return cp, true
}

// ResetAll rewinds every cursor to offset 0 and drops partial lines.
func (t *Tracker) ResetAll() {
	for _, c := range t.cursors {
		c.Offset = 0
		c.Pending = nil
		c.LastKnownSize = 0
	}
}

// ReadNew returns the complete lines written to path since the last
// commit. Failing reads are retried with backoff. Once retries are
// exhausted the error is a *types.SourceReadError.
func (t *Tracker) ReadNew(ctx context.Context, path string) (Batch, error) {
	c, ok := t.cursors[path]
	if !ok {
		return Batch{}, &types.SourceReadError{Path: path, Err: fs.ErrNotExist}
	}

	batch := Batch{Path: path, SourceID: c.SourceID}
	base := *c

	res, err := t.read(ctx, base, base.observed())
	if err != nil {
		return batch, err
	}

	if res.size < base.observed() {
		t.logger.WithFields(logrus.Fields{
			"path":     path,
			"size":     res.size,
			"observed": base.observed(),
		}).Debug("File shrank, re-reading from start")

		batch.Discontinuity = true
		base.Offset = 0
		base.Pending = nil
		if res, err = t.read(ctx, base, 0); err != nil {
			return batch, err
		}
	}

	buf := make([]byte, 0, len(base.Pending)+len(res.data))
	buf = append(buf, base.Pending...)
	buf = append(buf, res.data...)

	complete := bytes.LastIndexByte(buf, '\n') + 1
	for _, line := range bytes.Split(buf[:complete], []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		batch.Lines = append(batch.Lines, line)
	}

	batch.next = Cursor{
		Path:          path,
		SourceID:      c.SourceID,
		Offset:        base.Offset + int64(complete),
		Pending:       append([]byte(nil), buf[complete:]...),
		LastKnownSize: res.size,
	}
	return batch, nil
}

// Commit advances the cursor past the lines of b. Batches for paths that
// are no longer tracked are ignored.
func (t *Tracker) Commit(b Batch) {
	c, ok := t.cursors[b.Path]
	if !ok || b.next.Path == "" {
		return
	}
	*c = b.next
}

func (t *Tracker) read(ctx context.Context, c Cursor, offset int64) (readResult, error) {
	attempts := 0
	var lastErr error

	res, err := failsafe.With(t.retry).WithContext(ctx).Get(func() (readResult, error) {
		attempts++
		data, size, err := t.reader.ReadFrom(c.Path, offset)
		if err != nil {
			lastErr = err
			t.logger.WithFields(logrus.Fields{
				"path":    c.Path,
				"attempt": attempts,
			}).WithError(err).Debug("Read failed")
			return readResult{}, err
		}
		return readResult{data: data, size: size}, nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return readResult{}, &types.SourceReadError{
			Path:     c.Path,
			SourceID: c.SourceID,
			Attempts: attempts,
			Err:      lastErr,
		}
	}
	return res, nil
}
