package tracker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/clauditor-go/internal/types"
)

func newTestTracker(reader FileReader) *Tracker {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(reader, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func lines(b Batch) []string {
	out := make([]string, 0, len(b.Lines))
	for _, l := range b.Lines {
		out = append(out, string(l))
	}
	return out
}

func readAndCommit(t *testing.T, tr *Tracker, path string) Batch {
	t.Helper()
	b, err := tr.ReadNew(context.Background(), path)
	require.NoError(t, err)
	tr.Commit(b)
	return b
}

func TestReadNewReturnsOnlyAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\ntwo\n")

	tr := newTestTracker(nil)
	require.True(t, tr.Track(path, "src"))
	require.False(t, tr.Track(path, "src"))

	first := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"one", "two"}, lines(first))
	assert.False(t, first.Discontinuity)

	appendFile(t, path, "three\n")
	second := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"three"}, lines(second))

	c, ok := tr.Cursor(path)
	require.True(t, ok)
	assert.Equal(t, int64(len("one\ntwo\nthree\n")), c.Offset)
	assert.Empty(t, c.Pending)

	third := readAndCommit(t, tr, path)
	assert.Empty(t, third.Lines)
}

func TestPartialLineIsHeldUntilTerminated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\ntw")

	tr := newTestTracker(nil)
	tr.Track(path, "src")

	first := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"one"}, lines(first))

	c, _ := tr.Cursor(path)
	assert.Equal(t, int64(4), c.Offset)
	assert.Equal(t, []byte("tw"), c.Pending)

	appendFile(t, path, "o\r\nthr")
	second := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"two"}, lines(second))

	appendFile(t, path, "ee\n")
	third := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"three"}, lines(third))
}

func TestUncommittedBatchIsRedelivered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\n")

	tr := newTestTracker(nil)
	tr.Track(path, "src")

	b, err := tr.ReadNew(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, lines(b))

	again, err := tr.ReadNew(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, lines(again))

	tr.Commit(again)
	after, err := tr.ReadNew(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, after.Lines)
}

func TestTruncationSignalsDiscontinuity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "aaaa\nbbbb\ncccc\n")

	tr := newTestTracker(nil)
	tr.Track(path, "src")
	readAndCommit(t, tr, path)

	writeFile(t, path, "x\ny\n")
	b := readAndCommit(t, tr, path)
	assert.True(t, b.Discontinuity)
	assert.Equal(t, []string{"x", "y"}, lines(b))

	c, _ := tr.Cursor(path)
	assert.Equal(t, int64(4), c.Offset)
	assert.Equal(t, int64(4), c.LastKnownSize)
}

func TestBlankLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\n\n   \ntwo\n")

	tr := newTestTracker(nil)
	tr.Track(path, "src")
	assert.Equal(t, []string{"one", "two"}, lines(readAndCommit(t, tr, path)))
}

func TestResetAllRereadsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\ntwo\npart")

	tr := newTestTracker(nil)
	tr.Track(path, "src")
	readAndCommit(t, tr, path)

	tr.ResetAll()
	b := readAndCommit(t, tr, path)
	assert.False(t, b.Discontinuity)
	assert.Equal(t, []string{"one", "two"}, lines(b))
}

func TestForgetAndCommitOfStaleBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\n")

	tr := newTestTracker(nil)
	tr.Track(path, "src")
	b, err := tr.ReadNew(context.Background(), path)
	require.NoError(t, err)

	tr.Forget(path)
	tr.Commit(b)
	_, ok := tr.Cursor(path)
	assert.False(t, ok)
	assert.Empty(t, tr.Paths())
}

type flakyReader struct {
	failures int
	calls    int
	err      error
	inner    FileReader
}

func (f *flakyReader) ReadFrom(path string, offset int64) ([]byte, int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, 0, f.err
	}
	return f.inner.ReadFrom(path, offset)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeFile(t, path, "one\n")

	reader := &flakyReader{failures: 2, err: errors.New("resource busy"), inner: OSReader{}}
	tr := newTestTracker(reader)
	tr.Track(path, "src")

	b := readAndCommit(t, tr, path)
	assert.Equal(t, []string{"one"}, lines(b))
	assert.Equal(t, 3, reader.calls)
}

func TestPersistentErrorBecomesSourceReadError(t *testing.T) {
	reader := &flakyReader{failures: 100, err: errors.New("resource busy"), inner: OSReader{}}
	tr := newTestTracker(reader)
	tr.Track("/locked.jsonl", "src")

	_, err := tr.ReadNew(context.Background(), "/locked.jsonl")
	require.Error(t, err)

	var readErr *types.SourceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "src", readErr.SourceID)
	assert.Equal(t, 3, readErr.Attempts)
	assert.EqualError(t, readErr.Err, "resource busy")

	c, _ := tr.Cursor("/locked.jsonl")
	assert.Zero(t, c.Offset)
}

func TestMissingFileIsNotRetried(t *testing.T) {
	reader := &flakyReader{inner: OSReader{}}
	tr := newTestTracker(reader)
	missing := filepath.Join(t.TempDir(), "gone.jsonl")
	tr.Track(missing, "src")

	_, err := tr.ReadNew(context.Background(), missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, 1, reader.calls)
}
