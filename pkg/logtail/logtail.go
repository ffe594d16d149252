package logtail

import (
	"fmt"
	"io"
	"os"

	"github.com/core-tools/hsu-daemonctl/pkg/logging"
)

// Checkpoint is a byte offset in a log file captured before a state change.
type Checkpoint struct {
	Path   string
	Offset int64

	// identity of the file at checkpoint time, nil when it did not exist
	info os.FileInfo
}

// Watcher computes what a daemon appended to its log between a checkpoint
// and now. It only measures byte ranges, it never parses log content.
type Watcher struct {
	logger logging.Logger

	// 0 means the whole delta is returned
	maxBytes int64
}

func NewWatcher(logger logging.Logger) *Watcher {
	return &Watcher{
		logger: logging.OrNop(logger),
	}
}

// WithMaxBytes returns a copy of the watcher whose deltas keep only the
// last n bytes, behind an omission marker. n <= 0 removes the cap.
func (w *Watcher) WithMaxBytes(n int64) *Watcher {
	c := *w
	c.maxBytes = n
	return &c
}

// Checkpoint records the current size of path. An absent file, or no path
// at all, is a valid checkpoint at offset 0.
func (w *Watcher) Checkpoint(path string) Checkpoint {
	cp := Checkpoint{Path: path}
	if path == "" {
		return cp
	}
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Debugf("Log checkpoint stat failed, path: %s, error: %v", path, err)
		}
		return cp
	}
	cp.Offset = info.Size()
	cp.info = info
	return cp
}

// Delta returns the bytes appended since cp. When the file shrank or was
// replaced since the checkpoint (truncation, rotation) the whole current
// content is returned instead.
func (w *Watcher) Delta(cp Checkpoint) string {
	if cp.Path == "" {
		return ""
	}

	f, err := os.Open(cp.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warnf("Failed to open log for delta, path: %s, error: %v", cp.Path, err)
		}
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		w.logger.Warnf("Failed to stat log for delta, path: %s, error: %v", cp.Path, err)
		return ""
	}

	start := cp.Offset
	size := info.Size()
	if size < start || (cp.info != nil && !os.SameFile(cp.info, info)) {
		w.logger.Debugf("Log was truncated or replaced since checkpoint, path: %s, offset: %d, size: %d", cp.Path, cp.Offset, size)
		start = 0
	}

	length := size - start
	if length <= 0 {
		return ""
	}

	var prefix string
	if w.maxBytes > 0 && length > w.maxBytes {
		prefix = fmt.Sprintf("[... %d bytes omitted ...]\n", length-w.maxBytes)
		start = size - w.maxBytes
		length = w.maxBytes
	}

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		w.logger.Warnf("Failed to read log delta, path: %s, error: %v", cp.Path, err)
		return ""
	}

	return prefix + string(buf[:n])
}
