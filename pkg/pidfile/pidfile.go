package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
	"github.com/core-tools/hsu-daemonctl/pkg/processstate"
)

// Record is the value read from a pid file at one point in time.
// It is never cached: the file may be rewritten by the daemon at any moment.
type Record struct {
	PID     int
	Present bool
}

// Liveness is the OS view of a pid. User is the owning user when alive
// and observable, "" otherwise.
type Liveness struct {
	Alive bool
	User  string
}

// Store reads pid files and resolves pids to liveness.
type Store interface {
	Read(path string) (Record, error)
	ProbeLiveness(pid int) Liveness
}

// FileStore is the filesystem and OS backed Store.
type FileStore struct {
	logger    logging.Logger
	isRunning func(pid int) (bool, error)
	owner     func(pid int) (string, error)
}

var _ Store = (*FileStore)(nil)

func NewFileStore(logger logging.Logger) *FileStore {
	return &FileStore{
		logger:    logging.OrNop(logger),
		isRunning: processstate.IsProcessRunning,
		owner:     processstate.ProcessOwner,
	}
}

// Read parses the pid file. A missing file is an absent record, not an error.
func (s *FileStore) Read(path string) (Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, errors.NewIOError("failed to read PID file", err).WithContext(errors.ContextPIDFile, path)
	}

	// Only the first line is significant; some daemons append metadata after it.
	pidLine, _, _ := strings.Cut(string(content), "\n")
	pidStr := strings.TrimSpace(pidLine)
	pid, err := ParsePID(pidStr)
	if err != nil {
		s.logger.Debugf("Corrupt PID file, path: %s, content: %q", path, pidStr)
		return Record{}, errors.NewCorruptPIDFileError(path, pidStr, err)
	}

	return Record{PID: pid, Present: true}, nil
}

// ProbeLiveness asks the OS whether pid is running and, if so, who owns it.
func (s *FileStore) ProbeLiveness(pid int) Liveness {
	running, err := s.isRunning(pid)
	if err != nil {
		s.logger.Warnf("Liveness probe failed, pid: %d, error: %v", pid, err)
		return Liveness{}
	}
	if !running {
		return Liveness{}
	}

	owner, err := s.owner(pid)
	if err != nil {
		s.logger.Debugf("Owner lookup failed, pid: %d, error: %v", pid, err)
	}
	return Liveness{Alive: true, User: owner}
}

// ParsePID validates pid file content: a positive decimal integer that fits
// the OS pid type.
func ParsePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	if pid > processstate.MaxPID {
		return 0, errors.NewValidationError("PID out of range: "+pidStr, nil)
	}

	return pid, nil
}

// Write stores pid the way daemons do: decimal followed by a newline.
// The controller never writes pid files; this is for daemons and test harnesses.
func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext(errors.ContextPIDFile, path)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext(errors.ContextPIDFile, path).WithContext(errors.ContextPID, pid)
	}
	return nil
}
