// Package daemon tracks the long-running "jcfg watch" process: a PID file
// guards against two watchers sharing a state directory, and a status file
// records the outcome of the latest build.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// PIDFileName is the name of the PID file
	PIDFileName = "watch.pid"
	// StatusFileName is the name of the status file
	StatusFileName = "watch.status.json"
)

// ErrAlreadyRunning is returned by Acquire while another live watcher holds
// the state directory.
var ErrAlreadyRunning = errors.New("a watcher is already running")

// PIDFile returns the path to the PID file in stateDir.
func PIDFile(stateDir string) string {
	return filepath.Join(stateDir, PIDFileName)
}

// StatusFile returns the path to the status file in stateDir.
func StatusFile(stateDir string) string {
	return filepath.Join(stateDir, StatusFileName)
}

// WatchStatus represents the state of a watcher.
type WatchStatus struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Dir       string    `json:"dir,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Version   string    `json:"version,omitempty"`

	Builds    int       `json:"builds"`
	LastBuild time.Time `json:"last_build,omitempty"`
	LastRunID string    `json:"last_run_id,omitempty"`
	Classes   int       `json:"classes"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// BuildReport is what a finished build contributes to the status.
type BuildReport struct {
	RunID   string
	Classes int
	Failed  int
	Err     error
}

// Session is held by a running watcher.
type Session struct {
	mu       sync.Mutex
	stateDir string
	status   WatchStatus
	now      func() time.Time
}

// Acquire claims stateDir for the current process, replacing the files of a
// watcher that is no longer running.
func Acquire(stateDir, watchedDir, version string) (*Session, error) {
	if pid, err := ReadPID(stateDir); err == nil && pid != os.Getpid() && IsProcessRunning(pid) {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &Session{stateDir: stateDir, now: time.Now}
	s.status = WatchStatus{
		Running:   true,
		PID:       os.Getpid(),
		Dir:       watchedDir,
		StartedAt: s.now(),
		Version:   version,
	}
	if err := WritePID(stateDir, s.status.PID); err != nil {
		return nil, err
	}
	if err := WriteStatus(stateDir, &s.status); err != nil {
		RemovePID(stateDir)
		return nil, err
	}
	return s, nil
}

// Record stores the outcome of a build in the status file.
func (s *Session) Record(r BuildReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Builds++
	s.status.LastBuild = s.now()
	s.status.LastRunID = r.RunID
	s.status.Classes = r.Classes
	s.status.Failed = r.Failed
	s.status.Error = ""
	if r.Err != nil {
		s.status.Error = r.Err.Error()
	}
	return WriteStatus(s.stateDir, &s.status)
}

// Status returns a copy of the session status.
func (s *Session) Status() WatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Release removes the PID file and keeps the status file, marked stopped,
// so the last build stays visible.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	if err := WriteStatus(s.stateDir, &s.status); err != nil {
		return err
	}
	return RemovePID(s.stateDir)
}

// WritePID writes the PID to the PID file
func WritePID(stateDir string, pid int) error {
	if err := os.WriteFile(PIDFile(stateDir), []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// ReadPID reads the PID from the PID file
func ReadPID(stateDir string) (int, error) {
	data, err := os.ReadFile(PIDFile(stateDir))
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID: %w", err)
	}
	return pid, nil
}

// RemovePID removes the PID file
func RemovePID(stateDir string) error {
	if err := os.Remove(PIDFile(stateDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// WriteStatus writes the status to the status file
func WriteStatus(stateDir string, status *WatchStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	if err := os.WriteFile(StatusFile(stateDir), data, 0644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}

// ReadStatus reads the status from the status file
func ReadStatus(stateDir string) (*WatchStatus, error) {
	data, err := os.ReadFile(StatusFile(stateDir))
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	var status WatchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parsing status: %w", err)
	}
	return &status, nil
}

// IsProcessRunning checks if a process with the given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, we need to send signal 0 to check
	return process.Signal(syscall.Signal(0)) == nil
}

// CheckStatus reports the watcher of stateDir. A status left by a watcher
// that died without releasing is reported as not running, and its PID file
// is removed.
func CheckStatus(stateDir string) (*WatchStatus, error) {
	status, err := ReadStatus(stateDir)
	if errors.Is(err, os.ErrNotExist) {
		return &WatchStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !status.Running {
		return status, nil
	}
	pid, err := ReadPID(stateDir)
	if err != nil || !IsProcessRunning(pid) {
		RemovePID(stateDir)
		status.Running = false
		return status, nil
	}
	status.PID = pid
	return status, nil
}
