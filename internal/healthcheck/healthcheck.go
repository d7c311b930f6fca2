// Package healthcheck reports whether the configured graph store, output
// directory and metrics file are usable.
package healthcheck

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/pkg/dirty"
	"github.com/l3aro/go-cfg-engine/pkg/store"
)

// Status values of a component.
const (
	StatusReady    = "ready"
	StatusMissing  = "missing" // created by the first build
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// ComponentStatus represents the health of one configured location.
type ComponentStatus struct {
	Name   string
	Path   string
	Status string
	Detail string
	Error  string
}

// OK reports whether the component does not prevent a build.
func (c ComponentStatus) OK() bool {
	return c.Status != StatusError
}

// HealthCheckResult contains the full health check output for display.
type HealthCheckResult struct {
	SavedPath      string
	SavedScope     string // "global" or "project"
	EffectivePath  string
	EffectiveScope string // "global" or "project"
	Store          ComponentStatus
	Output         ComponentStatus
	Metrics        ComponentStatus
	Programs       ComponentStatus
}

// Components returns the checked components in display order.
func (r *HealthCheckResult) Components() []ComponentStatus {
	return []ComponentStatus{r.Store, r.Output, r.Metrics, r.Programs}
}

// Healthy reports whether every component is usable.
func (r *HealthCheckResult) Healthy() bool {
	for _, c := range r.Components() {
		if !c.OK() {
			return false
		}
	}
	return true
}

// Check performs a health check against the given config.
// savedPath is where the user saved config (may be empty outside init).
// effectivePath is the config file actually in use (considering priority).
func Check(cfg *config.Config, savedPath string, effectivePath string) (*HealthCheckResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &HealthCheckResult{
		SavedPath:      savedPath,
		SavedScope:     scopeFromPath(savedPath),
		EffectivePath:  effectivePath,
		EffectiveScope: scopeFromPath(effectivePath),
		Store:          checkStore(cfg),
		Output:         checkOutput(cfg.OutputDir),
		Metrics:        checkMetrics(cfg.MetricsFile),
		Programs:       checkPrograms(cfg.StateDir()),
	}, nil
}

// EffectiveConfigPath returns the config file Load would read last: explicit
// if set, else the project file, else the global file. It returns "" when
// only defaults apply.
func EffectiveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, path := range []string{config.ProjectConfigFilePath(), config.GlobalConfigFilePath()} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// scopeFromPath determines "global" or "project" scope from a config file path.
// Returns empty string if path is empty.
func scopeFromPath(path string) string {
	if path == "" {
		return ""
	}
	if path == config.GlobalConfigFilePath() {
		return "global"
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalDir := filepath.Join(home, ".jcfg")
		if strings.HasPrefix(filepath.Clean(path), globalDir+string(filepath.Separator)) {
			return "global"
		}
	}

	return "project"
}

// checkStore opens the graph store read-only in spirit: it lists entries but
// writes nothing.
func checkStore(cfg *config.Config) ComponentStatus {
	status := ComponentStatus{Name: "graph store (" + string(cfg.StoreBackend) + ")", Path: cfg.CacheDir}

	if cfg.StoreBackend == config.StoreMemory {
		status.Path = ""
		status.Status = StatusReady
		status.Detail = "nothing kept between runs"
		return status
	}

	info, err := os.Stat(cfg.CacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		status.Status = StatusMissing
		return status
	}
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	if !info.IsDir() {
		status.Status = StatusError
		status.Error = "not a directory"
		return status
	}

	st, err := store.Open(store.Options{
		Backend:          store.Backend(cfg.StoreBackend),
		Dir:              cfg.CacheDir,
		BranchExtensions: cfg.BranchExtensions,
	})
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	defer st.Close()

	status.Status = StatusReady
	if lister, ok := st.(store.Lister); ok {
		entries, err := lister.List()
		if err != nil {
			status.Status = StatusError
			status.Error = err.Error()
			return status
		}
		status.Detail = fmt.Sprintf("%d graphs", len(entries))
	}
	return status
}

// checkOutput verifies the output directory accepts new files.
func checkOutput(dir string) ComponentStatus {
	status := ComponentStatus{Name: "output directory", Path: dir}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		status.Status = StatusMissing
		return status
	}
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	if !info.IsDir() {
		status.Status = StatusError
		status.Error = "not a directory"
		return status
	}

	f, err := os.CreateTemp(dir, ".jcfg-check-*")
	if err != nil {
		status.Status = StatusError
		status.Error = fmt.Sprintf("not writable: %v", err)
		return status
	}
	f.Close()
	os.Remove(f.Name())

	status.Status = StatusReady
	return status
}

func checkMetrics(path string) ComponentStatus {
	status := ComponentStatus{Name: "metrics file", Path: path}
	if path == "" {
		status.Status = StatusDisabled
		return status
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		status.Status = StatusError
		status.Error = "parent directory does not exist"
		return status
	}
	status.Status = StatusReady
	return status
}

// checkPrograms loads the program state recorded by the last complete build.
func checkPrograms(stateDir string) ComponentStatus {
	status := ComponentStatus{Name: "program state", Path: filepath.Join(stateDir, dirty.DefaultStateFile)}

	tracker, err := dirty.Open(stateDir)
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	if tracker.Len() == 0 {
		status.Status = StatusMissing
		return status
	}
	status.Status = StatusReady
	status.Detail = fmt.Sprintf("%d programs recorded", tracker.Len())
	return status
}
