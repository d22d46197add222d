package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pudl/internal/model"
)

// StateFile is the final deployment state written after a replay.
type StateFile struct {
	UpdatedAt string                `json:"updated_at"`
	Ops       uint64                `json:"ops"`
	State     model.DeploymentState `json:"state"`
}

// StateStore persists StateFile to disk. A store with an empty path is
// disabled.
type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

func (s *StateStore) Load() (StateFile, bool, error) {
	if s == nil || s.path == "" {
		return StateFile{}, false, nil
	}

	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StateFile{}, false, nil
		}
		return StateFile{}, false, fmt.Errorf("stat state: %w", err)
	}
	if stat.IsDir() {
		return StateFile{}, false, fmt.Errorf("state path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return StateFile{}, false, fmt.Errorf("read state: %w", err)
	}
	var sf StateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return StateFile{}, false, fmt.Errorf("parse state: %w", err)
	}
	return sf, true, nil
}

// Save writes the state through a temp file and a rename so readers never
// see a partial document.
func (s *StateStore) Save(ops uint64, st model.DeploymentState) error {
	if s == nil || s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(StateFile{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Ops:       ops,
		State:     st,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
