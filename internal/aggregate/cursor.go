package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Cursor remembers the timestamp of the last event folded into a closed
// window, so a restarted run skips windows it already flushed.
type Cursor interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, ts uint64) error
}

// FileCursor keeps the cursor in a JSON file next to the metrics output.
// The file records the window size and refuses to resume a different one.
type FileCursor struct {
	Path          string
	WindowSeconds uint64
}

type cursorFile struct {
	WindowSeconds uint64    `json:"window_seconds"`
	LastEventTs   uint64    `json:"last_event_ts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (c *FileCursor) Load(_ context.Context) (uint64, bool, error) {
	if c == nil || c.Path == "" {
		return 0, false, nil
	}
	f, err := os.Open(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open cursor: %w", err)
	}
	defer f.Close()

	var rec cursorFile
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return 0, false, fmt.Errorf("decode cursor %s: %w", c.Path, err)
	}
	if c.WindowSeconds != 0 && rec.WindowSeconds != 0 && rec.WindowSeconds != c.WindowSeconds {
		return 0, false, fmt.Errorf("cursor %s tracks %ds windows, not %ds", c.Path, rec.WindowSeconds, c.WindowSeconds)
	}
	return rec.LastEventTs, true, nil
}

func (c *FileCursor) Save(_ context.Context, ts uint64) error {
	if c == nil || c.Path == "" {
		return nil
	}
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.Path)+".*")
	if err != nil {
		return fmt.Errorf("create cursor tmp: %w", err)
	}
	rec := cursorFile{WindowSeconds: c.WindowSeconds, LastEventTs: ts, UpdatedAt: time.Now().UTC()}
	if err := json.NewEncoder(tmp).Encode(rec); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cursor tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("replace cursor: %w", err)
	}
	return nil
}

// ProgressTable is a database with named rows in pudl_state. The postgres
// and sqlite stores both implement it.
type ProgressTable interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}

// TableCursor keeps the cursor in a pudl_state row.
type TableCursor struct {
	DB   ProgressTable
	Name string
}

// NewTableCursor names the row after the window size so runs with
// different windows never share progress.
func NewTableCursor(db ProgressTable, windowSeconds uint64) *TableCursor {
	return &TableCursor{DB: db, Name: fmt.Sprintf("stats:%d", windowSeconds)}
}

func (c *TableCursor) Load(ctx context.Context) (uint64, bool, error) {
	if c == nil || c.DB == nil {
		return 0, false, nil
	}
	return c.DB.LoadState(ctx, c.Name)
}

func (c *TableCursor) Save(ctx context.Context, ts uint64) error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.SaveState(ctx, c.Name, ts)
}
