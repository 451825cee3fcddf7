package prefstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prethora/glowly"
)

const fileName = "preferences.json"

// document is the contents of preferences.json, keyed by user ID.
type document map[string]*profile

type profile struct {
	Weights   glowly.Preferences     `json:"weights,omitempty"`
	Feedback  []glowly.FeedbackEvent `json:"feedback,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FileStore keeps preferences in a single JSON document. Writes are atomic
// and serialized across processes with a lock file.
type FileStore struct {
	dir         string
	lockTimeout time.Duration

	// mu serializes in-process access; the lock file covers other processes.
	mu sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// EnvVarName returns the environment variable that overrides the data
// directory for appName, e.g. GLOWLY_DATA_DIR.
func EnvVarName(appName string) string {
	return strings.ToUpper(appName) + "_DATA_DIR"
}

// DefaultDir resolves the data directory: the EnvVarName variable if set,
// otherwise the platform default for appName.
func DefaultDir(appName string) (string, error) {
	if dir := os.Getenv(EnvVarName(appName)); dir != "" {
		return dir, nil
	}
	return platformDataDir(appName)
}

// NewFileStore creates a store in dir, creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStorage, dir, err)
	}
	return &FileStore{dir: dir, lockTimeout: DefaultLockTimeout}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string { return filepath.Join(s.dir, fileName) }

// Preferences returns the user's explicit weights; empty for unknown users.
func (s *FileStore) Preferences(ctx context.Context, userID string) (glowly.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := glowly.Preferences{}
	if p := doc[userID]; p != nil {
		for t, w := range p.Weights {
			out[t] = w
		}
	}
	return out, nil
}

// SetPreferences replaces the user's explicit weights.
func (s *FileStore) SetPreferences(ctx context.Context, userID string, prefs glowly.Preferences) error {
	return s.update(ctx, userID, func(p *profile) {
		p.Weights = validWeights(prefs)
	})
}

// RecordFeedback appends ev to the user's history, keeping the most recent
// MaxFeedbackHistory events.
func (s *FileStore) RecordFeedback(ctx context.Context, userID string, ev glowly.FeedbackEvent) error {
	return s.update(ctx, userID, func(p *profile) {
		p.Feedback = append(p.Feedback, ev)
		if n := len(p.Feedback); n > MaxFeedbackHistory {
			p.Feedback = p.Feedback[n-MaxFeedbackHistory:]
		}
	})
}

// Feedback returns up to limit events, newest first.
func (s *FileStore) Feedback(ctx context.Context, userID string, limit int) ([]glowly.FeedbackEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	p := doc[userID]
	if p == nil {
		return []glowly.FeedbackEvent{}, nil
	}
	limit = clampLimit(limit)
	out := make([]glowly.FeedbackEvent, 0, limit)
	for i := len(p.Feedback) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, p.Feedback[i])
	}
	return out, nil
}

// Close is a no-op; the store holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) update(ctx context.Context, userID string, fn func(*profile)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrStorage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.Path()+".lock", s.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	p := doc[userID]
	if p == nil {
		p = &profile{}
		doc[userID] = p
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding preferences: %v", ErrStorage, err)
	}
	return atomicWrite(s.Path(), data)
}

// load reads the document. A missing file is an empty document.
func (s *FileStore) load() (document, error) {
	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", ErrStorage, fileName, err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

// atomicWrite writes data next to path and renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing temp file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming temp file: %v", ErrStorage, err)
	}
	return nil
}
