package prefstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prethora/glowly"
)

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		appName string
		want    string
	}{
		{"glowly", "GLOWLY_DATA_DIR"},
		{"MyApp", "MYAPP_DATA_DIR"},
		{"my-app", "MY-APP_DATA_DIR"},
	}

	for _, tt := range tests {
		t.Run(tt.appName, func(t *testing.T) {
			if got := EnvVarName(tt.appName); got != tt.want {
				t.Errorf("EnvVarName(%q) = %q, want %q", tt.appName, got, tt.want)
			}
		})
	}
}

func TestDefaultDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvVarName("prefstoretest"), dir)

	got, err := DefaultDir("prefstoretest")
	if err != nil {
		t.Fatalf("DefaultDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("DefaultDir() = %q, want %q", got, dir)
	}
}

func TestFileStorePreferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "nested"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	got, err := s.Preferences(ctx, "nobody")
	if err != nil {
		t.Fatalf("Preferences() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Preferences(unknown) = %v, want empty", got)
	}

	err = s.SetPreferences(ctx, "u1", glowly.Preferences{
		glowly.EnhancementTeethWhitening: 1.5,
		glowly.EnhancementSkinSmoothing:  0,
		"glitter":                        2,
	})
	if err != nil {
		t.Fatalf("SetPreferences() error = %v", err)
	}

	got, err = s.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences() error = %v", err)
	}
	if len(got) != 1 || got[glowly.EnhancementTeethWhitening] != 1.5 {
		t.Errorf("Preferences() = %v, want only teeth-whitening=1.5", got)
	}

	// A second store on the same directory sees the same data.
	other, err := NewFileStore(s.dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err = other.Preferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got[glowly.EnhancementTeethWhitening] != 1.5 {
		t.Errorf("reopened Preferences() = %v", got)
	}

	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after write")
	}
}

func TestFileStoreFeedbackHistory(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := MaxFeedbackHistory + 5
	for i := 0; i < total; i++ {
		ev := glowly.FeedbackEvent{
			Enhancement:  glowly.EnhancementSkinSmoothing,
			Satisfaction: 0.5,
			RecordedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordFeedback(ctx, "u1", ev); err != nil {
			t.Fatalf("RecordFeedback(%d) error = %v", i, err)
		}
	}

	all, err := s.Feedback(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Feedback() error = %v", err)
	}
	if len(all) != MaxFeedbackHistory {
		t.Fatalf("len(Feedback) = %d, want %d", len(all), MaxFeedbackHistory)
	}
	newest := base.Add(time.Duration(total-1) * time.Minute)
	if !all[0].RecordedAt.Equal(newest) {
		t.Errorf("Feedback()[0].RecordedAt = %v, want %v", all[0].RecordedAt, newest)
	}
	oldest := base.Add(5 * time.Minute)
	if !all[len(all)-1].RecordedAt.Equal(oldest) {
		t.Errorf("oldest kept = %v, want %v", all[len(all)-1].RecordedAt, oldest)
	}

	three, err := s.Feedback(ctx, "u1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(three) != 3 {
		t.Errorf("len(Feedback(3)) = %d, want 3", len(three))
	}

	none, err := s.Feedback(ctx, "someone-else", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("Feedback(unknown) = %v, want empty", none)
	}
}

func TestFileStoreRejectsEmptyUser(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = s.RecordFeedback(context.Background(), "", glowly.FeedbackEvent{})
	if !errors.Is(err, ErrStorage) {
		t.Errorf("RecordFeedback(\"\") error = %v, want ErrStorage", err)
	}
}

func TestFileStoreInvalidDocument(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Preferences(context.Background(), "u1"); !errors.Is(err, ErrStorage) {
		t.Errorf("Preferences() error = %v, want ErrStorage", err)
	}
}

func TestFileStoreCanceledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SetPreferences(ctx, "u1", glowly.Preferences{}); !errors.Is(err, context.Canceled) {
		t.Errorf("SetPreferences() error = %v, want context.Canceled", err)
	}
}

func TestLockFileContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	unlock, err := lockFile(path, time.Second)
	if err != nil {
		t.Fatalf("lockFile() error = %v", err)
	}

	if _, err := lockFile(path, 50*time.Millisecond); err == nil {
		t.Fatal("second lockFile() should time out while the first is held")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	// Releasing twice is harmless.
	if err := unlock(); err != nil {
		t.Fatalf("second unlock() error = %v", err)
	}

	unlock2, err := lockFile(path, time.Second)
	if err != nil {
		t.Fatalf("lockFile() after unlock error = %v", err)
	}
	unlock2()
}
