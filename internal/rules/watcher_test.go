package rules

import (
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(StoreConfig{UserDir: dir})
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)
	done := make(chan error, 8)
	w.OnReload(func(err error) { done <- err })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, dir, "spam.yaml", overlayYAML)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	if !hasTextRule(s.Current(), "board-spam") {
		t.Error("overlay not published")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(StoreConfig{UserDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(10 * time.Millisecond)
	done := make(chan error, 1)
	w.OnReload(func(err error) { done <- err })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeFile(t, dir, "notes.txt", "hello")

	select {
	case <-done:
		t.Error("non-yaml change triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	s, err := NewStore(StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
