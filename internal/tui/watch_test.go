package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jfoltran/cdcingester/internal/daemon"
	"github.com/jfoltran/cdcingester/internal/metrics"
)

func TestWatchModel_AppliesResultOnSuccess(t *testing.T) {
	m := NewWatchModel(daemon.NewClient("http://unused"))
	m.ready = true

	next, _ := m.Update(watchResultMsg{snapshot: metrics.Snapshot{Phase: "streaming", EventsTotal: 7}})
	wm := next.(WatchModel)

	if wm.lastErr != nil {
		t.Errorf("lastErr = %v, want nil", wm.lastErr)
	}
	if wm.snapshot.EventsTotal != 7 {
		t.Errorf("EventsTotal = %d, want 7", wm.snapshot.EventsTotal)
	}
}

func TestWatchModel_KeepsLastSnapshotOnError(t *testing.T) {
	m := NewWatchModel(daemon.NewClient("http://unused"))
	m.ready = true
	m.snapshot = metrics.Snapshot{Phase: "streaming", EventsTotal: 3}

	next, _ := m.Update(watchResultMsg{err: errors.New("connection refused")})
	wm := next.(WatchModel)

	if wm.lastErr == nil {
		t.Error("expected lastErr to be set")
	}
	if wm.snapshot.EventsTotal != 3 {
		t.Errorf("snapshot should be unchanged on error, got EventsTotal = %d", wm.snapshot.EventsTotal)
	}
}

func TestWatchModel_QuitsOnQ(t *testing.T) {
	m := NewWatchModel(daemon.NewClient("http://unused"))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestWatchModel_WindowResizeMarksReady(t *testing.T) {
	m := NewWatchModel(daemon.NewClient("http://unused"))
	if m.ready {
		t.Fatal("model should not be ready before a WindowSizeMsg")
	}
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	wm := next.(WatchModel)
	if !wm.ready {
		t.Error("expected ready = true after WindowSizeMsg")
	}
}
