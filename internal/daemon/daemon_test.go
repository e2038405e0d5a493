package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := WritePID(); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	defer RemovePID()

	pid, err := ReadPID()
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	gotPID, alive := IsRunning()
	if !alive {
		t.Error("expected IsRunning to report the current process as alive")
	}
	if gotPID != os.Getpid() {
		t.Errorf("IsRunning pid = %d, want %d", gotPID, os.Getpid())
	}

	RemovePID()
	if _, alive := IsRunning(); alive {
		t.Error("expected IsRunning to report false after RemovePID")
	}
}

func TestReadPIDMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	pid, err := ReadPID()
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 0 {
		t.Errorf("pid = %d, want 0 for missing file", pid)
	}
}

func TestReadPIDCorruptFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path, err := PIDPath()
	if err != nil {
		t.Fatalf("PIDPath: %v", err)
	}
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write corrupt pid file: %v", err)
	}

	if _, err := ReadPID(); err == nil {
		t.Error("expected error reading corrupt PID file")
	}
}

func TestDataDirIsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	want := filepath.Join(home, DirName)
	if dir != want {
		t.Errorf("DataDir = %q, want %q", dir, want)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected DataDir to create %q", dir)
	}
}

func TestStatusInfoNotRunning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	status := StatusInfo(8080)
	if status.Running {
		t.Error("expected Running = false with no PID file present")
	}
}

func TestIsDaemonProcess(t *testing.T) {
	t.Setenv("_CDCINGESTER_DAEMON", "")
	if IsDaemonProcess() {
		t.Error("expected IsDaemonProcess = false when env var unset")
	}
	t.Setenv("_CDCINGESTER_DAEMON", "1")
	if !IsDaemonProcess() {
		t.Error("expected IsDaemonProcess = true when env var set to 1")
	}
}
