package pty

import (
	"runtime"
	"strings"
	"testing"
)

func TestResolvePlatformHasCandidates(t *testing.T) {
	p := ResolvePlatform()
	if len(p.ShellCandidates) == 0 {
		t.Fatal("expected at least one shell candidate")
	}
	if p.completionTemplate == "" {
		t.Fatal("expected a completion template")
	}
}

func TestPlatformShellResolves(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell resolution")
	}

	p := ResolvePlatform()
	shell, err := p.Shell()
	if err != nil {
		t.Fatalf("expected a shell on this host: %v", err)
	}
	if shell == "" {
		t.Fatal("expected non-empty shell path")
	}
}

func TestPlatformShellFallsThroughMissingCandidates(t *testing.T) {
	p := Platform{ShellCandidates: []string{"", "/does/not/exist", "/bin/sh"}}
	shell, err := p.Shell()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(shell, "/sh") {
		t.Errorf("expected fallback to /bin/sh, got %q", shell)
	}
}

func TestPlatformShellNoCandidates(t *testing.T) {
	p := Platform{ShellCandidates: []string{"/does/not/exist"}}
	if _, err := p.Shell(); err == nil {
		t.Error("expected error when no candidate resolves")
	}
}

func TestWrapCommandUnix(t *testing.T) {
	p := Platform{completionTemplate: `%s; printf '\n%s%%d\n' "$?"`}

	wrapped := p.WrapCommand("ls -la", "MARK-123-")
	want := `ls -la; printf '\nMARK-123-%d\n' "$?"`
	if wrapped != want {
		t.Errorf("expected %q, got %q", want, wrapped)
	}
}

func TestWrapCommandWindows(t *testing.T) {
	p := Platform{completionTemplate: "%s & echo %s%%errorlevel%%"}

	wrapped := p.WrapCommand("dir", "MARK-")
	want := "dir & echo MARK-%errorlevel%"
	if wrapped != want {
		t.Errorf("expected %q, got %q", want, wrapped)
	}
}

func TestExpandWorkdirEmpty(t *testing.T) {
	dir, err := expandWorkdir("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "" {
		t.Errorf("expected empty workdir to stay empty, got %q", dir)
	}
}

func TestExpandWorkdirTilde(t *testing.T) {
	dir, err := expandWorkdir("~")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.HasPrefix(dir, "~") {
		t.Errorf("expected ~ to be expanded, got %q", dir)
	}
}
