package pty

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// KeyCtrlC is the interrupt byte sent to unblock a stuck foreground
// process before a new capture run.
const KeyCtrlC = "\x03"

// Platform is the capability table for the host OS: which shell to run,
// how to wrap a command so its exit status is printed behind a marker,
// and how to look up a process's working directory. It is resolved once
// at startup instead of branching on the OS at every call site.
type Platform struct {
	// ShellCandidates are tried in order; the first one that resolves
	// to an executable wins.
	ShellCandidates []string

	// completionTemplate wraps a command so the shell prints the given
	// marker followed by the command's exit status on its own line.
	completionTemplate string

	// cwdTemplate formats a PID into a path or command that yields the
	// process's current working directory. Empty when unsupported.
	cwdTemplate string
}

// ResolvePlatform builds the capability table for the current OS.
func ResolvePlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return Platform{
			ShellCandidates:    []string{os.Getenv("COMSPEC"), "cmd.exe"},
			completionTemplate: "%s & echo %s%%errorlevel%%",
		}
	case "darwin":
		return Platform{
			ShellCandidates:    []string{os.Getenv("SHELL"), "/bin/zsh", "/bin/bash", "/bin/sh"},
			completionTemplate: `%s; printf '\n%s%%d\n' "$?"`,
			cwdTemplate:        "lsof -a -p %d -d cwd -Fn",
		}
	default:
		return Platform{
			ShellCandidates:    []string{os.Getenv("SHELL"), "/bin/bash", "/bin/sh"},
			completionTemplate: `%s; printf '\n%s%%d\n' "$?"`,
			cwdTemplate:        "/proc/%d/cwd",
		}
	}
}

// Shell returns the first shell candidate that resolves to an executable.
func (p Platform) Shell() (string, error) {
	for _, candidate := range p.ShellCandidates {
		if candidate == "" {
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no usable shell found among %v", p.ShellCandidates)
}

// WrapCommand appends the completion idiom to cmd so the shell prints
// marker immediately followed by the numeric exit status once cmd
// finishes.
func (p Platform) WrapCommand(cmd, marker string) string {
	return fmt.Sprintf(p.completionTemplate, cmd, marker)
}

// Cwd returns the working directory of the given process, or an empty
// string when the platform offers no lookup.
func (p Platform) Cwd(pid int) string {
	if p.cwdTemplate == "" {
		return ""
	}
	if runtime.GOOS == "linux" {
		target, err := os.Readlink(fmt.Sprintf(p.cwdTemplate, pid))
		if err != nil {
			return ""
		}
		return target
	}
	// Command-based lookup (darwin): last "n"-prefixed field of lsof -Fn.
	out, err := exec.Command("sh", "-c", fmt.Sprintf(p.cwdTemplate, pid)).Output()
	if err != nil {
		return ""
	}
	for _, line := range splitLines(string(out)) {
		if len(line) > 1 && line[0] == 'n' {
			return line[1:]
		}
	}
	return ""
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
