//go:build windows
// +build windows

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procCreatePseudoConsole = kernel32.NewProc("CreatePseudoConsole")
	procResizePseudoConsole = kernel32.NewProc("ResizePseudoConsole")
	procClosePseudoConsole  = kernel32.NewProc("ClosePseudoConsole")
)

// windowsPTY implements the PTY interface for Windows using ConPTY
// (Windows 10 1809+).
type windowsPTY struct {
	hPC         windows.Handle // pseudo console handle
	inputRead   *os.File       // read end: PTY output
	outputWrite *os.File       // write end: PTY input
}

func (p *windowsPTY) Read(b []byte) (int, error) {
	return p.inputRead.Read(b)
}

func (p *windowsPTY) Write(b []byte) (int, error) {
	return p.outputWrite.Write(b)
}

func (p *windowsPTY) Close() error {
	var firstErr error

	if p.inputRead != nil {
		if err := p.inputRead.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.outputWrite != nil {
		if err := p.outputWrite.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.hPC != 0 {
		procClosePseudoConsole.Call(uintptr(p.hPC))
	}
	return firstErr
}

func (p *windowsPTY) Resize(rows, cols uint16) error {
	size := (int32(rows) << 16) | int32(cols)
	ret, _, err := procResizePseudoConsole.Call(uintptr(p.hPC), uintptr(size))
	if ret != 0 {
		return fmt.Errorf("ResizePseudoConsole failed: %w", err)
	}
	return nil
}

// Start starts a new PTY process with the given options using ConPTY.
func Start(opts StartOptions) (*Process, error) {
	if err := procCreatePseudoConsole.Find(); err != nil {
		return nil, fmt.Errorf("ConPTY not available: %w", err)
	}

	var inputRead, inputWrite, outputRead, outputWrite windows.Handle

	if err := windows.CreatePipe(&inputRead, &inputWrite, nil, 0); err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	if err := windows.CreatePipe(&outputRead, &outputWrite, nil, 0); err != nil {
		windows.CloseHandle(inputRead)
		windows.CloseHandle(inputWrite)
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	rows := opts.InitialRows
	cols := opts.InitialCols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}
	size := (int32(rows) << 16) | int32(cols)

	var hPC windows.Handle
	ret, _, err := procCreatePseudoConsole.Call(
		uintptr(size),
		uintptr(outputRead),
		uintptr(inputWrite),
		0,
		uintptr(unsafe.Pointer(&hPC)),
	)
	if ret != 0 {
		windows.CloseHandle(inputRead)
		windows.CloseHandle(inputWrite)
		windows.CloseHandle(outputRead)
		windows.CloseHandle(outputWrite)
		return nil, fmt.Errorf("CreatePseudoConsole failed: %w", err)
	}

	// These ends are now owned by the pseudo console.
	windows.CloseHandle(outputRead)
	windows.CloseHandle(inputWrite)

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_UNICODE_ENVIRONMENT,
	}

	if err := cmd.Start(); err != nil {
		procClosePseudoConsole.Call(uintptr(hPC))
		windows.CloseHandle(inputRead)
		windows.CloseHandle(outputWrite)
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{
		PTY: &windowsPTY{
			hPC:         hPC,
			inputRead:   os.NewFile(uintptr(inputRead), "pty-input"),
			outputWrite: os.NewFile(uintptr(outputWrite), "pty-output"),
		},
		Cmd: cmd,
		pid: cmd.Process.Pid,
	}, nil
}
