//go:build windows

// ABOUTME: Window-owning process enumeration for capture target selection
// ABOUTME: Walks top-level windows, resolves owning exe names, dedups by PID
package capture

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                     = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows            = user32.NewProc("EnumWindows")
	procIsWindowVisible        = user32.NewProc("IsWindowVisible")
	procGetWindowTextW         = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcess = user32.NewProc("GetWindowThreadProcessId")
)

// Shell-owned windows that show up in every enumeration but never produce
// audio anyone wants to capture.
var shellWindowTitles = map[string]struct{}{
	"Program Manager":          {},
	"Windows Input Experience": {},
	"MSCTFIME UI":              {},
	"Default IME":              {},
}

var enumCallback = syscall.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
	results := (*[]ProcessInfo)(unsafe.Pointer(lparam))

	visible, _, _ := procIsWindowVisible.Call(hwnd)
	if visible == 0 {
		return 1 // continue enumeration
	}

	var buf [512]uint16
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return 1
	}
	title := windows.UTF16ToString(buf[:n])
	if _, shell := shellWindowTitles[title]; shell {
		return 1
	}

	var pid uint32
	procGetWindowThreadProcess.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return 1
	}

	*results = append(*results, ProcessInfo{PID: pid, Title: title, ExeName: exeNameForPID(pid)})
	return 1
})

func exeNameForPID(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}

// ListAudioProcesses returns the visible window-owning processes, one entry
// per PID (keeping the longest window title, which tends to be the real app
// window rather than a tooltip), sorted by title case-insensitively.
func ListAudioProcesses() ([]ProcessInfo, error) {
	var raw []ProcessInfo
	ret, _, err := procEnumWindows.Call(uintptr(enumCallback), uintptr(unsafe.Pointer(&raw)))
	if ret == 0 {
		return nil, fmt.Errorf("enumerating windows: %w", err)
	}

	byPID := make(map[uint32]ProcessInfo)
	for _, p := range raw {
		if prev, ok := byPID[p.PID]; ok && len(prev.Title) >= len(p.Title) {
			continue
		}
		byPID[p.PID] = p
	}

	procs := make([]ProcessInfo, 0, len(byPID))
	for _, p := range byPID {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool {
		return strings.ToLower(procs[i].Title) < strings.ToLower(procs[j].Title)
	})
	return procs, nil
}

// FindTargetPID resolves exeName (e.g. "Spotify.exe", compared
// case-insensitively) to a window-owning PID. Returns ErrProcessNotFound
// when the process has no visible window right now.
func FindTargetPID(exeName string) (uint32, error) {
	procs, err := ListAudioProcesses()
	if err != nil {
		return 0, err
	}
	for _, p := range procs {
		if strings.EqualFold(p.ExeName, exeName) {
			return p.PID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrProcessNotFound, exeName)
}
