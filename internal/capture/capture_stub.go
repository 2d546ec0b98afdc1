//go:build !windows

// ABOUTME: Non-Windows stubs for the capture engine
// ABOUTME: Every entry point reports ErrUnsupported; nothing is emulated
package capture

func platformSupportsProcessLoopback() error {
	return ErrUnsupported
}

func startCapture(e *Engine, pid uint32) (*Handle, error) {
	return nil, ErrUnsupported
}

// ListAudioProcesses enumerates window-owning processes. Only meaningful on
// Windows; elsewhere it reports ErrUnsupported so callers surface a clear
// message instead of an empty list.
func ListAudioProcesses() ([]ProcessInfo, error) {
	return nil, ErrUnsupported
}

// FindTargetPID looks up the process for exeName. Unsupported off Windows.
func FindTargetPID(exeName string) (uint32, error) {
	return 0, ErrUnsupported
}
