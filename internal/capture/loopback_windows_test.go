//go:build windows

// ABOUTME: Tests for the activation completion-handler registry
package capture

import "testing"

func TestHandlerRetainedAcrossAbandonedWait(t *testing.T) {
	h := newCompletionHandler(nil)
	this := retainHandler(h)

	// Nothing removes the handler when the activation wait gives up, so a
	// completion arriving afterward must still find it registered.
	handlerMu.Lock()
	_, alive := liveHandlers[this]
	handlerMu.Unlock()
	if !alive {
		t.Fatal("handler not registered after retain")
	}

	if got := releaseHandler(this); got != h {
		t.Fatalf("releaseHandler returned %p, want %p", got, h)
	}
	// A duplicate completion is a no-op, not a double close.
	if got := releaseHandler(this); got != nil {
		t.Errorf("second releaseHandler returned %p, want nil", got)
	}
}

func TestHandlerSignalClosedOnce(t *testing.T) {
	h := newCompletionHandler(nil)
	this := retainHandler(h)

	if got := releaseHandler(this); got != nil {
		close(got.sig)
	}
	select {
	case <-h.sig:
	default:
		t.Fatal("sig not closed after completion")
	}
	if got := releaseHandler(this); got != nil {
		t.Error("handler still registered after completion")
	}
}
