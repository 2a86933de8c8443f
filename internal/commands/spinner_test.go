package commands

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSpinnerLifecycle_StopWithSuccess(t *testing.T) {
	var out bytes.Buffer
	s := newSpinner(&out, "Connecting")
	s.start()
	time.Sleep(120 * time.Millisecond)
	s.stopWithSuccess("done")

	if !strings.Contains(out.String(), "Connecting") {
		t.Errorf("expected a rendered frame, got %q", out.String())
	}
	if !strings.Contains(out.String(), "done") {
		t.Errorf("expected the success message, got %q", out.String())
	}
}

func TestSpinnerLifecycle_StopWithError(t *testing.T) {
	s := newSpinner(io.Discard, "Connecting")
	s.start()
	time.Sleep(30 * time.Millisecond)
	s.stopWithError()
}

func TestSpinner_StopTwice(t *testing.T) {
	s := newSpinner(io.Discard, "Connecting")
	s.start()
	s.stopOnce()
	s.stopWithError()
}
