package logging

import "testing"

func TestNewBuildsBothModes(t *testing.T) {
	for _, dev := range []bool{true, false} {
		log, err := New(dev)
		if err != nil {
			t.Fatalf("New(%v): %v", dev, err)
		}
		if log == nil {
			t.Fatalf("New(%v) returned nil logger", dev)
		}
	}
}

func TestOrNopNeverNil(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
