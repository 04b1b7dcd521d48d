package button

import (
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const debounce = 250 * time.Millisecond

func ms(n int) time.Time { return start.Add(time.Duration(n) * time.Millisecond) }

// baselined returns a detector for buttons a and b, both released.
func baselined(t *testing.T) *Detector {
	t.Helper()
	d := NewDetector(debounce, "a", "b")
	d.Process(ms(0), nil)
	d.Process(ms(250), nil)
	if !d.IsBaselined() {
		t.Fatal("failed to establish baseline")
	}
	return d
}

func TestBaselineEstablishment(t *testing.T) {
	d := NewDetector(debounce, "a")

	if evs := d.Process(ms(0), map[string]bool{"a": true}); len(evs) != 0 {
		t.Errorf("expected no events during baseline, got %v", evs)
	}
	if d.IsBaselined() {
		t.Error("should not be baselined after first sample")
	}
	d.Process(ms(200), map[string]bool{"a": true})
	if d.IsBaselined() {
		t.Error("should not be baselined before debounce period")
	}
	if evs := d.Process(ms(250), map[string]bool{"a": true}); len(evs) != 0 {
		t.Errorf("expected no events at baseline establishment, got %v", evs)
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce period")
	}
	if d.State("a") != event.Pressed {
		t.Errorf("expected a held at startup to be PRESSED, got %s", d.State("a"))
	}
}

func TestBaselineResetOnChange(t *testing.T) {
	d := NewDetector(debounce, "a")

	d.Process(ms(0), map[string]bool{"a": true})
	d.Process(ms(100), map[string]bool{"a": false})
	d.Process(ms(250), map[string]bool{"a": false})
	if d.IsBaselined() {
		t.Error("baseline should restart when the state changes")
	}
	d.Process(ms(350), map[string]bool{"a": false})
	if !d.IsBaselined() {
		t.Error("should be baselined 250ms after the last change")
	}
}

func TestPressAndRelease(t *testing.T) {
	d := baselined(t)

	d.Process(ms(1000), map[string]bool{"a": true})
	evs := d.Process(ms(1250), map[string]bool{"a": true})
	if len(evs) != 1 || evs[0].Name != "a" || evs[0].State != event.Pressed {
		t.Fatalf("expected a PRESSED, got %v", evs)
	}
	if !evs[0].Time.Equal(ms(1250)) {
		t.Errorf("event time: got %v", evs[0].Time)
	}

	d.Process(ms(2000), nil)
	evs = d.Process(ms(2250), nil)
	if len(evs) != 1 || evs[0].State != event.Released {
		t.Fatalf("expected a RELEASED, got %v", evs)
	}
	if d.Presses() != 1 {
		t.Errorf("Presses: got %d, want 1", d.Presses())
	}
}

func TestBounceShorterThanDebounce(t *testing.T) {
	d := baselined(t)

	d.Process(ms(1000), map[string]bool{"a": true})
	d.Process(ms(1100), map[string]bool{"a": false})
	if evs := d.Process(ms(1300), map[string]bool{"a": false}); len(evs) != 0 {
		t.Errorf("expected no events after bounce, got %v", evs)
	}
	if d.State("a") != event.Released {
		t.Errorf("expected a RELEASED after bounce, got %s", d.State("a"))
	}
}

func TestMultipleBounces(t *testing.T) {
	d := baselined(t)

	for i, pressed := range []bool{true, false, true, false, true} {
		if evs := d.Process(ms(1000+i*50), map[string]bool{"a": pressed}); len(evs) != 0 {
			t.Errorf("iteration %d: expected no events during bouncing, got %v", i, evs)
		}
	}
	if evs := d.Process(ms(1250), map[string]bool{"a": true}); len(evs) != 0 {
		t.Errorf("expected no events (debounce timer reset), got %v", evs)
	}
	evs := d.Process(ms(1450), map[string]bool{"a": true})
	if len(evs) != 1 || evs[0].State != event.Pressed {
		t.Fatalf("expected PRESSED after settling, got %v", evs)
	}
}

func TestSimultaneousTransitionsKeepButtonOrder(t *testing.T) {
	d := baselined(t)

	both := map[string]bool{"a": true, "b": true}
	d.Process(ms(1000), both)
	evs := d.Process(ms(1250), both)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %v", evs)
	}
	if evs[0].Name != "a" || evs[1].Name != "b" {
		t.Errorf("expected a before b, got %s then %s", evs[0].Name, evs[1].Name)
	}
}

func TestUnknownButtonState(t *testing.T) {
	d := NewDetector(debounce, "a")
	if d.State("zzz") != "" {
		t.Error("unknown button should have no state")
	}
	if d.State("a") != "" {
		t.Error("state before baseline should be empty")
	}
}
