package windowing

import (
	"testing"
	"time"
)

func TestNewTracker_AlignsFirstWindow(t *testing.T) {
	now := time.Unix(1_000_123, 0)
	tracker := NewTracker(300*time.Second, now)

	state := tracker.State()
	if state.StartEpoch != 1_000_123-1_000_123%300 {
		t.Errorf("Expected aligned start, got %d", state.StartEpoch)
	}
	if state.StartEpoch%state.DurationSeconds != 0 {
		t.Errorf("Start %d is not a multiple of %d", state.StartEpoch, state.DurationSeconds)
	}
}

func TestNewTracker_DefaultDuration(t *testing.T) {
	tracker := NewTracker(0, time.Unix(600, 0))
	if got := tracker.State().DurationSeconds; got != 300 {
		t.Errorf("Expected default duration of 300s, got %d", got)
	}
}

func TestTracker_HasElapsed(t *testing.T) {
	tracker := NewTracker(300*time.Second, time.Unix(3000, 0))

	if tracker.HasElapsed(time.Unix(3299, 0)) {
		t.Error("Window should not have elapsed one second before its end")
	}
	if !tracker.HasElapsed(time.Unix(3300, 0)) {
		t.Error("Window should have elapsed exactly at its end")
	}
}

func TestTracker_AdvanceDriftsFromFlushTime(t *testing.T) {
	tracker := NewTracker(300*time.Second, time.Unix(3000, 0))
	tracker.Add("/a.jpg")

	flushAt := time.Unix(3457, 0)
	tracker.Advance(flushAt)

	state := tracker.State()
	if state.StartEpoch != 3457 {
		t.Errorf("Expected start to move to the flush time, got %d", state.StartEpoch)
	}
	if len(state.Files) != 0 {
		t.Errorf("Expected files to be cleared, got %v", state.Files)
	}
	if tracker.HasElapsed(time.Unix(3457+299, 0)) {
		t.Error("New window should last a full duration from the flush time")
	}
}

func TestTracker_AddIsOncePerWindow(t *testing.T) {
	tracker := NewTracker(300*time.Second, time.Unix(0, 0))

	if !tracker.Add("/x/1.jpg") {
		t.Error("First add should report a new file")
	}
	if tracker.Add("/x/1.jpg") {
		t.Error("Second add of the same path should be ignored")
	}
	tracker.Add("/x/2.jpg")

	files := tracker.Files()
	if len(files) != 2 || files[0] != "/x/1.jpg" || files[1] != "/x/2.jpg" {
		t.Errorf("Unexpected files %v", files)
	}

	tracker.Advance(time.Unix(400, 0))
	if !tracker.Add("/x/1.jpg") {
		t.Error("A path may appear again in the next window")
	}
}

func TestTracker_FilesReturnsCopy(t *testing.T) {
	tracker := NewTracker(300*time.Second, time.Unix(0, 0))
	tracker.Add("/a")

	files := tracker.Files()
	files[0] = "/mutated"

	if tracker.Files()[0] != "/a" {
		t.Error("Files() must not expose internal state")
	}
}

func TestTracker_AdvanceNeverReusesMinute(t *testing.T) {
	// window starts at 3000 (minute 50), forced flush 42s later
	tracker := NewTracker(300*time.Second, time.Unix(3042, 0))
	tracker.Add("/a.jpg")

	tracker.Advance(time.Unix(3042, 0))

	if got := tracker.Start().Unix(); got != 3060 {
		t.Errorf("Expected next window to start at the following minute 3060, got %d", got)
	}
	if len(tracker.Files()) != 0 {
		t.Errorf("Expected files to be cleared, got %v", tracker.Files())
	}
}

func TestTracker_PostponeKeepsFiles(t *testing.T) {
	tracker := NewTracker(300*time.Second, time.Unix(3000, 0))
	tracker.Add("/a.jpg")

	if got := tracker.Postpone().Unix(); got != 3060 {
		t.Errorf("Expected postponed start 3060, got %d", got)
	}
	if got := tracker.Postpone().Unix(); got != 3120 {
		t.Errorf("Expected second postpone to 3120, got %d", got)
	}
	if files := tracker.Files(); len(files) != 1 || files[0] != "/a.jpg" {
		t.Errorf("Expected files kept, got %v", files)
	}
}
