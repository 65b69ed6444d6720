package keyboard

import (
	"testing"

	"talkey/internal/domain"
)

func TestTrackerModifierChord(t *testing.T) {
	t.Parallel()

	tracker := newChordTracker()

	chord, ok := tracker.handle(codeLeftCtrl, 1)
	if !ok || chord.Mods != domain.ModCtrl || chord.Key != "" {
		t.Fatalf("unexpected chord after ctrl press: %+v ok=%v", chord, ok)
	}

	chord, _ = tracker.handle(codeLeftShift, 1)
	if chord.Mods != domain.ModCtrl|domain.ModShift {
		t.Fatalf("unexpected chord after shift press: %+v", chord)
	}

	chord, _ = tracker.handle(codeLeftCtrl, 0)
	if chord.Mods != domain.ModShift {
		t.Fatalf("unexpected chord after ctrl release: %+v", chord)
	}

	chord, _ = tracker.handle(codeLeftShift, 0)
	if !chord.IsFullRelease() {
		t.Fatalf("expected full release, got %+v", chord)
	}
}

func TestTrackerLeftAndRightVariantsShareOneBit(t *testing.T) {
	t.Parallel()

	tracker := newChordTracker()
	tracker.handle(codeLeftCtrl, 1)
	chord, _ := tracker.handle(codeRightCtrl, 1)
	if chord.Mods != domain.ModCtrl {
		t.Fatalf("unexpected mods with both ctrls held: %+v", chord)
	}

	// Releasing one variant must keep the bit while the other is held.
	chord, _ = tracker.handle(codeLeftCtrl, 0)
	if chord.Mods != domain.ModCtrl {
		t.Fatalf("bit dropped while right ctrl still held: %+v", chord)
	}

	chord, _ = tracker.handle(codeRightCtrl, 0)
	if chord.Mods != 0 {
		t.Fatalf("expected no mods, got %+v", chord)
	}
}

func TestTrackerReportsNewestHeldKey(t *testing.T) {
	t.Parallel()

	tracker := newChordTracker()
	tracker.handle(codeLeftMeta, 1)

	chord, _ := tracker.handle(30, 1) // a
	if chord.Key != "a" || chord.Mods != domain.ModSuper {
		t.Fatalf("unexpected chord: %+v", chord)
	}

	chord, _ = tracker.handle(31, 1) // s while a still held
	if chord.Key != "s" {
		t.Fatalf("expected newest key, got %+v", chord)
	}

	chord, _ = tracker.handle(31, 0)
	if chord.Key != "a" {
		t.Fatalf("expected fallback to still-held key, got %+v", chord)
	}
}

func TestTrackerIgnoresAutorepeat(t *testing.T) {
	t.Parallel()

	tracker := newChordTracker()
	tracker.handle(codeLeftMeta, 1)

	if _, ok := tracker.handle(codeLeftMeta, 2); ok {
		t.Fatalf("autorepeat should not produce a sample")
	}
}

func TestKeyNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code uint16
		want string
	}{
		{codeEsc, "esc"},
		{57, "space"},
		{47, "v"},
		{68, "f10"},
		{240, "key240"},
	}
	for _, tc := range cases {
		if got := keyName(tc.code); got != tc.want {
			t.Fatalf("keyName(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
