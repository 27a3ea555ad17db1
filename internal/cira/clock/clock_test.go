package clock

import (
	"testing"
	"time"
)

func TestRealNowIsCloseToWallClock(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Fatalf("Real.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestRealNowUTCIsUTC(t *testing.T) {
	if got := (Real{}).NowUTC(); got.Location() != time.UTC {
		t.Fatalf("NowUTC() location = %v, want UTC", got.Location())
	}
}

func TestFakeIsPinnedUntilAdvanced(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("second Now() call = %v, want unchanged %v", got, start)
	}
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(time.Hour)
	want := start.Add(time.Hour)
	if got := f.Now(); !got.Equal(want) {
		t.Fatalf("after Advance(1h), Now() = %v, want %v", got, want)
	}
}

func TestFakeSet(t *testing.T) {
	f := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	want := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	f.Set(want)
	if got := f.Now(); !got.Equal(want) {
		t.Fatalf("after Set, Now() = %v, want %v", got, want)
	}
}

func TestFakeNowUTCConvertsNonUTCLocation(t *testing.T) {
	loc := time.FixedZone("TEST", 3600)
	f := NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, loc))
	if got := f.NowUTC(); got.Location() != time.UTC {
		t.Fatalf("NowUTC() location = %v, want UTC", got.Location())
	}
}
