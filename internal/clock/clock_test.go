// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"
)

func TestFake_SetAndAdvance(t *testing.T) {
	start := time.Date(2023, 11, 5, 14, 30, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", f.Now(), start)
	}
	f.Advance(time.Minute)
	if want := start.Add(time.Minute); !f.Now().Equal(want) {
		t.Fatalf("after Advance Now() = %v, want %v", f.Now(), want)
	}
	f.Set(start.Add(-time.Hour))
	if want := start.Add(-time.Hour); !f.Now().Equal(want) {
		t.Fatalf("after Set Now() = %v, want %v", f.Now(), want)
	}
}

func TestFunc(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	c := Func(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Fatalf("Func.Now() = %v", c.Now())
	}
}
