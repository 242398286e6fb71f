package core

import (
	"testing"
	"time"
)

func TestFrequencyNext(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		freq Frequency
		want time.Time
	}{
		{Daily, time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)},
		{Weekly, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)},
		{Biweekly, time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)},
		{Monthly, time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			if got := tt.freq.Next(start); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", start, got, tt.want)
			}
		})
	}
}

func TestFrequencyValid(t *testing.T) {
	for _, f := range []Frequency{Daily, Weekly, Biweekly, Monthly} {
		if !f.Valid() {
			t.Errorf("%s should be valid", f)
		}
	}
	if Frequency("yearly").Valid() {
		t.Error("yearly should not be valid")
	}
	if Frequency("").Valid() {
		t.Error("empty frequency should not be valid")
	}
}
