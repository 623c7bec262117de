package service

import (
	"math"
	"testing"
)

func TestComputeReward(t *testing.T) {
	tests := []struct {
		name  string
		stake int64
		cap   int64
		want  int64
	}{
		{"doubled below cap", 3, 10, 6},
		{"doubled hits cap exactly", 5, 10, 10},
		{"capped", 8, 10, 10},
		{"large stake capped", 1_000_000, 10, 10},
		{"zero stake", 0, 10, 0},
		{"negative stake", -5, 10, 0},
		{"zero cap", 5, 0, 0},
		{"overflow falls back to cap", math.MaxInt64, 100, 100},
		{"just over overflow threshold", math.MaxInt64/2 + 1, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeReward(tt.stake, tt.cap); got != tt.want {
				t.Errorf("ComputeReward(%d, %d) = %d, want %d", tt.stake, tt.cap, got, tt.want)
			}
		})
	}
}
