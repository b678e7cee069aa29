package models

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusTimeout, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusError, StatusCompleted, false},
		{StatusTimeout, StatusError, false},
		{TaskStatus("queued"), StatusRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []TaskStatus{StatusCompleted, StatusError, StatusTimeout} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
