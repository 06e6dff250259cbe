package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewJobIDFormat(t *testing.T) {
	id := NewJobID()
	if !crockfordBase32.MatchString(id.String()) {
		t.Errorf("NewJobID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewJobIDUniqueness(t *testing.T) {
	seen := make(map[JobID]bool)
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("NewJobID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestInstanceIDRoundTrip(t *testing.T) {
	id := NewInstanceID()
	if id == 0 {
		t.Fatal("NewInstanceID() returned zero")
	}
	got, err := ParseInstanceID(id.String())
	if err != nil {
		t.Fatalf("ParseInstanceID: %v", err)
	}
	if got != id {
		t.Errorf("ParseInstanceID(%q) = %d, want %d", id.String(), got, id)
	}
	if _, err := ParseInstanceID("not-a-number"); err == nil {
		t.Error("expected error for non-numeric instance id")
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusReaped, true},
		{StatusCancelled, StatusReaped, true},
		{StatusFailed, StatusReaped, true},
		{StatusCompleted, StatusRunning, false},
		{StatusReaped, StatusPending, false},
		{"bogus", StatusRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusCancelled, StatusFailed, StatusReaped} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatusPending, StatusRunning} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestParamFromHost(t *testing.T) {
	tests := []struct {
		index int32
		want  ParamIdx
	}{
		{1, Named(ParamScriptGroupStart)},
		{15, Named(ParamStartRender)},
		{16, Named(ParamCancelRender)},
		{19, Named(ParamParametersEnd)},
		{20, Dynamic(20)},
		{255, Dynamic(255)},
		{0, Dynamic(0)},
	}
	for _, tt := range tests {
		got := ParamFromHost(tt.index)
		if got != tt.want {
			t.Errorf("ParamFromHost(%d) = %+v, want %+v", tt.index, got, tt.want)
		}
		if got.HostIndex() != tt.index {
			t.Errorf("ParamFromHost(%d).HostIndex() = %d", tt.index, got.HostIndex())
		}
	}
}

func TestParamIdxText(t *testing.T) {
	for _, p := range []ParamIdx{Named(ParamShowDebug), Dynamic(42)} {
		b, err := p.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", p, err)
		}
		var got ParamIdx
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != p {
			t.Errorf("text round trip = %+v, want %+v", got, p)
		}
	}
	if Named(ParamStartRender).String() != "start_render" {
		t.Errorf("String() = %q", Named(ParamStartRender).String())
	}
	if Dynamic(30).String() != "dynamic(30)" {
		t.Errorf("String() = %q", Dynamic(30).String())
	}
}
