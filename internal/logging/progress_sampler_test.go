package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "download", true},
		{10, "download", false},
		{24.9, "download", false},
		{25, "download", true},
		{60, "download", true},
		{70, "download", false},
		{100, "download", true},
		{150, "download", false},
		{5, "verify", true},
		{-1, "verify", false},
		{-1, "finalize", true},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d (%v, %q): got %v want %v", i, step.percent, step.phase, got, step.want)
		}
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(1, "x") {
		t.Fatal("nil sampler should log")
	}
}
