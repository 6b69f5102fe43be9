package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent int
		want    bool
	}{
		{0, true},
		{5, false},
		{10, true},
		{14, false},
		{45, true},
		{40, false},
		{99, true},
		{100, true},
		{100, false},
	}
	for _, step := range steps {
		if got := s.ShouldLog(step.percent); got != step.want {
			t.Fatalf("ShouldLog(%d) = %v, want %v", step.percent, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog(0) {
		t.Fatal("expected log after reset")
	}
}

func TestProgressSamplerNilAndNegative(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50) {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
	if NewProgressSampler(0).ShouldLog(-1) {
		t.Fatal("negative percent should not log")
	}
}
