package biomarkers

import "testing"

func TestComputeFlag(t *testing.T) {
	reg := mustLoad(t)

	cases := []struct {
		key   string
		value float64
		want  string
	}{
		{"ldl", 60, FlagOptimal},
		{"ldl", 85, FlagNormal},
		{"ldl", 130, FlagHigh},
		{"hdl", 65, FlagOptimal},
		{"hdl", 45, FlagNormal},
		{"hdl", 30, FlagLow},
		{"glucose", 85, FlagOptimal},
		{"glucose", 95, FlagNormal},
		{"glucose", 120, FlagHigh},
		{"glucose", 55, FlagLow},
	}
	for _, tc := range cases {
		if got := reg.ComputeFlag(tc.key, tc.value); got != tc.want {
			t.Fatalf("ComputeFlag(%s, %v) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}

	if got := reg.ComputeFlag("unknown_key", 1); got != "" {
		t.Fatalf("expected empty flag for unknown key, got %q", got)
	}
}

// Sweeping a value monotonically away from the optimal point must walk
// optimal -> normal -> high without ever stepping backward.
func TestComputeFlagMonotonic(t *testing.T) {
	reg := mustLoad(t)

	rank := map[string]int{FlagOptimal: 0, FlagNormal: 1, FlagHigh: 2, FlagLow: 2}
	prev := -1
	for v := 85.0; v <= 140.0; v += 0.5 {
		flag := reg.ComputeFlag("glucose", v)
		if rank[flag] < prev {
			t.Fatalf("flag regressed at %v: %q", v, flag)
		}
		prev = rank[flag]
	}
}

func TestOptimalScore(t *testing.T) {
	reg := mustLoad(t)

	if s := reg.OptimalScore("glucose", 85); s != 1.0 {
		t.Fatalf("score at optimal point = %v, want 1.0", s)
	}
	// Halfway between optimal point (85) and ref high (99) -> 0.5.
	if s := reg.OptimalScore("glucose", 92); s < 0.49 || s > 0.51 {
		t.Fatalf("score at midpoint = %v, want ~0.5", s)
	}
	if s := reg.OptimalScore("glucose", 99); s > 0.01 {
		t.Fatalf("score at ref boundary = %v, want ~0", s)
	}
	if s := reg.OptimalScore("glucose", 130); s != 0 {
		t.Fatalf("score outside range = %v, want 0", s)
	}
	if s := reg.OptimalScore("unknown_key", 5); s != 0 {
		t.Fatalf("score for unknown key = %v, want 0", s)
	}
}

func TestOptimalScoreMonotoneDecay(t *testing.T) {
	reg := mustLoad(t)
	prev := 2.0
	for v := 85.0; v <= 110; v += 1.0 {
		s := reg.OptimalScore("glucose", v)
		if s > prev {
			t.Fatalf("score increased moving away from optimal at %v: %v > %v", v, s, prev)
		}
		prev = s
	}
}

func TestMatchConfidence(t *testing.T) {
	reg := mustLoad(t)
	if c := reg.MatchConfidence("ldl", "ldl"); c != 1.0 {
		t.Fatalf("exact match confidence = %v", c)
	}
	if c := reg.MatchConfidence("Cholesterol, LDL", "ldl"); c != 1.0 {
		t.Fatalf("alias match confidence = %v", c)
	}
	if c := reg.MatchConfidence("LDL CHOL CALC (NIH)", "ldl"); c != 0.85 {
		t.Fatalf("token match confidence = %v", c)
	}
	if c := reg.MatchConfidence("mystery marker", ""); c != 0.3 {
		t.Fatalf("unmatched confidence = %v", c)
	}
}
