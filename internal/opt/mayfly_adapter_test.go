package opt

import (
	"errors"
	"math"
	"testing"
)

// expDecay returns residuals for y = a*exp(-b*x) + c against noise-free data.
func expDecay(a, b, c float64) (ResidualFunc, int) {
	xs := make([]float64, 12)
	ys := make([]float64, 12)
	for i := range xs {
		xs[i] = float64(i) * 0.5
		ys[i] = a*math.Exp(-b*xs[i]) + c
	}
	return func(dst, p []float64) {
		for i, x := range xs {
			dst[i] = ys[i] - (p[0]*math.Exp(-p[1]*x) + p[2])
		}
	}, len(xs)
}

func TestLevenbergMarquardtRecoversParameters(t *testing.T) {
	f, m := expDecay(3, 0.5, 1)
	solver := NewLevenbergMarquardt(DefaultSettings())

	res, err := solver.Solve(Problem{Residuals: f, M: m, Start: []float64{1, 1, 0}})
	if err != nil {
		t.Fatalf("Solve failed: %v (status %s)", err, res.Status)
	}

	want := []float64{3, 0.5, 1}
	for i, v := range res.X {
		if math.Abs(v-want[i]) > 1e-4 {
			t.Errorf("Parameter %d = %f, expected %f", i, v, want[i])
		}
	}
	if res.RSS > 1e-8 {
		t.Errorf("Expected RSS near 0, got %g", res.RSS)
	}
	if res.Iterations == 0 {
		t.Error("Iterations should be recorded")
	}
}

func TestLevenbergMarquardtRespectsLowerBound(t *testing.T) {
	// Data has slope -2; with a >= 0 the best feasible slope is the bound.
	xs := []float64{1, 2, 3, 4}
	f := func(dst, p []float64) {
		for i, x := range xs {
			dst[i] = -2*x - p[0]*x
		}
	}
	solver := NewLevenbergMarquardt(DefaultSettings())

	res, err := solver.Solve(Problem{Residuals: f, M: len(xs), Start: []float64{5}, Lower: []float64{0}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.X[0] < 0 {
		t.Errorf("Lower bound violated: %f", res.X[0])
	}
	if res.X[0] > 0.05 {
		t.Errorf("Expected parameter near the bound 0, got %f", res.X[0])
	}
}

func TestLevenbergMarquardtNonFiniteStart(t *testing.T) {
	f := func(dst, p []float64) {
		for i := range dst {
			dst[i] = math.NaN()
		}
	}
	solver := NewLevenbergMarquardt(DefaultSettings())

	_, err := solver.Solve(Problem{Residuals: f, M: 3, Start: []float64{1}})
	if !errors.Is(err, ErrNonFinite) {
		t.Errorf("Expected ErrNonFinite, got %v", err)
	}
}

func TestLevenbergMarquardtIterationLimit(t *testing.T) {
	f, m := expDecay(3, 0.5, 1)
	solver := NewLevenbergMarquardt(Settings{MaxIterations: 1, Tolerance: 1e-30})

	_, err := solver.Solve(Problem{Residuals: f, M: m, Start: []float64{1, 2, 0}})
	if !errors.Is(err, ErrIterationLimit) {
		t.Errorf("Expected ErrIterationLimit, got %v", err)
	}
}

func TestNelderMeadOnLinearProblem(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	f := func(dst, p []float64) {
		for i, x := range xs {
			dst[i] = (2*x + 1) - (p[0]*x + p[1])
		}
	}
	solver := NewNelderMead(DefaultSettings())

	res, err := solver.Solve(Problem{Residuals: f, M: len(xs), Start: []float64{0, 0}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if math.Abs(res.X[0]-2) > 1e-3 || math.Abs(res.X[1]-1) > 1e-3 {
		t.Errorf("Expected (2, 1), got %v", res.X)
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	f, m := expDecay(3, 0.5, 1)
	p := Problem{
		Residuals:   f,
		M:           m,
		Start:       []float64{1, 1, 0},
		SearchLower: []float64{0, 0, -5},
		SearchUpper: []float64{10, 5, 5},
	}

	optimizer1 := NewMayfly(Settings{Seed: 123})
	res1, err1 := optimizer1.Solve(p)

	optimizer2 := NewMayfly(Settings{Seed: 123})
	res2, err2 := optimizer2.Solve(p)

	if (err1 == nil) != (err2 == nil) {
		t.Fatalf("Non-deterministic errors: %v vs %v", err1, err2)
	}
	if res1 == nil || res2 == nil {
		t.Fatalf("Expected results, got %v and %v", res1, res2)
	}
	if res1.RSS != res2.RSS {
		t.Errorf("Non-deterministic: rss1=%g, rss2=%g", res1.RSS, res2.RSS)
	}
}

func TestBoxTransformRoundTrip(t *testing.T) {
	tr := newBoxTransform(4,
		[]float64{0, 1, math.Inf(-1), math.Inf(-1)},
		[]float64{10, math.Inf(1), 5, math.Inf(1)},
	)
	x := []float64{3.5, 4, -2, 7}
	u := make([]float64, 4)
	back := make([]float64, 4)

	tr.toInternal(u, x)
	tr.toExternal(back, u)

	for i := range x {
		if math.Abs(back[i]-x[i]) > 1e-9 {
			t.Errorf("Index %d: round trip %f -> %f", i, x[i], back[i])
		}
	}
}

func TestBoxTransformInterior(t *testing.T) {
	tr := newBoxTransform(2, []float64{0, 0}, []float64{1, math.Inf(1)})
	got := tr.interior([]float64{-3, 0})

	if got[0] <= 0 || got[0] >= 1 {
		t.Errorf("Expected first component strictly inside (0, 1), got %f", got[0])
	}
	if got[1] <= 0 {
		t.Errorf("Expected second component above 0, got %f", got[1])
	}
}

func TestNewUnknownSolver(t *testing.T) {
	if _, err := New("simulated-annealing", DefaultSettings()); err == nil {
		t.Error("Expected error for unknown solver")
	}
	for _, name := range []string{"", NameLM, NameMayflyLM, NameNelderMead} {
		s, err := New(name, DefaultSettings())
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if name != "" && s.Name() != name {
			t.Errorf("Expected name %s, got %s", name, s.Name())
		}
	}
}
