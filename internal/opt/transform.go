package opt

import "math"

// boxTransform maps unconstrained internal variables u onto bounded external
// parameters x, using the sine transform for two-sided bounds and the
// square-root transform for one-sided bounds.
type boxTransform struct {
	lower, upper []float64
}

func newBoxTransform(dim int, lower, upper []float64) boxTransform {
	t := boxTransform{
		lower: make([]float64, dim),
		upper: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		t.lower[i] = math.Inf(-1)
		t.upper[i] = math.Inf(1)
		if i < len(lower) {
			t.lower[i] = lower[i]
		}
		if i < len(upper) {
			t.upper[i] = upper[i]
		}
	}
	return t
}

// toExternal writes x = f(u) into dst.
func (t boxTransform) toExternal(dst, u []float64) {
	for i, v := range u {
		lo, hi := t.lower[i], t.upper[i]
		loFinite, hiFinite := !math.IsInf(lo, 0), !math.IsInf(hi, 0)
		switch {
		case loFinite && hiFinite:
			dst[i] = lo + (hi-lo)*(math.Sin(v)+1)/2
		case loFinite:
			dst[i] = lo - 1 + math.Sqrt(v*v+1)
		case hiFinite:
			dst[i] = hi + 1 - math.Sqrt(v*v+1)
		default:
			dst[i] = v
		}
	}
}

// toInternal writes u = f⁻¹(clamp(x)) into dst.
func (t boxTransform) toInternal(dst, x []float64) {
	for i, v := range x {
		lo, hi := t.lower[i], t.upper[i]
		v = clamp(v, lo, hi)
		loFinite, hiFinite := !math.IsInf(lo, 0), !math.IsInf(hi, 0)
		switch {
		case loFinite && hiFinite:
			if hi == lo {
				dst[i] = 0
				continue
			}
			dst[i] = math.Asin(clamp(2*(v-lo)/(hi-lo)-1, -1, 1))
		case loFinite:
			d := v - lo + 1
			dst[i] = math.Sqrt(d*d - 1)
		case hiFinite:
			d := hi - v + 1
			dst[i] = math.Sqrt(d*d - 1)
		default:
			dst[i] = v
		}
	}
}

// wrap returns residuals as a function of the internal variables.
func (t boxTransform) wrap(f ResidualFunc) ResidualFunc {
	var x []float64
	return func(dst, u []float64) {
		if len(x) != len(u) {
			x = make([]float64, len(u))
		}
		t.toExternal(x, u)
		f(dst, x)
	}
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}

// interior returns a copy of x clamped into the box and pulled slightly away
// from any active bound, where the transforms have zero slope.
func (t boxTransform) interior(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		lo, hi := t.lower[i], t.upper[i]
		v = clamp(v, lo, hi)
		if !math.IsInf(lo, 0) {
			eps := 1e-6 * (1 + math.Abs(lo))
			if !math.IsInf(hi, 0) {
				eps = math.Min(eps, (hi-lo)/4)
			}
			if v-lo < eps {
				v = lo + eps
			}
		}
		if !math.IsInf(hi, 0) {
			eps := 1e-6 * (1 + math.Abs(hi))
			if !math.IsInf(lo, 0) {
				eps = math.Min(eps, (hi-lo)/4)
			}
			if hi-v < eps {
				v = hi - eps
			}
		}
		out[i] = v
	}
	return out
}
