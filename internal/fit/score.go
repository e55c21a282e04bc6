package fit

import "math"

// Criterion names reported in Info.
const (
	CriterionAIC  = "AIC"
	CriterionAICc = "AICc"
)

// CriterionName returns the criterion label for the corrected flag.
func CriterionName(corrected bool) string {
	if corrected {
		return CriterionAICc
	}
	return CriterionAIC
}

// Score returns the information criterion for a fit with residual sum of
// squares rss, k free parameters and n observations. Lower is better.
//
//	AIC  = n*ln(rss/n) + 2k
//	AICc = AIC + 2k(k+1)/(n-k-1)
//
// The result is +Inf when n-k-1 <= 0 or rss is not positive and finite, so
// degenerate fits can never become the incumbent.
func Score(rss float64, k, n int, corrected bool) float64 {
	if n-k-1 <= 0 || n <= 0 {
		return math.Inf(1)
	}
	if !(rss > 0) || math.IsInf(rss, 0) {
		return math.Inf(1)
	}
	nf, kf := float64(n), float64(k)
	aic := nf*math.Log(rss/nf) + 2*kf
	if !corrected {
		return aic
	}
	return aic + 2*kf*(kf+1)/(nf-kf-1)
}
