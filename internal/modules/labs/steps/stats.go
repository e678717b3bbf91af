package steps

import "math"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleVariance is the unbiased (n-1) estimator.
func sampleVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs)-1)
}

func weightedMean(xs, ws []float64) (float64, float64) {
	var sum, wsum float64
	for i, x := range xs {
		sum += ws[i] * x
		wsum += ws[i]
	}
	if wsum == 0 {
		return 0, 0
	}
	return sum / wsum, wsum
}

// weightedVariance returns the frequency-weighted unbiased variance together
// with the effective sample size (Kish).
func weightedVariance(xs, ws []float64) (float64, float64) {
	m, wsum := weightedMean(xs, ws)
	if wsum == 0 {
		return 0, 0
	}
	var ss, w2 float64
	for i, x := range xs {
		d := x - m
		ss += ws[i] * d * d
		w2 += ws[i] * ws[i]
	}
	neff := wsum * wsum / w2
	if neff <= 1 {
		return 0, neff
	}
	return ss / wsum * neff / (neff - 1), neff
}

type welchResult struct {
	T      float64
	DF     float64
	P      float64
	SE     float64
	CILow  float64 // 95% CI on the mean difference (post - pre)
	CIHigh float64
}

// welchTTest runs the unequal-variance, unequal-sample-size t-test on the
// difference of means (post - pre), with the Welch-Satterthwaite degrees of
// freedom. Sample sizes may be fractional (effective sizes from confound
// weighting).
func welchTTest(preMean, preVar, preN, postMean, postVar, postN float64) welchResult {
	se2 := preVar/preN + postVar/postN
	diff := postMean - preMean
	if se2 <= 0 {
		// Degenerate zero-variance segments: a nonzero shift is exact.
		p := 1.0
		if diff != 0 {
			p = 0
		}
		return welchResult{T: math.Inf(sign(diff)), DF: preN + postN - 2, P: p, CILow: diff, CIHigh: diff}
	}
	se := math.Sqrt(se2)
	t := diff / se

	num := se2 * se2
	den := (preVar/preN)*(preVar/preN)/(preN-1) + (postVar/postN)*(postVar/postN)/(postN-1)
	df := preN + postN - 2
	if den > 0 {
		df = num / den
	}
	if df < 1 {
		df = 1
	}

	p := twoSidedTPValue(t, df)
	crit := tCritical(df, 0.975)
	return welchResult{
		T: t, DF: df, P: p, SE: se,
		CILow:  diff - crit*se,
		CIHigh: diff + crit*se,
	}
}

// cohenD is the standardized mean difference with pooled standard deviation.
func cohenD(preMean, preVar, preN, postMean, postVar, postN float64) float64 {
	if preN < 2 || postN < 2 {
		return 0
	}
	pooled := ((preN-1)*preVar + (postN-1)*postVar) / (preN + postN - 2)
	if pooled <= 0 {
		if postMean == preMean {
			return 0
		}
		return math.Inf(sign(postMean - preMean))
	}
	return (postMean - preMean) / math.Sqrt(pooled)
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

// twoSidedTPValue computes P(|T_df| >= |t|) through the regularized
// incomplete beta function.
func twoSidedTPValue(t, df float64) float64 {
	if math.IsInf(t, 0) {
		return 0
	}
	x := df / (df + t*t)
	return regIncompleteBeta(df/2, 0.5, x)
}

// studentTCDF is the cumulative distribution of Student's t.
func studentTCDF(t, df float64) float64 {
	p := twoSidedTPValue(t, df) / 2
	if t >= 0 {
		return 1 - p
	}
	return p
}

// tCritical inverts the t CDF by bisection; quantile in (0.5, 1).
func tCritical(df, quantile float64) float64 {
	lo, hi := 0.0, 200.0
	for i := 0; i < 80; i++ {
		mid := (lo + hi) / 2
		if studentTCDF(mid, df) < quantile {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// regIncompleteBeta computes I_x(a, b) via the standard continued-fraction
// expansion (Lentz), switching tails for convergence.
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lbeta, _ := math.Lgamma(a + b)
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	front := math.Exp(lbeta - la - lb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 300
		eps     = 3e-14
		fpmin   = 1e-300
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c
		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

// linearFit returns slope and intercept of the least-squares line y = a + b*x.
func linearFit(xs, ys []float64) (slope, intercept float64, ok bool) {
	n := float64(len(xs))
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 || n < 2 {
		return 0, my, false
	}
	slope = sxy / sxx
	return slope, my - slope*mx, true
}
