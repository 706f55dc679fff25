package fsrs

import "math"

const (
	minStability  = 0.001
	maxStability  = 36500.0
	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// algo holds the weight vector plus the decay constants derived from it.
type algo struct {
	w      Weights
	decay  float64 // -w20
	factor float64 // 0.9^(1/decay) - 1
}

func newAlgo(w Weights) algo {
	decay := -w[20]
	return algo{w: w, decay: decay, factor: math.Pow(0.9, 1/decay) - 1}
}

// retrievability is the forgetting curve R(t, S) = (1 + F*t/S)^C.
func (a *algo) retrievability(elapsedDays, stability float64) float64 {
	return math.Pow(1+a.factor*elapsedDays/clampS(stability), a.decay)
}

// initStability is S0(G) = w[G-1].
func (a *algo) initStability(r Rating) float64 {
	return clampS(a.w[r-1])
}

// initDifficulty is D0(G) = w4 - e^(w5*(G-1)) + 1.
func (a *algo) initDifficulty(r Rating, clamp bool) float64 {
	d := a.w[4] - math.Exp(a.w[5]*float64(r-1)) + 1
	if clamp {
		return clampD(d)
	}
	return d
}

// nextInterval is the number of days until R decays to the desired retention,
// rounded and clamped to [1, maxIvl].
func (a *algo) nextInterval(stability, desiredRetention float64, maxIvl int) int {
	ivl := stability / a.factor * (math.Pow(desiredRetention, 1/a.decay) - 1)
	days := int(math.Round(ivl))
	return min(max(days, 1), maxIvl)
}

// nextDifficulty applies the linear-damped delta and mean reversion toward D0(Easy).
func (a *algo) nextDifficulty(d float64, r Rating) float64 {
	delta := -a.w[6] * (float64(r) - 3)
	damped := d + (10-d)*delta/9
	return clampD(a.w[7]*a.initDifficulty(Easy, false) + (1-a.w[7])*damped)
}

// shortTermStability handles reviews less than a day apart.
func (a *algo) shortTermStability(s float64, r Rating) float64 {
	inc := math.Exp(a.w[17]*(float64(r)-3+a.w[18])) * math.Pow(s, -a.w[19])
	if r == Good || r == Easy {
		inc = math.Max(inc, 1)
	}
	return clampS(s * inc)
}

// nextStability dispatches to the recall or forget formula.
func (a *algo) nextStability(d, s, retr float64, r Rating) float64 {
	if r == Again {
		return clampS(a.forgetStability(d, s, retr))
	}
	return clampS(a.recallStability(d, s, retr, r))
}

// recallStability: S * (1 + e^w8 * (11-D) * S^-w9 * (e^((1-R)*w10) - 1) * hard * easy).
func (a *algo) recallStability(d, s, retr float64, r Rating) float64 {
	hardPenalty, easyBonus := 1.0, 1.0
	switch r {
	case Hard:
		hardPenalty = a.w[15]
	case Easy:
		easyBonus = a.w[16]
	}
	return s * (1 + math.Exp(a.w[8])*
		(11-d)*
		math.Pow(s, -a.w[9])*
		(math.Exp((1-retr)*a.w[10])-1)*
		hardPenalty*easyBonus)
}

// forgetStability is the post-lapse stability, capped so a lapse never raises S.
func (a *algo) forgetStability(d, s, retr float64) float64 {
	long := a.w[11] *
		math.Pow(d, -a.w[12]) *
		(math.Pow(s+1, a.w[13]) - 1) *
		math.Exp((1-retr)*a.w[14])
	short := s / math.Exp(a.w[17]*a.w[18])
	return math.Min(long, short)
}

func clampS(s float64) float64 {
	if math.IsNaN(s) {
		return minStability
	}
	return math.Min(math.Max(s, minStability), maxStability)
}

func clampD(d float64) float64 {
	if math.IsNaN(d) {
		return minDifficulty
	}
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}

// finite replaces NaN and infinities with zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
