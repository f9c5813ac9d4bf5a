package privacy

import (
	"math"
	"math/rand"
)

// laplace draws one sample from a zero-centered Laplace distribution with the
// given scale, using the standard inverse-CDF sampler: for u uniform in
// (-0.5, 0.5), the sample is -scale * sign(u) * ln(1 - 2|u|).
func laplace(rng *rand.Rand, scale float64) float64 {
	u := rng.Float64() - 0.5
	return -scale * math.Copysign(math.Log(1-2*math.Abs(u)), u)
}
