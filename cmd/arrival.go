package cmd

import "math/rand"

// poissonArrivals samples a Poisson arrival process (exponential
// inter-arrival times, rate in requests per microsecond) from rng, returning
// inter-arrival times in microseconds until either their cumulative sum
// reaches horizonUs or maxJobs arrivals have been drawn, whichever comes
// first.
func poissonArrivals(rng *rand.Rand, rateUs float64, horizonUs int64, maxJobs int) []int64 {
	if rateUs <= 0 {
		rateUs = 1e-9
	}
	var iats []int64
	var elapsed int64
	for len(iats) < maxJobs {
		iat := int64(rng.ExpFloat64() / rateUs)
		if iat < 1 {
			iat = 1
		}
		if elapsed+iat > horizonUs {
			break
		}
		elapsed += iat
		iats = append(iats, iat)
	}
	return iats
}
