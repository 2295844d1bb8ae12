package arbitrage

import "time"

// riskScore implements spec.md §4.H step 6: age of listings (max 30
// points, 1 per hour) + price bucket (20/10/5 for >1000/>500/>100) +
// serial-number rarity (15/10/5 for ≤10/≤100/≤1000), capped at 100.
func riskScore(listingAge time.Duration, price float64, serial int) float64 {
	score := ageRiskPoints(listingAge) + priceBucketPoints(price) + serialRarityPoints(serial)
	if score > 100 {
		score = 100
	}
	return score
}

func ageRiskPoints(age time.Duration) float64 {
	hours := age.Hours()
	if hours > 30 {
		return 30
	}
	if hours < 0 {
		return 0
	}
	return hours
}

func priceBucketPoints(price float64) float64 {
	switch {
	case price > 1000:
		return 20
	case price > 500:
		return 10
	case price > 100:
		return 5
	default:
		return 0
	}
}

func serialRarityPoints(serial int) float64 {
	switch {
	case serial <= 0:
		return 0
	case serial <= 10:
		return 15
	case serial <= 100:
		return 10
	case serial <= 1000:
		return 5
	default:
		return 0
	}
}

// confidence implements spec.md §4.H step 7: base 0.5 plus pct*2 (capped
// at 30), an age bonus/penalty, and a same-serial bonus, clamped to
// [0,1].
func confidence(pct float64, sourceAge time.Duration, sameSerial bool) float64 {
	c := 0.5

	pctBonus := pct * 2
	if pctBonus > 30 {
		pctBonus = 30
	}
	c += pctBonus / 100

	switch {
	case sourceAge < time.Hour:
		c += 0.15
	case sourceAge < 6*time.Hour:
		c += 0.10
	case sourceAge < 24*time.Hour:
		c += 0.05
	default:
		c -= 0.10
	}

	if sameSerial {
		c += 0.20
	}

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// executionRisk implements spec.md §4.H step 8.
func executionRisk(price, pct float64, venueExecutionRisk float64) ExecutionRisk {
	return ExecutionRisk{
		Liquidity:     20 + priceBucketPoints(price),
		PriceMovement: priceMovementPoints(pct),
		ExecutionTime: venueExecutionRisk,
	}
}

// priceMovementPoints buckets the profit percentage into the 80/60/40/20/10
// risk ladder spec.md §4.H step 8 names without giving explicit cut points;
// wider percentage gaps are treated as more likely to be stale/mispriced
// data and therefore riskier.
func priceMovementPoints(pct float64) float64 {
	switch {
	case pct > 50:
		return 80
	case pct > 20:
		return 60
	case pct > 10:
		return 40
	case pct > 5:
		return 20
	default:
		return 10
	}
}
