// Package aggregator fuses validated updates for one feed into a
// weighted-median price with a time-decayed confidence and a consensus
// score.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// Config holds the aggregator's tunable parameters.
type Config struct {
	MaxStaleness   time.Duration
	TimeDecayFactor float64
	MinSources     int
	// Epsilon is the relative distance from the weighted median a price must
	// fall within to count toward the output confidence's numerator.
	Epsilon float64
}

// DefaultConfig returns the aggregator's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxStaleness:    5 * time.Second,
		TimeDecayFactor: 0.1,
		MinSources:      2,
		Epsilon:         0.002,
	}
}

// weighted is one surviving update reduced to the two quantities the
// algorithm needs.
type weighted struct {
	price  float64
	weight float64
	source string
}

// Aggregate fuses updates (already validated) for one symbol into an
// AggregatedPrice. now is injected so callers control the staleness clock.
func Aggregate(symbol string, updates []domain.PriceUpdate, cfg Config, now time.Time) (domain.AggregatedPrice, error) {
	survivors := make([]weighted, 0, len(updates))
	sourceSet := make(map[string]bool)

	for _, u := range updates {
		ts := time.UnixMilli(u.TimestampMs)
		age := now.Sub(ts)
		if age < 0 {
			age = 0
		}
		if age > cfg.MaxStaleness {
			continue
		}
		ageSec := age.Seconds()
		w := u.Confidence * math.Exp(-cfg.TimeDecayFactor*ageSec)
		survivors = append(survivors, weighted{price: u.Price, weight: w, source: u.Source})
		sourceSet[u.Source] = true
	}

	if len(sourceSet) < cfg.MinSources {
		return domain.AggregatedPrice{}, domain.NewError(domain.KindInsufficientSources, "aggregator.Aggregate", domain.ErrInsufficientSources)
	}

	median := weightedMedian(survivors)
	mad := weightedMAD(survivors, median)

	consensus := 1.0
	if median != 0 {
		consensus = 1 - mad/math.Abs(median)
	}
	consensus = clamp01(consensus)

	var numerator, denominator float64
	for _, s := range survivors {
		denominator += s.weight
		if median != 0 && math.Abs(s.price-median)/math.Abs(median) <= cfg.Epsilon {
			numerator += s.weight
		} else if median == 0 && s.price == median {
			numerator += s.weight
		}
	}
	confidence := 0.0
	if denominator > 0 {
		confidence = clamp01(numerator / denominator)
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	return domain.AggregatedPrice{
		Symbol:         symbol,
		Price:          median,
		TimestampMs:    now.UnixMilli(),
		Sources:        sources,
		Confidence:     confidence,
		ConsensusScore: consensus,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// groupByPrice merges weights of updates reporting an identical price,
// per the tie-break rule, and returns the groups sorted by price.
func groupByPrice(items []weighted) []weighted {
	byPrice := make(map[float64]float64, len(items))
	for _, it := range items {
		byPrice[it.price] += it.weight
	}
	grouped := make([]weighted, 0, len(byPrice))
	for price, weight := range byPrice {
		grouped = append(grouped, weighted{price: price, weight: weight})
	}
	sort.Slice(grouped, func(i, j int) bool { return grouped[i].price < grouped[j].price })
	return grouped
}

// weightedMedian computes the weighted median with linear interpolation at
// the 50th percentile of the cumulative weight distribution. Each point's
// probability mass is centered at the midpoint of its weight contribution,
// so the resulting CDF is piecewise-linear and has a well-defined inverse
// even for an even total weight split.
func weightedMedian(items []weighted) float64 {
	grouped := groupByPrice(items)
	if len(grouped) == 0 {
		return 0
	}
	if len(grouped) == 1 {
		return grouped[0].price
	}

	total := 0.0
	for _, g := range grouped {
		total += g.weight
	}
	if total == 0 {
		// All-zero weights: fall back to the plain median of distinct prices.
		return grouped[len(grouped)/2].price
	}

	type point struct {
		price float64
		cdf   float64
	}
	points := make([]point, len(grouped))
	cumBefore := 0.0
	for i, g := range grouped {
		mid := cumBefore + g.weight/2
		points[i] = point{price: g.price, cdf: mid / total}
		cumBefore += g.weight
	}

	if 0.5 <= points[0].cdf {
		return points[0].price
	}
	if 0.5 >= points[len(points)-1].cdf {
		return points[len(points)-1].price
	}

	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		if a.cdf <= 0.5 && 0.5 <= b.cdf {
			if b.cdf == a.cdf {
				return a.price
			}
			frac := (0.5 - a.cdf) / (b.cdf - a.cdf)
			return a.price + frac*(b.price-a.price)
		}
	}
	return points[len(points)-1].price
}

// weightedMAD computes the weighted median of |price_i - center| using the
// same weighted-median machinery, keeping the deviation statistic on the
// same footing as the price statistic it's measuring dispersion around.
func weightedMAD(items []weighted, center float64) float64 {
	deviations := make([]weighted, len(items))
	for i, it := range items {
		deviations[i] = weighted{price: math.Abs(it.price - center), weight: it.weight}
	}
	return weightedMedian(deviations)
}
