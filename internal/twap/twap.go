// Package twap computes time-weighted average prices over sorted
// sample series. Every TWAP-based feed funnels through Compute, so its
// weighting rules are the load-bearing numeric contract of the module.
package twap

import "math/big"

// Sample is one observation in a price series. Series are ordered by
// timestamp, non-decreasing; duplicate timestamps are allowed and
// resolved last-wins by the weighting below (an older sample at the
// same instant carries zero duration).
type Sample struct {
	Timestamp int64
	Price     *big.Int
}

// Compute returns the average of the series over [start, end], each
// price weighted by how long it remained the most recent observation
// within the window. A sample predating start is weighted from start;
// the final sample extends flat to end. Samples with nil prices are
// skipped. When no sample overlaps the window the caller-supplied def
// is returned (nil def means "no data").
func Compute(samples []Sample, start, end int64, def *big.Int) *big.Int {
	sum := new(big.Int)
	var weight int64
	var lastPrice *big.Int
	var lastTime int64

	accumulate := func(price *big.Int, from, to int64) {
		if from < start {
			from = start
		}
		if to > end {
			to = end
		}
		if to <= from {
			return
		}
		d := to - from
		sum.Add(sum, new(big.Int).Mul(price, big.NewInt(d)))
		weight += d
	}

	for _, s := range samples {
		if s.Price == nil {
			continue
		}
		if lastPrice != nil {
			accumulate(lastPrice, lastTime, s.Timestamp)
		}
		lastPrice, lastTime = s.Price, s.Timestamp
	}
	if lastPrice != nil {
		accumulate(lastPrice, lastTime, end)
	}

	if weight == 0 {
		if def == nil {
			return nil
		}
		return new(big.Int).Set(def)
	}
	return sum.Quo(sum, big.NewInt(weight))
}
