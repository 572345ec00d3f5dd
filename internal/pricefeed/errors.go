package pricefeed

import "fmt"

// OutOfLookbackError reports a historical request preceding the feed's
// retained window.
type OutOfLookbackError struct {
	Feed     string
	Time     int64
	Earliest int64
}

func (e *OutOfLookbackError) Error() string {
	return fmt.Sprintf("%s: time %d precedes lookback window starting at %d", e.Feed, e.Time, e.Earliest)
}

// NoDataError reports that no valid sample could be produced for an
// otherwise valid request.
type NoDataError struct {
	Feed string
	Time int64
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("%s: no price available @ time %d", e.Feed, e.Time)
}
