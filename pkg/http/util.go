package http

import (
	"time"

	xutil "StockSense/pkg/util"
)

// ParseTime accepts a calendar date, RFC3339 (with or without nanos) or unix
// seconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
