package http

import (
	"time"

	xutil "PriceSheet/pkg/util"
)

// ParseTimeDefault parses an RFC3339 or unix-seconds query value, falling
// back to def.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
