/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats byte counts in binary units, so the default
// avatar limit of 2<<20 reads as "2.0 MiB".
func humanReadableSize(bytes int64) string {
	const unit int64 = 1 << 10

	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes)
	suffix := -1
	for value >= float64(unit) && suffix < len("KMGTPE")-1 {
		value /= float64(unit)
		suffix++
	}

	return fmt.Sprintf("%.1f %ciB", value, "KMGTPE"[suffix])
}
