package config

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrLimitExceeded is returned when a selection would push a queue past its configured bounds
var ErrLimitExceeded = errors.New("queue limit exceeded")

// Limits bounds a queue. Zero values mean unbounded.
type Limits struct {
	MaxItems      int   `toml:"max_items"`
	MaxTotalBytes int64 `toml:"max_total_bytes"`
}

// Check reports whether adding the incoming sizes to a queue that currently holds
// existingItems items totalling existingBytes stays within the limits.
// When replace is true the existing items are discarded by the selection.
func (l Limits) Check(existingItems int, existingBytes int64, incoming []int64, replace bool) error {
	if replace {
		existingItems, existingBytes = 0, 0
	}
	items := existingItems + len(incoming)
	total := existingBytes
	for _, size := range incoming {
		total += size
	}
	if l.MaxItems > 0 && items > l.MaxItems {
		return fmt.Errorf("%w: %d files (maximum %d)", ErrLimitExceeded, items, l.MaxItems)
	}
	if l.MaxTotalBytes > 0 && total > l.MaxTotalBytes {
		return fmt.Errorf("%w: %s (maximum %s)", ErrLimitExceeded,
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(l.MaxTotalBytes)))
	}
	return nil
}
