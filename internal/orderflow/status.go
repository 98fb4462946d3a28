package orderflow

import (
	"fmt"
	"strings"
)

// Status is an order's position in its lifecycle. The coordinator only
// cares about two of them - the deduction status and Cancelled - but the
// full set is parsed and validated so callers cannot feed it junk.
type Status string

const (
	StatusInquiry             Status = "inquiry"
	StatusQuoted              Status = "quoted"
	StatusNewOnline           Status = "new_online"
	StatusConfirmed           Status = "confirmed"
	StatusPreparing           Status = "preparing"
	StatusReadyForFulfillment Status = "ready_for_fulfillment"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusInquiry,
	StatusQuoted,
	StatusNewOnline,
	StatusConfirmed,
	StatusPreparing,
	StatusReadyForFulfillment,
	StatusCompleted,
	StatusCancelled,
}

// statusAliases maps legacy wire spellings onto the canonical set.
var statusAliases = map[string]Status{
	"quote_sent":       StatusQuoted,
	"new-online":       StatusNewOnline,
	"in_progress":      StatusPreparing,
	"ready_for_pickup": StatusReadyForFulfillment,
}

// ParseStatus parses a status name, case-insensitively, accepting both
// canonical names and legacy spellings.
func ParseStatus(s string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, st := range AllStatuses {
		if normalized == string(st) {
			return st, nil
		}
	}
	if st, ok := statusAliases[normalized]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}
