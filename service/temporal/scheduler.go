package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages Temporal schedules for watched addresses.
// Each address gets its own schedule that triggers the WatchAddressWorkflow.
type Scheduler interface {
	// UpsertAddressSchedule creates the schedule for an address, or updates its
	// interval if it already exists.
	UpsertAddressSchedule(ctx context.Context, address string, interval time.Duration) error

	// DeleteAddressSchedule deletes the schedule for an address.
	DeleteAddressSchedule(ctx context.Context, address string) error
}

const scheduleIDPrefix = "watch-address-"

// ScheduleID returns the Temporal schedule ID for an address.
func ScheduleID(address string) string {
	return scheduleIDPrefix + address
}

// AddressFromScheduleID returns the address of a watch schedule, or false when id
// is not a watch schedule.
func AddressFromScheduleID(id string) (string, bool) {
	address, ok := strings.CutPrefix(id, scheduleIDPrefix)
	if !ok || address == "" {
		return "", false
	}
	return address, true
}
