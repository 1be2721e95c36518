package runtime

import (
	"chat-sync/contract"
	"time"
)

// ClockScheduler schedules callbacks on the wall clock.
type ClockScheduler struct{}

func (ClockScheduler) AfterFunc(d time.Duration, f func()) contract.Timer {
	return time.AfterFunc(d, f)
}
