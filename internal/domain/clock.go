package domain

import "time"

// Clock supplies the current time. Lifecycle decisions always go through a
// Clock so trial expiry can be tested without real delays.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the system time, in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
