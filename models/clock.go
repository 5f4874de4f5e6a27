package models

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time for origination and settlement dates.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// ReferenceFunc produces an opaque, unique payment reference. In production
// this is the payment provider's charge identifier.
type ReferenceFunc func() string

// UUIDReferences generates a random UUID per payment.
func UUIDReferences() string {
	return uuid.NewString()
}
