package service

import (
	"fmt"
	"math"
	"time"
)

// MaxHours bounds a single booking or extension to one year.
const MaxHours = 24 * 365

// ValidateHours accepts 0.5 or a positive whole number of hours.
func ValidateHours(h float64) error {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return invalidInput("hours must be a finite number")
	}
	if h <= 0 {
		return invalidInput("hours must be greater than zero")
	}
	if h != 0.5 && h != math.Trunc(h) {
		return invalidInput("hours must be 0.5 or a whole number")
	}
	if h > MaxHours {
		return invalidInput(fmt.Sprintf("hours must not exceed %d", MaxHours))
	}
	return nil
}

// Price is the cost in cents of hours at rateCents per hour.  Whole hours
// are exact; a trailing half hour rounds half up.
func Price(rateCents int64, hours float64) int64 {
	halfHours := int64(math.Round(hours * 2))
	return (rateCents*halfHours + 1) / 2
}

// Duration converts validated hours to a duration in whole minutes.
func Duration(hours float64) time.Duration {
	return time.Duration(math.Round(hours*60)) * time.Minute
}
