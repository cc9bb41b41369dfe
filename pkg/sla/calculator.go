// Package sla computes task deadlines and classifies tasks against them.
package sla

import (
	"time"

	"github.com/titleworks/lientrack/pkg/models"
)

// DefaultAlertWindow is how long before the deadline a task moves to AT_RISK.
const DefaultAlertWindow = 2 * time.Hour

// Default business window, hours in the configured location.
const (
	DefaultOpenHour  = 9
	DefaultCloseHour = 18
)

// Calculator computes SLA deadlines. Business-hour deadlines only consume
// hours inside the configured window on weekdays; calendar deadlines are
// plain wall-clock arithmetic.
type Calculator struct {
	openHour    int
	closeHour   int
	location    *time.Location
	alertWindow time.Duration
}

// CalculatorConfig configures the business window. Zero values fall back to
// a 09:00-18:00 UTC window with the default alert window.
type CalculatorConfig struct {
	OpenHour    int
	CloseHour   int
	Location    *time.Location
	AlertWindow time.Duration
}

// NewCalculator creates a deadline calculator.
func NewCalculator(config CalculatorConfig) *Calculator {
	if config.OpenHour == 0 && config.CloseHour == 0 {
		config.OpenHour = DefaultOpenHour
		config.CloseHour = DefaultCloseHour
	}

	if config.Location == nil {
		config.Location = time.UTC
	}

	if config.AlertWindow == 0 {
		config.AlertWindow = DefaultAlertWindow
	}

	return &Calculator{
		openHour:    config.OpenHour,
		closeHour:   config.CloseHour,
		location:    config.Location,
		alertWindow: config.AlertWindow,
	}
}

// DueAt computes the deadline for a task activated at start with a budget of
// slaHours. When businessHoursOnly is set, only weekday hours inside the
// business window count against the budget.
func (c *Calculator) DueAt(start time.Time, slaHours int, businessHoursOnly bool) time.Time {
	if !businessHoursOnly {
		return start.Add(time.Duration(slaHours) * time.Hour).UTC()
	}

	cursor := c.nextBusinessMoment(start.In(c.location))
	remaining := time.Duration(slaHours) * time.Hour

	for {
		closeAt := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), c.closeHour, 0, 0, 0, c.location)

		available := closeAt.Sub(cursor)
		if remaining <= available {
			return cursor.Add(remaining).UTC()
		}

		remaining -= available
		cursor = c.nextBusinessMoment(closeAt)
	}
}

// Classify positions a task relative to its deadline at the given instant.
func (c *Calculator) Classify(dueAt, now time.Time) models.SLAStatus {
	if !now.Before(dueAt) {
		return models.SLAStatusBreached
	}

	if dueAt.Sub(now) <= c.alertWindow {
		return models.SLAStatusAtRisk
	}

	return models.SLAStatusOnTime
}

// ClassifyAtCompletion freezes the SLA verdict for a completed task: breached
// when completion happened after the deadline, on time otherwise.
func (c *Calculator) ClassifyAtCompletion(dueAt, completedAt time.Time) models.SLAStatus {
	if completedAt.After(dueAt) {
		return models.SLAStatusBreached
	}

	return models.SLAStatusOnTime
}

// nextBusinessMoment advances t to the next instant inside the business
// window: within the window it returns t unchanged; outside it, the next
// weekday opening.
func (c *Calculator) nextBusinessMoment(t time.Time) time.Time {
	for {
		if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, c.openHour, 0, 0, 0, c.location)

			continue
		}

		openAt := time.Date(t.Year(), t.Month(), t.Day(), c.openHour, 0, 0, 0, c.location)
		closeAt := time.Date(t.Year(), t.Month(), t.Day(), c.closeHour, 0, 0, 0, c.location)

		if t.Before(openAt) {
			return openAt
		}

		if !t.Before(closeAt) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, c.openHour, 0, 0, 0, c.location)

			continue
		}

		return t
	}
}
