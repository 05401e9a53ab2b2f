// Package hours decides whether a tenant is open at a given instant.
package hours

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bizphone/internal/tenant"
)

var ErrInvalidConfig = errors.New("hours: invalid config")

// Status is the evaluator's verdict.
type Status string

const (
	Open    Status = "open"
	Closed  Status = "closed"
	Unknown Status = "unknown"
)

// IsClosed reports whether quiet-hours routing applies. Unknown counts as open.
func (s Status) IsClosed() bool { return s == Closed }

// Day is one weekday's schedule. Times are "HH:MM" in the config's time zone.
type Day struct {
	Enabled   bool   `json:"enabled"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

// Config is a tenant's single active business-hours configuration.
// It is replaced wholesale on update.
type Config struct {
	TenantID string `json:"tenant_id"`
	TimeZone string `json:"time_zone"`

	// Days is keyed by lower-case three letter weekday: mon, tue, ... sun.
	Days map[string]Day `json:"days"`

	// Holidays are exact local dates (YYYY-MM-DD) that force closed.
	Holidays []string `json:"holidays,omitempty"`

	AfterHoursAction string `json:"after_hours_action,omitempty"`
	AfterHoursTarget string `json:"after_hours_target,omitempty"`
}

var weekdays = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey returns the Days key for wd.
func WeekdayKey(wd time.Weekday) string { return weekdays[wd] }

// Evaluate projects at into cfg's time zone and reports open/closed.
// A nil cfg yields Unknown. An unusable cfg yields Unknown together with an
// ErrInvalidConfig so the caller can log it and carry on.
func Evaluate(cfg *Config, at time.Time) (Status, error) {
	if cfg == nil {
		return Unknown, nil
	}
	loc, err := loadLocation(cfg.TimeZone)
	if err != nil {
		return Unknown, err
	}
	local := at.In(loc)

	date := local.Format("2006-01-02")
	for _, h := range cfg.Holidays {
		if strings.TrimSpace(h) == date {
			return Closed, nil
		}
	}

	day, ok := cfg.Days[WeekdayKey(local.Weekday())]
	if !ok || !day.Enabled {
		return Closed, nil
	}

	open, ok := parseHHMM(day.OpenTime)
	if !ok {
		return Unknown, fmt.Errorf("%w: open_time %q", ErrInvalidConfig, day.OpenTime)
	}
	closeAt, ok := parseHHMM(day.CloseTime)
	if !ok {
		return Unknown, fmt.Errorf("%w: close_time %q", ErrInvalidConfig, day.CloseTime)
	}

	// Seconds since local midnight; wall clock, so DST shifts do not move the window.
	now := local.Hour()*3600 + local.Minute()*60 + local.Second()
	if now < open || now >= closeAt {
		return Closed, nil
	}
	return Open, nil
}

// Validate checks a config before it is stored.
func (c Config) Validate() error {
	var errs []error
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant_id is required"))
	}
	if _, err := loadLocation(c.TimeZone); err != nil {
		errs = append(errs, err)
	}
	for key, d := range c.Days {
		if !isWeekdayKey(key) {
			errs = append(errs, fmt.Errorf("unknown weekday %q", key))
			continue
		}
		if !d.Enabled {
			continue
		}
		open, ok1 := parseHHMM(d.OpenTime)
		closeAt, ok2 := parseHHMM(d.CloseTime)
		if !ok1 || !ok2 {
			errs = append(errs, fmt.Errorf("%s: times must be HH:MM", key))
			continue
		}
		if closeAt <= open {
			errs = append(errs, fmt.Errorf("%s: close_time must be after open_time", key))
		}
	}
	if _, _, err := c.AfterHoursRoute(); err != nil {
		errs = append(errs, err)
	}
	for _, h := range c.Holidays {
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(h)); err != nil {
			errs = append(errs, fmt.Errorf("holiday %q must be YYYY-MM-DD", h))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// AfterHoursRoute is the fallback destination used when the tenant is closed
// and no forwarding rule applies. AfterHoursAction is one of voicemail, ai,
// hangup, ivr (target = optional menu id) or forward (target = route string).
// It reports false when no action is configured.
func (c Config) AfterHoursRoute() (tenant.Route, bool, error) {
	action := strings.ToLower(strings.TrimSpace(c.AfterHoursAction))
	target := strings.TrimSpace(c.AfterHoursTarget)
	switch action {
	case "":
		return tenant.Route{}, false, nil
	case "voicemail", "ai", "hangup":
		r, err := tenant.ParseRoute(action)
		return r, err == nil, err
	case "ivr":
		return tenant.Route{Kind: tenant.RouteIVR, Ref: target}, true, nil
	case "forward":
		r, err := tenant.ParseRoute(target)
		if err != nil {
			return tenant.Route{}, false, fmt.Errorf("%w: after_hours_target: %v", ErrInvalidConfig, err)
		}
		return r, true, nil
	}
	return tenant.Route{}, false, fmt.Errorf("%w: after_hours_action %q", ErrInvalidConfig, c.AfterHoursAction)
}

func loadLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return nil, fmt.Errorf("%w: time_zone is required", ErrInvalidConfig)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: time_zone %q: %v", ErrInvalidConfig, tz, err)
	}
	return loc, nil
}

func isWeekdayKey(k string) bool {
	for _, w := range weekdays {
		if w == k {
			return true
		}
	}
	return false
}

// parseHHMM returns seconds since midnight. "24:00" is accepted as end of day.
func parseHHMM(s string) (int, bool) {
	var h, m int
	n, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, false
	}
	if h == 24 && m == 0 {
		return 24 * 3600, true
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*3600 + m*60, true
}
