package hours

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func weekdayConfig(tz string) *Config {
	day := Day{Enabled: true, OpenTime: "09:00", CloseTime: "17:00"}
	return &Config{
		TenantID: "t1",
		TimeZone: tz,
		Days: map[string]Day{
			"mon": day, "tue": day, "wed": day, "thu": day, "fri": day,
			"sat": {Enabled: false},
		},
		Holidays: []string{"2025-12-25"},
	}
}

func utc(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
}

func TestEvaluate_Table(t *testing.T) {
	cfg := weekdayConfig("America/New_York")

	cases := []struct {
		name string
		at   time.Time
		want Status
	}{
		// EST (UTC-5) before the March 2025 DST change.
		{"fri 08:30 EST closed", utc(2025, 3, 7, 13, 30), Closed},
		{"fri 09:30 EST open", utc(2025, 3, 7, 14, 30), Open},
		{"fri 09:00 EST open at open", utc(2025, 3, 7, 14, 0), Open},
		{"fri 16:59 EST open", utc(2025, 3, 7, 21, 59), Open},
		{"fri 17:00 EST closed at close", utc(2025, 3, 7, 22, 0), Closed},
		// DST starts Sunday 2025-03-09.
		{"sun on DST day closed", utc(2025, 3, 9, 15, 0), Closed},
		// EDT (UTC-4): the same UTC instant as the first case is now 09:30 local.
		{"mon 09:30 EDT open", utc(2025, 3, 10, 13, 30), Open},
		{"mon 08:59 EDT closed", utc(2025, 3, 10, 12, 59), Closed},
		{"mon 17:00 EDT closed", utc(2025, 3, 10, 21, 0), Closed},
		// DST ends Sunday 2025-11-02.
		{"fri 17:30 EDT closed", utc(2025, 10, 31, 21, 30), Closed},
		{"mon 16:30 EST open", utc(2025, 11, 3, 21, 30), Open},
		// Saturday disabled, Sunday absent.
		{"sat closed", utc(2025, 3, 15, 15, 0), Closed},
		{"sun absent closed", utc(2025, 3, 16, 15, 0), Closed},
		// Holiday on a Thursday.
		{"holiday closed", utc(2025, 12, 25, 15, 0), Closed},
		{"day after holiday open", utc(2025, 12, 26, 15, 0), Open},
	}
	for _, c := range cases {
		got, err := Evaluate(cfg, c.at)
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %s want %s (local %s)", c.name, got, c.want, c.at.In(mustLoc(t, cfg.TimeZone)))
		}
	}
}

func TestEvaluate_HolidayUsesLocalDate(t *testing.T) {
	cfg := weekdayConfig("Australia/Sydney")
	cfg.Holidays = []string{"2025-03-12"}

	// 2025-03-11 23:00 UTC is Wednesday 2025-03-12 10:00 in Sydney (AEDT, UTC+11).
	got, err := Evaluate(cfg, utc(2025, 3, 11, 23, 0))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != Closed {
		t.Fatalf("expected holiday closed, got %s", got)
	}
}

func TestEvaluate_NilConfigUnknown(t *testing.T) {
	got, err := Evaluate(nil, time.Now())
	if err != nil || got != Unknown {
		t.Fatalf("expected unknown, got %s %v", got, err)
	}
	if got.IsClosed() {
		t.Fatalf("unknown must be treated as open")
	}
}

func TestEvaluate_InvalidTimeZone(t *testing.T) {
	cfg := weekdayConfig("Mars/Olympus_Mons")
	got, err := Evaluate(cfg, time.Now())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if got != Unknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestEvaluate_WeekSweepMatchesSchedule(t *testing.T) {
	cfg := weekdayConfig("Europe/Berlin")
	loc := mustLoc(t, cfg.TimeZone)

	// A week without DST changes or holidays: Mon 2025-06-02 .. Sun 2025-06-08.
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, loc)
	open := 0
	for i := 0; i < 7*24*4; i++ {
		at := start.Add(time.Duration(i) * 15 * time.Minute)
		got, err := Evaluate(cfg, at)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		wd := at.Weekday()
		h := at.Hour()
		want := Closed
		if wd >= time.Monday && wd <= time.Friday && h >= 9 && h < 17 {
			want = Open
		}
		if got != want {
			t.Fatalf("%s: got %s want %s", at, got, want)
		}
		if got == Open {
			open++
		}
	}
	if open != 5*8*4 {
		t.Fatalf("expected %d open quarter hours, got %d", 5*8*4, open)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	cfg := weekdayConfig("America/Los_Angeles")
	rng := rand.New(rand.NewSource(1))
	base := utc(2024, 1, 1, 0, 0)
	for i := 0; i < 1000; i++ {
		at := base.Add(time.Duration(rng.Int63n(int64(2 * 365 * 24 * time.Hour))))
		a, _ := Evaluate(cfg, at)
		b, _ := Evaluate(cfg, at)
		if a != b {
			t.Fatalf("non-deterministic at %s: %s vs %s", at, a, b)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := weekdayConfig("UTC").Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	bad := weekdayConfig("UTC")
	bad.Days["mon"] = Day{Enabled: true, OpenTime: "17:00", CloseTime: "09:00"}
	bad.Days["funday"] = Day{}
	bad.Holidays = append(bad.Holidays, "25/12/2025")
	err := bad.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func mustLoc(t *testing.T, tz string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load %s: %v", tz, err)
	}
	return loc
}

func TestAfterHoursRoute(t *testing.T) {
	tests := []struct {
		action, target string
		want           string
		ok, wantErr    bool
	}{
		{"", "", "", false, false},
		{"voicemail", "", "voicemail", true, false},
		{"AI", "", "ai", true, false},
		{"ivr", "night", "ivr:night", true, false},
		{"forward", "+15550100001", "+15550100001", true, false},
		{"forward", "hunt:200", "hunt:200", true, false},
		{"forward", "", "", false, true},
		{"teleport", "", "", false, true},
	}
	for _, tt := range tests {
		cfg := Config{AfterHoursAction: tt.action, AfterHoursTarget: tt.target}
		r, ok, err := cfg.AfterHoursRoute()
		if (err != nil) != tt.wantErr || ok != tt.ok {
			t.Fatalf("%s/%s: ok=%v err=%v", tt.action, tt.target, ok, err)
		}
		if ok && r.String() != tt.want {
			t.Fatalf("%s/%s: got %s want %s", tt.action, tt.target, r, tt.want)
		}
	}
}
