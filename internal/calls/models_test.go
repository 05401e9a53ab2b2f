package calls

import "testing"

func TestDialStatusDisposition(t *testing.T) {
	cases := []struct {
		in   DialStatus
		want Disposition
		ok   bool
	}{
		{DialStatusBusy, DispositionBusy, true},
		{DialStatusNoAnswer, DispositionNoAnswer, true},
		{DialStatusFailed, DispositionNoAnswer, true},
		{DialStatusCanceled, DispositionNoAnswer, true},
		{DialStatusCompleted, "", false},
		{DialStatusAnswered, "", false},
	}
	for _, c := range cases {
		got, ok := c.in.Disposition()
		if got != c.want || ok != c.ok {
			t.Fatalf("%s: got (%q,%v) want (%q,%v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestStatusEnded(t *testing.T) {
	if StatusRinging.Ended() || StatusInProgress.Ended() {
		t.Fatalf("live statuses must not be ended")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled} {
		if !s.Ended() {
			t.Fatalf("expected %s ended", s)
		}
	}
}
