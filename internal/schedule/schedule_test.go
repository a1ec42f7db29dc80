package schedule

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"valid cron", Cron("*/5 * * * *"), false},
		{"bad cron", Cron("every tuesday"), true},
		{"empty cron", Schedule{Kind: KindCron}, true},
		{"valid every", Every(time.Second), false},
		{"zero every", Schedule{Kind: KindEvery}, true},
		{"valid at", At(time.Now().Add(time.Hour)), false},
		{"zero at", Schedule{Kind: KindAt}, true},
		{"unknown kind", Schedule{Kind: "WEEKLY"}, true},
	}
	for _, tt := range tests {
		if err := tt.s.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNextEvery(t *testing.T) {
	now := time.Now()
	next, ok, err := Every(1500 * time.Millisecond).Next(now)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if d := next.Sub(now); d != 1500*time.Millisecond {
		t.Errorf("interval = %v", d)
	}
}

func TestNextCron(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	next, ok, err := Cron("*/5 * * * *").Next(now)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextAt(t *testing.T) {
	now := time.Now()

	future := At(now.Add(time.Minute))
	next, ok, err := future.Next(now)
	if err != nil || !ok {
		t.Fatalf("future AT: ok=%v err=%v", ok, err)
	}
	if next.Before(now) {
		t.Errorf("next = %v is before now", next)
	}

	// A passed AT never fires again.
	past := At(now.Add(-time.Minute))
	_, ok, err = past.Next(now)
	if err != nil {
		t.Fatalf("past AT: %v", err)
	}
	if ok {
		t.Error("past AT schedule should report ok=false")
	}
}

func TestScheduleJSONShape(t *testing.T) {
	data, err := json.Marshal(Every(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"kind":"EVERY","everyMs":2000}` {
		t.Errorf("every wire shape = %s", data)
	}

	data, _ = json.Marshal(Cron("0 9 * * *"))
	if string(data) != `{"kind":"CRON","expr":"0 9 * * *"}` {
		t.Errorf("cron wire shape = %s", data)
	}

	var s Schedule
	if err := json.Unmarshal([]byte(`{"kind":"AT","atMs":1767225600000}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.Kind != KindAt || s.AtMs != 1767225600000 {
		t.Errorf("decoded = %+v", s)
	}
}
