package queue

import "testing"

func TestSubject(t *testing.T) {
	tests := map[string]string{
		"gate":        "events.gate",
		"floor.2.cam": "events.floor_2_cam",
		"a*b>c":       "events.a_b_c",
		"main hall":   "events.main_hall",
	}
	for in, want := range tests {
		if got := Subject(EventsSubjectBase, in); got != want {
			t.Errorf("Subject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action":"start","camera_id":"gate"}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Action != "start" || cmd.CameraID != "gate" {
		t.Errorf("cmd = %+v", cmd)
	}

	for _, bad := range []string{
		`{"action":"pause","camera_id":"gate"}`,
		`{"action":"stop"}`,
		`not json`,
	} {
		if _, err := ParseCommand([]byte(bad)); err == nil {
			t.Errorf("ParseCommand(%s) succeeded", bad)
		}
	}
}
