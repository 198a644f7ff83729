package config

import (
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 45s ", 45 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDurationField("step_timeout", c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("%q: got %v err=%v", c.in, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default not applied: %v", d)
	}
}
