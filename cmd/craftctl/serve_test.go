package main

import (
	"bytes"
	"errors"
	"testing"
)

func TestServeRequiresServerSection(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	c := command{out: &bytes.Buffer{}}
	err := c.Serve(ServeFlags{}, testGlobals(cfgPath))
	if !errors.Is(err, errUsage) {
		t.Fatalf("serve err = %v, want a usage error without [server]", err)
	}
	if got := exitCodeFor(err); got != exitUsage {
		t.Fatalf("exit code = %d, want %d", got, exitUsage)
	}
}

func TestServeRejectsBadSchedule(t *testing.T) {
	cfgPath := writeTestConfig(t, `
[server]
listen = "127.0.0.1:0"
backup_schedule = "not a schedule"
`)
	c := command{out: &bytes.Buffer{}}
	err := c.Serve(ServeFlags{}, testGlobals(cfgPath))
	if !errors.Is(err, errUsage) {
		t.Fatalf("serve err = %v, want a usage error for the schedule", err)
	}
}
