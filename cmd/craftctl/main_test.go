package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestHelpExitsZero(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	if !strings.Contains(out.String(), "craftctl") {
		t.Fatalf("unexpected help output: %s", out.String())
	}
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"bogus"})
	err := root.Execute()
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	if got := exitCodeFor(err); got != exitUsage {
		t.Fatalf("unknown command: got exit code %d, want %d", got, exitUsage)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status", "--bogus"})
	err := root.Execute()
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected a usage error, got %v", err)
	}
	if got := exitCodeFor(err); got != exitUsage {
		t.Fatalf("unknown flag: got exit code %d, want %d", got, exitUsage)
	}
}

func TestSendRequiresArgument(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"send"})
	err := root.Execute()
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected a usage error, got %v", err)
	}
}

func TestStatusRejectsExtraArguments(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status", "extra"})
	err := root.Execute()
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected a usage error, got %v", err)
	}
}

func TestRelayCommandHidden(t *testing.T) {
	root := buildRoot()
	for _, cmd := range root.Commands() {
		if cmd.Name() == "relay" {
			if !cmd.Hidden {
				t.Fatal("relay command should be hidden from help")
			}
			return
		}
	}
	t.Fatal("relay command not registered")
}
