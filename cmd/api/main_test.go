package main

import "testing"

func TestRunFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	if code := run(); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
