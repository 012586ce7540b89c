package testutil

import "testing"

// Given, When and Then nest t.Run calls so scenario output reads as a sentence.
func Given(t *testing.T, precondition string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+precondition, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+outcome, fn)
}
