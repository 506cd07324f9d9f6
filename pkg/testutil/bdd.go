// Package testutil carries small helpers shared by tests across packages.
package testutil

import "testing"

// Given opens a subtest describing the scenario's starting state. Nesting
// When and Then inside it yields readable test output without a BDD
// framework dependency.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

// When wraps the action under test.
func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

// Then wraps the assertions on the observable outcome.
func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
