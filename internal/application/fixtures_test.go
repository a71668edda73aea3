package application_test

import (
	"testing"

	"github.com/example/fablab-backend/internal/testfixtures"
)

type testEnv struct {
	harness  *testfixtures.SQLiteHarness
	factory  *testfixtures.ServiceFactory
	services testfixtures.Services
}

// newEnv returns services over an empty migrated store.
func newEnv(t *testing.T) testEnv {
	t.Helper()
	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory()
	return testEnv{harness: harness, factory: factory, services: factory.Build(harness.Store)}
}

// newSeededEnv returns services over the canonical fablab.
func newSeededEnv(t *testing.T) (testEnv, testfixtures.Fablab) {
	t.Helper()
	env := newEnv(t)
	return env, testfixtures.SeedFablab(t, env.harness.Store)
}
