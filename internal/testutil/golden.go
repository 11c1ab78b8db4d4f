package testutil

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden compares got with testdata/golden/<name>.golden in the calling
// package. Run the tests with -update to rewrite the files.
func Golden(t *testing.T, name, got string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(got+"\n"))
}
