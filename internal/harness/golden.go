package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// RunGolden executes a scenario and compares the exported results file
// against testdata/golden/<name>.golden, creating or updating it when
// the test runs with -update. The result is returned so callers can
// assert on counters and standings beyond the golden bytes.
func RunGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	res, err := Run(context.Background(), sc)
	require.NoError(t, err, "run scenario %s", sc.Name)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, res.ResultsCSV)
	return res
}
