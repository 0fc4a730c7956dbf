package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs every scenario under features/ in random order against
// an in-process registry. Set GODOG_TAGS to run a subset, e.g. "@outage".
func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "credential-lifecycle",
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:    "pretty",
			Paths:     []string{"features"},
			Tags:      os.Getenv("GODOG_TAGS"),
			Strict:    true,
			Randomize: -1,
			TestingT:  t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("feature scenarios failed")
	}
}

func initializeScenario(sc *godog.ScenarioContext) {
	tc := NewTestContext()

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*tc = *NewTestContext()
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if err != nil && tc.Verdict.Reason != "" {
			err = fmt.Errorf("%w (last verdict: %s %s)", err, tc.Verdict.Reason, tc.Verdict.Detail)
		}
		return ctx, err
	})

	RegisterSteps(sc, tc)
}
