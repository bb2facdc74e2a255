package e2e

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"

	"credentials/e2e/steps/badges"
	"credentials/e2e/steps/common"
	"credentials/e2e/steps/vc"
)

var opts = godog.Options{
	Output: colors.Colored(os.Stdout),
	Format: "pretty",
	Paths:  []string{"features"},
}

func init() {
	godog.BindCommandLineFlags("godog.", &opts)
}

func TestFeatures(t *testing.T) {
	flag.Parse()
	opts.TestingT = t

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options:             &opts,
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	// Steps keep this pointer; every scenario swaps in a fresh service.
	tc := &TestContext{}
	var statusDir string

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		var err error
		if statusDir, err = os.MkdirTemp("", "status-lists-*"); err != nil {
			return ctx, err
		}
		fresh, err := NewTestContext(statusDir)
		if err != nil {
			return ctx, err
		}
		*tc = *fresh
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.app == nil {
			return ctx, nil
		}
		if err != nil {
			fmt.Printf("Scenario failed: %s\nLast Response: %s\n", sc.Name, string(tc.LastResponseBody))
		}
		defer os.RemoveAll(statusDir)
		return ctx, tc.Close()
	})

	common.RegisterSteps(sc, tc)
	badges.RegisterSteps(sc, tc)
	vc.RegisterSteps(sc, tc)
}
