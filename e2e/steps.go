package e2e

import (
	"github.com/cucumber/godog"

	"idshield/e2e/steps/common"
	"idshield/e2e/steps/ratelimit"
	"idshield/e2e/steps/shield"
)

type registrar func(*godog.ScenarioContext, *TestContext)

// RegisterSteps binds every step package to one scenario. Order does not
// matter; step patterns across packages do not overlap.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	for _, register := range []registrar{
		func(c *godog.ScenarioContext, tc *TestContext) { common.RegisterSteps(c, tc) },
		func(c *godog.ScenarioContext, tc *TestContext) { shield.RegisterSteps(c, tc) },
		func(c *godog.ScenarioContext, tc *TestContext) { ratelimit.RegisterSteps(c, tc) },
	} {
		register(ctx, tc)
	}
}
