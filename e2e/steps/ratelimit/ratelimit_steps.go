package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any, headers map[string]string) error
	GetLastResponseStatus() int
}

// RegisterSteps registers rate-limiting step definitions. The server must run
// with SHIELD_RATE_LIMIT set for these scenarios.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I am submitting from IP "([^"]*)"$`, steps.submittingFromIP)
	ctx.Step(`^I submit (\d+) times$`, steps.submitNTimes)
	ctx.Step(`^at least one submission should have been rate limited$`, steps.someSubmissionLimited)
}

type ratelimitSteps struct {
	tc        TestContext
	currentIP string
	statuses  []int
}

func (s *ratelimitSteps) submittingFromIP(ctx context.Context, ip string) error {
	s.currentIP = ip
	s.statuses = nil
	return nil
}

func (s *ratelimitSteps) submitNTimes(ctx context.Context, n int) error {
	headers := map[string]string{"X-Forwarded-For": s.currentIP}
	for i := range n {
		body := map[string]any{"fingerprint": fmt.Sprintf("e2e-rl-%s-%d", s.currentIP, i)}
		if err := s.tc.POST("/shield/submit", body, headers); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) someSubmissionLimited(ctx context.Context) error {
	for _, status := range s.statuses {
		if status == 429 {
			return nil
		}
	}
	return fmt.Errorf("no submission was rate limited: %v", s.statuses)
}
