package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any, headers map[string]string) error
	GetResponseField(field string) (any, error)
	Save(name string, value any)
	Saved(name string) (any, bool)
}

// RegisterSteps registers submission step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &shieldSteps{tc: tc}

	ctx.Step(`^a fresh fingerprint$`, steps.freshFingerprint)
	ctx.Step(`^I submit the fingerprint without an envelope$`, steps.submitWithoutEnvelope)
	ctx.Step(`^I submit the fingerprint with envelope:$`, steps.submitWithEnvelope)
	ctx.Step(`^I submit the fingerprint using the legacy field names$`, steps.submitLegacy)
	ctx.Step(`^the verdict should be "([^"]*)"$`, steps.verdictShouldBe)
	ctx.Step(`^I remember the record id$`, steps.rememberRecordID)
	ctx.Step(`^the record id should match the remembered one$`, steps.recordIDShouldMatch)
}

type shieldSteps struct {
	tc          TestContext
	fingerprint string
}

func (s *shieldSteps) freshFingerprint(ctx context.Context) error {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	s.fingerprint = "e2e-" + hex.EncodeToString(buf)
	return nil
}

func (s *shieldSteps) submitWithoutEnvelope(ctx context.Context) error {
	return s.tc.POST("/shield/submit", map[string]any{"fingerprint": s.fingerprint}, nil)
}

func (s *shieldSteps) submitWithEnvelope(ctx context.Context, envelope *godog.DocString) error {
	body := fmt.Sprintf(`{"fingerprint":%q,"envelope":%s}`, s.fingerprint, envelope.Content)
	return s.tc.POST("/shield/submit", body, nil)
}

func (s *shieldSteps) submitLegacy(ctx context.Context) error {
	return s.tc.POST("/submit", map[string]any{"idHash": s.fingerprint, "encPayload": "opaque"}, nil)
}

func (s *shieldSteps) verdictShouldBe(ctx context.Context, expected string) error {
	v, err := s.tc.GetResponseField("verdict")
	if err != nil {
		return err
	}
	if v != expected {
		return fmt.Errorf("expected verdict %s, got %v", expected, v)
	}
	return nil
}

func (s *shieldSteps) rememberRecordID(ctx context.Context) error {
	v, err := s.tc.GetResponseField("recordId")
	if err != nil {
		return err
	}
	s.tc.Save("recordId", v)
	return nil
}

func (s *shieldSteps) recordIDShouldMatch(ctx context.Context) error {
	want, ok := s.tc.Saved("recordId")
	if !ok {
		return fmt.Errorf("no record id remembered")
	}
	got, err := s.tc.GetResponseField("recordId")
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("record id changed: first %v, now %v", want, got)
	}
	return nil
}
