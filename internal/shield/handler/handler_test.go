package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idshield/internal/shield/handler/mocks"
	"idshield/internal/shield/models"
	dErrors "idshield/pkg/domain-errors"
	"idshield/pkg/platform/middleware/device"
	"idshield/pkg/requestcontext"
	"idshield/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.router = s.newRouter()
}

func (s *HandlerSuite) newRouter(opts ...Option) http.Handler {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Use(device.Device)
	New(s.service, logger, opts...).Register(r)
	return r
}

func sampleResult() *models.Result {
	return &models.Result{
		Verdict:     models.VerdictDuplicate,
		Fingerprint: "fp-1",
		Record: models.DuplicateRecord{
			RecordID:   "ABCD1234",
			RecordedAt: time.Date(2026, 5, 1, 10, 0, 0, 123, time.FixedZone("CEST", 7200)),
		},
		Mode:   models.ModeLive,
		Fields: []models.DecodedField{{Name: "name", Value: "John Smith"}, {Name: "age", Value: "28"}},
	}
}

func (s *HandlerSuite) TestSubmitSuccess() {
	s.service.EXPECT().Submit(gomock.Any(), models.Submission{
		Fingerprint: "fp-1",
		Envelope:    json.RawMessage(`{"salt":"x"}`),
	}).Return(sampleResult(), nil)

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/shield/submit", `{"fingerprint":" fp-1 ","envelope":{"salt":"x"}}`)
	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[SubmitResponse](s.T(), rr)
	s.Equal(SubmitResponse{
		Duplicate:     true,
		Verdict:       "DUPLICATE",
		VerdictDetail: "DUPLICATE - possible identity reuse",
		Fingerprint:   "fp-1",
		RecordID:      "ABCD1234",
		Timestamp:     "2026-05-01T08:00:00Z",
		Mode:          "live",
		Fields:        map[string]string{"name": "Jo******th", "age": "**"},
		FailedFields:  []string{},
	}, *resp)
}

func (s *HandlerSuite) TestLegacyFieldNames() {
	s.service.EXPECT().Submit(gomock.Any(), models.Submission{
		Fingerprint: "legacy-hash",
		Envelope:    json.RawMessage(`"opaque"`),
	}).DoAndReturn(func(ctx context.Context, _ models.Submission) (*models.Result, error) {
		s.Equal("req-legacy", requestcontext.RequestID(ctx))
		return &models.Result{Verdict: models.VerdictClean, Mode: models.ModeDegraded, DegradedReason: "envelope_opaque"}, nil
	})

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/submit", `{"idHash":"legacy-hash","encPayload":"opaque"}`)
	req = testutil.WithRequestMetadata(req, "req-legacy", time.Time{})
	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[SubmitResponse](s.T(), rr)
	s.False(resp.Duplicate)
	s.Equal("degraded", resp.Mode)
	s.Equal("envelope_opaque", resp.DegradedReason)
	s.Empty(resp.Fields)
}

func (s *HandlerSuite) TestRejectedBeforePipeline() {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "invalid json", body: `{"fingerprint":`},
		{name: "fingerprint not a string", body: `{"fingerprint":42}`},
		{name: "missing fingerprint", body: `{"envelope":{}}`},
		{name: "blank fingerprint", body: `{"fingerprint":"   "}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/shield/submit", tt.body)
			rr := testutil.DoRequest(s.router, req)
			s.Equal(http.StatusBadRequest, rr.Code)
		})
	}
}

func (s *HandlerSuite) TestIndexOutageIs503() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodeUnavailable, "duplicate index unavailable"))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/shield/submit", map[string]string{"fingerprint": "fp"})
	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeUnavailable))
}

func (s *HandlerSuite) TestNoRawValuesInResponse() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(sampleResult(), nil)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/shield/submit", map[string]string{"fingerprint": "fp-1"})
	rr := testutil.DoRequest(s.router, req)

	body := rr.Body.String()
	s.NotContains(body, "John Smith")
	s.NotContains(body, "\"28\"")
}

func (s *HandlerSuite) TestHealth() {
	healthy := mocks.NewMockHealthChecker(s.ctrl)
	failing := mocks.NewMockHealthChecker(s.ctrl)
	healthy.EXPECT().Health(gomock.Any()).Return(nil).AnyTimes()
	failing.EXPECT().Health(gomock.Any()).Return(errors.New("connection refused")).AnyTimes()
	s.service.EXPECT().EnvelopeDecryptionEnabled().Return(true).AnyTimes()

	s.Run("all backends healthy", func() {
		router := s.newRouter(WithHealthCheck("duplicate_index", healthy))
		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[HealthResponse](s.T(), rr)
		s.Equal("ok", resp.Status)
		s.True(resp.EnvelopeDecryption)
		s.Equal(map[string]string{"duplicate_index": "ok"}, resp.Backends)
	})

	s.Run("failing backend", func() {
		router := s.newRouter(WithHealthCheck("duplicate_index", healthy), WithHealthCheck("results", failing))
		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[HealthResponse](s.T(), rr)
		s.Equal("degraded", resp.Status)
		s.Equal("connection refused", resp.Backends["results"])
	})
}

func (s *HandlerSuite) TestSubmitMiddlewareWrapsOnlySubmit() {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	s.service.EXPECT().EnvelopeDecryptionEnabled().Return(false).AnyTimes()
	router := s.newRouter(WithSubmitMiddleware(blocked))

	for _, path := range []string{"/submit", "/shield/submit"} {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]string{"fingerprint": "fp"}))
		testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	}
	rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	testutil.AssertStatusOK(s.T(), rr)
}

func TestSubmitRequestValidate(t *testing.T) {
	var nilReq *SubmitRequest
	if err := nilReq.Validate(); !dErrors.HasCode(err, dErrors.CodeBadRequest) {
		t.Fatalf("expected bad request for nil body, got %v", err)
	}

	req := &SubmitRequest{Fingerprint: "primary", IDHash: "alias", Envelope: json.RawMessage(`{}`), EncPayload: json.RawMessage(`"x"`)}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Fingerprint != "primary" || string(req.Envelope) != "{}" {
		t.Fatalf("primary fields should win over aliases, got %q %s", req.Fingerprint, req.Envelope)
	}

	long := &SubmitRequest{Fingerprint: string(bytes.Repeat([]byte("a"), maxFingerprintLen+1))}
	if err := long.Validate(); !dErrors.HasCode(err, dErrors.CodeValidation) {
		t.Fatalf("expected validation error for long fingerprint, got %v", err)
	}
}

func TestFromResultEmptyFields(t *testing.T) {
	resp := FromResult(&models.Result{Verdict: models.VerdictClean, Mode: models.ModeDegraded})
	if resp.Fields == nil || resp.FailedFields == nil {
		t.Fatal("fields and failedFields must serialize as empty collections")
	}
	if resp.VerdictDetail != "CLEAN - no prior record" {
		t.Fatalf("unexpected verdict detail %q", resp.VerdictDetail)
	}
}
