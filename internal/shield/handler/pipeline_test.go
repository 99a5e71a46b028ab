package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idshield/internal/shield/cipher"
	"idshield/internal/shield/service"
	"idshield/internal/shield/store/dupindex"
	"idshield/internal/shield/wiretoken"
	"idshield/pkg/platform/middleware/metadata"
	"idshield/pkg/platform/middleware/requesttime"
	"idshield/pkg/testutil"
)

func newPipelineRouter(t *testing.T, now time.Time) (http.Handler, *cipher.Cipher) {
	t.Helper()
	c, err := cipher.New(cipher.WithIterations(64))
	require.NoError(t, err)
	index := dupindex.NewInMemory()
	svc, err := service.New(index, c, service.WithEnvelopePassphrase("shared-secret"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(requesttime.MiddlewareWithClock(func() time.Time { return now }))
	New(svc, logger, WithHealthCheck("duplicate_index", index)).Register(r)
	return r, c
}

func TestSubmitThroughPipeline(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	router, c := newPipelineRouter(t, now)

	token := wiretoken.Build([]wiretoken.Field{
		{Name: "name", Value: "John Smith"},
		{Name: "age", Value: "28"},
		{Name: "email", Value: "john@x.com"},
	})
	env, err := c.Seal(context.Background(), []byte(token), "shared-secret")
	require.NoError(t, err)

	submit := func(t *testing.T, body any) *SubmitResponse {
		t.Helper()
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/shield/submit", body))
		testutil.AssertStatusOK(t, rr)
		assert.NotEmpty(t, rr.Header().Get(metadata.HeaderRequestID))
		return testutil.UnmarshalResponse[SubmitResponse](t, rr)
	}

	var first *SubmitResponse
	testutil.Given(t, "a first submission with a valid envelope", func(t *testing.T) {
		first = submit(t, map[string]any{"fingerprint": "hash-1", "envelope": env})

		testutil.Then(t, "the verdict is clean and fields are masked", func(t *testing.T) {
			assert.False(t, first.Duplicate)
			assert.Equal(t, "live", first.Mode)
			assert.Equal(t, "2026-05-01T10:00:00Z", first.Timestamp)
			assert.Equal(t, map[string]string{"name": "Jo******th", "age": "**", "email": "jo******om"}, first.Fields)
			assert.Len(t, first.RecordID, dupindex.RecordIDLength)
		})
	})

	testutil.When(t, "the same fingerprint arrives with no envelope", func(t *testing.T) {
		second := submit(t, map[string]any{"fingerprint": "hash-1"})

		testutil.Then(t, "it is a duplicate of the first record and degraded", func(t *testing.T) {
			assert.True(t, second.Duplicate)
			assert.Equal(t, first.RecordID, second.RecordID)
			assert.Equal(t, first.Timestamp, second.Timestamp)
			assert.Equal(t, "degraded", second.Mode)
			assert.Equal(t, "envelope_absent", second.DegradedReason)
			assert.Empty(t, second.Fields)
		})
	})

	testutil.When(t, "an envelope is tampered with", func(t *testing.T) {
		tampered := env.Clone()
		raw, err := json.Marshal(tampered)
		require.NoError(t, err)
		raw = bytes.Replace(raw, []byte(`"hmac":"`), []byte(`"hmac":"AA`), 1)
		resp := submit(t, map[string]any{"fingerprint": "hash-2", "envelope": json.RawMessage(raw)})

		testutil.Then(t, "the verdict still stands and the result is degraded", func(t *testing.T) {
			assert.False(t, resp.Duplicate)
			assert.Equal(t, "degraded", resp.Mode)
			assert.Contains(t, []string{"integrity_mismatch", "malformed_envelope"}, resp.DegradedReason)
		})
	})

	testutil.Then(t, "health reports the in-memory index", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[HealthResponse](t, rr)
		assert.Equal(t, "ok", resp.Backends["duplicate_index"])
		assert.True(t, resp.EnvelopeDecryption)
	})
}
