package ksef

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_StatusTable(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{400, KindValidation, false},
		{401, KindAuthentication, false},
		{403, KindAuthentication, false},
		{409, KindDuplicateInvoice, false},
		{429, KindRateLimit, true},
		{500, KindServer, true},
		{501, KindServer, true},
		{502, KindServer, true},
		{503, KindServer, true},
		{504, KindServer, true},
		{505, KindNetwork, true},
		{599, KindNetwork, true},
		{404, KindNetwork, false},
		{405, KindNetwork, false},
		{410, KindNetwork, false},
		{422, KindNetwork, false},
		{302, KindNetwork, false},
		{418, KindNetwork, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			gerr := Classify(tt.status, nil)
			assert.Equal(t, tt.kind, gerr.Kind)
			assert.Equal(t, tt.retryable, gerr.Retryable)
			assert.Equal(t, tt.status, gerr.HTTPStatus)
		})
	}
}

func TestClassify_AllStatusesAreMapped(t *testing.T) {
	for status := 100; status < 600; status++ {
		gerr := Classify(status, nil)
		require.NotEmpty(t, gerr.Kind, "status %d", status)
		assert.NotEqual(t, KindSession, gerr.Kind, "status %d", status)
		if gerr.Kind == KindNetwork {
			assert.Equal(t, status >= 500, gerr.Retryable, "status %d", status)
		}
	}
}

func TestClassify_Message(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"Invoice schema invalid"}`, "Invoice schema invalid"},
		{"error field", `{"error":"token expired"}`, "token expired"},
		{"first field wins", `{"error":"b","message":"a"}`, "b"},
		{
			"exception detail",
			`{"exception":{"exceptionDetailList":[{"exceptionCode":21405,"exceptionDescription":"Błąd walidacji danych wejściowych.","details":["NIP"]}],"referenceNumber":"x"}}`,
			"Błąd walidacji danych wejściowych.",
		},
		{"not json", `<html>bad gateway</html>`, "Invalid request (HTTP 400)"},
		{"empty", ``, "Invalid request (HTTP 400)"},
		{"wrong type", `{"message":12}`, "Invalid request (HTTP 400)"},
		{"truncated", `{"message":"abc`, "Invalid request (HTTP 400)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gerr := Classify(400, []byte(tt.body))
			assert.Equal(t, tt.want, gerr.Message)
		})
	}
}

func TestClassify_ExceptionDetails(t *testing.T) {
	body := `{"exception":{"exceptionDetailList":[{"exceptionCode":440,"details":["Duplikat faktury"]}]}}`

	gerr := Classify(409, []byte(body))
	require.Len(t, gerr.Details, 1)
	assert.Equal(t, 440, gerr.Details[0].Code)
	assert.Equal(t, "Duplikat faktury", gerr.Details[0].Message)
	assert.Equal(t, "Duplikat faktury", gerr.Message)
	assert.Equal(t, KindDuplicateInvoice, gerr.Kind)
}

func TestClassifyTransport(t *testing.T) {
	cause := errors.New("connection reset by peer")
	gerr := ClassifyTransport(cause)

	assert.Equal(t, KindNetwork, gerr.Kind)
	assert.True(t, gerr.Retryable)
	assert.Zero(t, gerr.HTTPStatus)
	assert.ErrorIs(t, gerr, cause)
}

func TestClassifyTransport_ContextErrors(t *testing.T) {
	for _, cause := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		errors.Wrap(context.DeadlineExceeded, "Post \"https://api-test.ksef.mf.gov.pl/v2/online/session/interactive\""),
	} {
		gerr := ClassifyTransport(cause)
		assert.Equal(t, KindNetwork, gerr.Kind, cause.Error())
		assert.False(t, gerr.Retryable, cause.Error())
		assert.False(t, IsRetryable(gerr), cause.Error())
	}
}

type unknownOutcomeError struct{ err error }

func (e *unknownOutcomeError) Error() string        { return "unknown: " + e.err.Error() }
func (e *unknownOutcomeError) Unwrap() error        { return e.err }
func (e *unknownOutcomeError) OutcomeUnknown() bool { return true }

func TestIsRetryable_UnknownOutcome(t *testing.T) {
	inner := Classify(503, nil)
	require.True(t, IsRetryable(inner))

	err := errors.Wrap(&unknownOutcomeError{err: inner}, "close")
	assert.True(t, IsOutcomeUnknown(err))
	assert.False(t, IsRetryable(err))

	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.True(t, gerr.Retryable)
}

func TestErrSessionNotActive(t *testing.T) {
	gerr := ErrSessionNotActive()
	assert.Equal(t, KindSession, gerr.Kind)
	assert.False(t, gerr.Retryable)
	assert.False(t, IsRetryable(gerr))
}

func TestIsRetryable_Wrapped(t *testing.T) {
	err := errors.Wrap(Classify(503, nil), "submit")
	assert.True(t, IsRetryable(err))

	gerr, ok := AsGatewayError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, gerr.Kind)

	assert.False(t, IsRetryable(NewParseError("a.xml", errors.New("bad"))))
	assert.False(t, IsRetryable(nil))
}

func TestNormalizeTaxID(t *testing.T) {
	assert.Equal(t, "5261040828", NormalizeTaxID("526-104-08-28"))
	assert.Equal(t, "5261040828", NormalizeTaxID(" 526 10 40 828 "))
	assert.Equal(t, "DE123456789", NormalizeTaxID("de 123-456-789"))
	assert.Equal(t, "", NormalizeTaxID(""))
}

func TestEnvironment_UnmarshalText(t *testing.T) {
	var e Environment
	require.NoError(t, e.UnmarshalText([]byte(" Demo ")))
	assert.Equal(t, Demo, e)
	assert.Equal(t, "https://api-demo.ksef.mf.gov.pl/v2", e.BaseURL())
	assert.Error(t, e.UnmarshalText([]byte("staging")))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("KSEF_ENV", "prod")
	t.Setenv("KSEF_BASE_URL", "http://localhost:8080/v2/")
	t.Setenv("KSEF_PUBLIC_KEY_FILE", "")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Prod, cfg.Environment)
	assert.Equal(t, "http://localhost:8080/v2/online/session/interactive", cfg.URL("/online/session/interactive"))
}
