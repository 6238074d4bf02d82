package gateway

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestCloseCodeClassification(t *testing.T) {
	testCases := []struct {
		code CloseCode
		want CloseAction
	}{
		{CloseUnknownError, ActionResume},
		{CloseUnknownOpcode, ActionResume},
		{CloseDecodeError, ActionResume},
		{CloseNotAuthenticated, ActionResume},
		{CloseAlreadyAuthenticated, ActionResume},
		{CloseRateLimited, ActionResume},
		{CloseAbnormal, ActionResume},
		{closeReconnect, ActionResume},
		{CloseNormal, ActionIdentify},
		{CloseGoingAway, ActionIdentify},
		{CloseInvalidSeq, ActionIdentify},
		{CloseSessionTimedOut, ActionIdentify},
		{CloseAuthenticationFailed, ActionFatalAuth},
		{CloseInvalidShard, ActionFatalConfig},
		{CloseShardingRequired, ActionFatalConfig},
		{CloseInvalidAPIVersion, ActionFatalConfig},
		{CloseInvalidIntents, ActionFatalConfig},
		{CloseDisallowedIntents, ActionFatalConfig},
	}
	for _, tc := range testCases {
		if got := tc.code.Action(); got != tc.want {
			t.Errorf("code %d: got %s want %s", tc.code, got, tc.want)
		}
		wrapped := fmt.Errorf("connection ended: %w", &CloseError{Code: tc.code})
		if got := classify(wrapped); got != tc.want {
			t.Errorf("classify(%d): got %s want %s", tc.code, got, tc.want)
		}
	}
}

func TestClassifyTransportFailures(t *testing.T) {
	for _, err := range []error{io.ErrUnexpectedEOF, errZombie, errReconnectRequested, errConnectTimeout, errTooManyDecodeErrors, &InvalidSessionError{Resumable: true}} {
		if got := classify(err); got != ActionResume {
			t.Errorf("%v: got %s want resume", err, got)
		}
	}
	if got := classify(&InvalidSessionError{Resumable: false}); got != ActionIdentify {
		t.Errorf("non resumable invalid session: got %s", got)
	}
	if reason(errors.Join(errZombie)) != "zombie" {
		t.Errorf("zombie reason not detected")
	}
	if reason(&CloseError{Code: 4008}) != "4008" {
		t.Errorf("close code reason not detected")
	}
}

func TestCloseErrorRetryAfter(t *testing.T) {
	testCases := []struct {
		reason string
		want   time.Duration
	}{
		{"", 0},
		{"You are being rate limited.", 0},
		{"rate limited retry_after=90", 90 * time.Second},
		{"retry_after=1.5", 1500 * time.Millisecond},
	}
	for _, tc := range testCases {
		got := (&CloseError{Code: CloseRateLimited, Reason: tc.reason}).RetryAfter()
		if got != tc.want {
			t.Errorf("%q: got %s want %s", tc.reason, got, tc.want)
		}
	}
}
