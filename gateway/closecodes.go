package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// CloseCode is the WebSocket close status sent by the gateway.
type CloseCode int

const (
	CloseNormal    CloseCode = 1000
	CloseGoingAway CloseCode = 1001
	CloseAbnormal  CloseCode = 1006

	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSeq           CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014

	// closeReconnect is sent by this client when it drops a connection it intends to resume. Any code
	// other than 1000/1001 keeps the session alive server side.
	closeReconnect CloseCode = 4900
)

// CloseAction is what the shard does after a connection ends.
type CloseAction int

const (
	// ActionResume reconnects and resumes the existing session if there is one.
	ActionResume CloseAction = iota
	// ActionIdentify discards the session and identifies again.
	ActionIdentify
	// ActionFatalAuth stops the shard. The token is bad.
	ActionFatalAuth
	// ActionFatalConfig stops the shard. The identify payload can never succeed.
	ActionFatalConfig
)

func (a CloseAction) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionIdentify:
		return "identify"
	case ActionFatalAuth:
		return "fatal_auth"
	case ActionFatalConfig:
		return "fatal_config"
	}
	return fmt.Sprintf("CloseAction(%d)", int(a))
}

// Action classifies a close code.
func (c CloseCode) Action() CloseAction {
	switch c {
	case CloseNormal, CloseGoingAway, CloseInvalidSeq, CloseSessionTimedOut:
		return ActionIdentify
	case CloseAuthenticationFailed:
		return ActionFatalAuth
	case CloseInvalidShard, CloseShardingRequired, CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return ActionFatalConfig
	}
	return ActionResume
}

// CloseError is a connection closed by the remote end with a close frame.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway: closed with %d", e.Code)
	}
	return fmt.Sprintf("gateway: closed with %d: %s", e.Code, e.Reason)
}

var retryAfterRE = regexp.MustCompile(`retry_after=([0-9]+(?:\.[0-9]+)?)`)

// RetryAfter returns the cooldown carried in the close reason as "retry_after=<seconds>", or zero.
func (e *CloseError) RetryAfter() time.Duration {
	m := retryAfterRE.FindStringSubmatch(e.Reason)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// classify decides what to do after a connection ended with err. Anything which is not a close
// frame is a transport failure and resumable.
func classify(err error) CloseAction {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code.Action()
	}
	var invalid *InvalidSessionError
	if errors.As(err, &invalid) && !invalid.Resumable {
		return ActionIdentify
	}
	return ActionResume
}

// reason is a metrics label for why a connection ended.
func reason(err error) string {
	var closeErr *CloseError
	var invalid *InvalidSessionError
	switch {
	case errors.As(err, &closeErr):
		return strconv.Itoa(int(closeErr.Code))
	case errors.As(err, &invalid):
		return "invalid_session"
	case errors.Is(err, errZombie):
		return "zombie"
	case errors.Is(err, errReconnectRequested):
		return "reconnect_requested"
	case errors.Is(err, errConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, errTooManyDecodeErrors):
		return "decode_errors"
	}
	return "transport"
}
