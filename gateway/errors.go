package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationFailed is returned by Shard.Run when the gateway rejects the token. It is terminal.
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
	// ErrRetriesExhausted is returned by Shard.Run once MaxReconnectAttempts consecutive attempts failed.
	ErrRetriesExhausted = errors.New("gateway: reconnect attempts exhausted")
	// ErrShardStopped is returned once Stop has been called.
	ErrShardStopped = errors.New("gateway: shard stopped")
	// ErrInvalidConfiguration is returned when the gateway closes with a configuration close code
	// (invalid shard, sharding required, invalid API version, invalid or disallowed intents).
	ErrInvalidConfiguration = errors.New("gateway: invalid configuration")

	errNotConnected        = errors.New("gateway: not connected")
	errZombie              = errors.New("gateway: heartbeat acks stopped arriving")
	errReconnectRequested  = errors.New("gateway: server requested reconnect")
	errConnectTimeout      = errors.New("gateway: timed out waiting for READY")
	errTooManyDecodeErrors = errors.New("gateway: too many consecutive decode errors")
)

// ProtocolError reports a well formed frame this client cannot interpret. Only the frame is dropped.
type ProtocolError struct {
	Op     int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway: protocol error for opcode %d: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("gateway: unknown opcode %d", e.Op)
}

// DecodeError reports a malformed frame.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gateway: malformed %s frame: %s", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// InvalidSessionError is returned by a connection when the server sends Invalid Session and the
// session may be resumed.
type InvalidSessionError struct {
	Resumable bool
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("gateway: invalid session (resumable=%v)", e.Resumable)
}
