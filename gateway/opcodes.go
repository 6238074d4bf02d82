package gateway

import (
	"fmt"
	"strings"
)

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

var opcodeNames = map[Opcode]string{
	OpDispatch:            "Dispatch",
	OpHeartbeat:           "Heartbeat",
	OpIdentify:            "Identify",
	OpPresenceUpdate:      "PresenceUpdate",
	OpVoiceStateUpdate:    "VoiceStateUpdate",
	OpResume:              "Resume",
	OpReconnect:           "Reconnect",
	OpRequestGuildMembers: "RequestGuildMembers",
	OpInvalidSession:      "InvalidSession",
	OpHello:               "Hello",
	OpHeartbeatAck:        "HeartbeatAck",
}

// opcodesByName is keyed by the lower cased name with separators removed, so "heartbeat_ack",
// "HEARTBEAT_ACK" and "HeartbeatAck" all resolve.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[normalizeName(name)] = op
	}
	return m
}()

func normalizeName(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// ParseOpcode resolves an opcode from its name.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[normalizeName(name)]
	return op, ok
}

// Valid reports whether o is an opcode this client knows.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}
