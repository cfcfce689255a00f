package voice

import (
	"encoding/json"

	"nhooyr.io/websocket"
)

// Opcode is the voice gateway's "op" field. See spec §6.
type Opcode int8

const (
	OpIdentify           Opcode = 0
	OpSelectProtocol     Opcode = 1
	OpReady              Opcode = 2
	OpHeartbeat          Opcode = 3
	OpSessionDescription Opcode = 4
	OpSpeaking           Opcode = 5
	OpHeartbeatAck       Opcode = 6
	OpResume             Opcode = 7
	OpHello              Opcode = 8
	OpResumed            Opcode = 9
	OpClientDisconnect   Opcode = 13
)

var opcodeNames = map[Opcode]string{
	OpIdentify:           "IDENTIFY",
	OpSelectProtocol:     "SELECT_PROTOCOL",
	OpReady:              "READY",
	OpHeartbeat:          "HEARTBEAT",
	OpSessionDescription: "SESSION_DESCRIPTION",
	OpSpeaking:           "SPEAKING",
	OpHeartbeatAck:       "HEARTBEAT_ACK",
	OpResume:             "RESUME",
	OpHello:              "HELLO",
	OpResumed:            "RESUMED",
	OpClientDisconnect:   "CLIENT_DISCONNECT",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// Voice gateway close codes, per Discord's documented 4xxx range.
const (
	CloseUnknownOpcode       websocket.StatusCode = iota + 4001
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	CloseSessionInvalid
	_
	_
	CloseSessionTimeout
	_
	CloseServerNotFound
	CloseUnknownProtocol
	_
	CloseDisconnected
	CloseVoiceServerCrashed
	CloseUnknownEncryptionMode
)

// ResumableCloseCodes reports whether a voice gateway close code is one
// an outer orchestrator could reasonably resume from instead of starting
// a fresh session. This package only classifies the code; deciding
// whether to actually resume is the caller's policy (spec.md §7).
var ResumableCloseCodes = map[websocket.StatusCode]bool{
	CloseUnknownOpcode:         true,
	CloseDecodeError:           true,
	CloseNotAuthenticated:      true,
	CloseAuthenticationFailed:  false,
	CloseAlreadyAuthenticated:  true,
	CloseSessionInvalid:        false,
	CloseSessionTimeout:        false,
	CloseServerNotFound:        false,
	CloseUnknownProtocol:       true,
	CloseDisconnected:          false,
	CloseVoiceServerCrashed:    true,
	CloseUnknownEncryptionMode: true,
	websocket.StatusNormalClosure:  false,
	websocket.StatusServiceRestart: true,
}

// envelope is the wire shape every voice gateway message shares:
// {"op": <int>, "d": <any>}.
type envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// SpeakingFlags are the bitflags carried by opcode Speaking.
type SpeakingFlags int

const (
	SpeakingMicrophone SpeakingFlags = 1 << 0
	SpeakingSoundshare SpeakingFlags = 1 << 1
	SpeakingPriority   SpeakingFlags = 1 << 2
)

type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// StreamDescriptor reserves the Identify payload's video/screen-share
// stream field. The core never encodes or decodes the media itself; it
// only carries whatever the caller supplies here, per spec.md's scope
// note that only the field reservation survives.
type StreamDescriptor struct {
	Type    string `json:"type"`
	RID     string `json:"rid"`
	Quality int    `json:"quality"`
}

type identifyData struct {
	ServerID  string             `json:"server_id"`
	UserID    string             `json:"user_id"`
	SessionID string             `json:"session_id"`
	Token     string             `json:"token"`
	Video     bool               `json:"video"`
	Streams   []StreamDescriptor `json:"streams,omitempty"`
}

type readyStream struct {
	Active  bool   `json:"active"`
	Quality int    `json:"quality"`
	RID     string `json:"rid"`
	RTXSSRC uint32 `json:"rtx_ssrc"`
	SSRC    uint32 `json:"ssrc"`
	Type    string `json:"type"`
}

type readyData struct {
	IP         string          `json:"ip"`
	Port       int             `json:"port"`
	SSRC       uint32          `json:"ssrc"`
	Modes      []string        `json:"modes"`
	Experiments json.RawMessage `json:"experiments,omitempty"`
	Streams    []readyStream   `json:"streams,omitempty"`
}

type selectProtocolSubData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    string `json:"mode"`
}

type selectProtocolData struct {
	Protocol string                 `json:"protocol"`
	Address  string                 `json:"address"`
	Port     int                    `json:"port"`
	Mode     string                 `json:"mode"`
	Data     selectProtocolSubData  `json:"data"`
}

// SecretKey is a fixed-size array, not a slice: encoding/json base64-
// encodes []byte but decodes a fixed array element-by-element, and the
// wire format is a JSON array of 32 small integers, not a base64 string.
type sessionDescriptionData struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

type speakingOutData struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

type speakingInData struct {
	UserID   string `json:"user_id"`
	SSRC     uint32 `json:"ssrc"`
	Speaking int    `json:"speaking"`
}
