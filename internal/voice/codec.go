package voice

import (
	"encoding/json"
	"fmt"
)

// decodeEnvelope splits a raw text frame into its opcode and payload.
// Unknown opcodes are not an error here; the caller ignores them.
func decodeEnvelope(raw []byte) (Opcode, json.RawMessage, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return 0, nil, fmt.Errorf("voice: decode envelope: %w", err)
	}
	return e.Op, e.D, nil
}

func encode(op Opcode, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("voice: encode op %s: %w", op, err)
	}
	return json.Marshal(envelope{Op: op, D: raw})
}

func encodeIdentify(cfg Config) ([]byte, error) {
	return encode(OpIdentify, identifyData{
		ServerID:  cfg.ServerID,
		UserID:    cfg.UserID,
		SessionID: cfg.SessionID,
		Token:     cfg.Token,
		Video:     true,
		Streams:   cfg.Streams,
	})
}

func encodeHeartbeat(nonce uint64) ([]byte, error) {
	return encode(OpHeartbeat, nonce)
}

func encodeSelectProtocol(address string, port int) ([]byte, error) {
	sub := selectProtocolSubData{Address: address, Port: port, Mode: "xsalsa20_poly1305"}
	return encode(OpSelectProtocol, selectProtocolData{
		Protocol: "udp",
		Address:  sub.Address,
		Port:     sub.Port,
		Mode:     sub.Mode,
		Data:     sub,
	})
}

func encodeSpeaking(ssrc uint32, flags SpeakingFlags) ([]byte, error) {
	return encode(OpSpeaking, speakingOutData{
		Speaking: int(flags),
		Delay:    0,
		SSRC:     ssrc,
	})
}

func decodeHello(d json.RawMessage) (helloData, error) {
	var h helloData
	if err := json.Unmarshal(d, &h); err != nil {
		return h, fmt.Errorf("voice: decode hello: %w", err)
	}
	return h, nil
}

func decodeReady(d json.RawMessage) (readyData, error) {
	var r readyData
	if err := json.Unmarshal(d, &r); err != nil {
		return r, fmt.Errorf("voice: decode ready: %w", err)
	}
	return r, nil
}

func decodeSessionDescription(d json.RawMessage) (sessionDescriptionData, error) {
	var s sessionDescriptionData
	if err := json.Unmarshal(d, &s); err != nil {
		return s, fmt.Errorf("voice: decode session description: %w", err)
	}
	return s, nil
}

func decodeSpeaking(d json.RawMessage) (speakingInData, error) {
	var s speakingInData
	if err := json.Unmarshal(d, &s); err != nil {
		return s, fmt.Errorf("voice: decode speaking: %w", err)
	}
	return s, nil
}

// hasMode reports whether want appears in modes, used to validate Ready's
// encryption-mode list per spec §6.
func hasMode(modes []string, want string) bool {
	for _, m := range modes {
		if m == want {
			return true
		}
	}
	return false
}
