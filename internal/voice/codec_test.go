package voice

import (
	"encoding/json"
	"testing"
)

func TestEncodeIdentifyRoundTrip(t *testing.T) {
	cfg := Config{
		ServerID:  "server-1",
		UserID:    "user-1",
		SessionID: "session-1",
		Token:     "token-1",
		Streams:   []StreamDescriptor{{Type: "video", RID: "100", Quality: 100}},
	}
	raw, err := encodeIdentify(cfg)
	if err != nil {
		t.Fatalf("encode identify: %v", err)
	}

	op, d, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if op != OpIdentify {
		t.Fatalf("op = %s, want IDENTIFY", op)
	}

	var got identifyData
	if err := json.Unmarshal(d, &got); err != nil {
		t.Fatalf("unmarshal identify: %v", err)
	}
	if got.ServerID != cfg.ServerID || got.UserID != cfg.UserID ||
		got.SessionID != cfg.SessionID || got.Token != cfg.Token {
		t.Fatalf("identify payload = %+v", got)
	}
	if len(got.Streams) != 1 || got.Streams[0].RID != "100" {
		t.Fatalf("streams = %+v", got.Streams)
	}
}

func TestEncodeHeartbeatRoundTrip(t *testing.T) {
	raw, err := encodeHeartbeat(42)
	if err != nil {
		t.Fatalf("encode heartbeat: %v", err)
	}
	op, d, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if op != OpHeartbeat {
		t.Fatalf("op = %s, want HEARTBEAT", op)
	}
	var nonce uint64
	if err := json.Unmarshal(d, &nonce); err != nil {
		t.Fatalf("unmarshal nonce: %v", err)
	}
	if nonce != 42 {
		t.Fatalf("nonce = %d, want 42", nonce)
	}
}

func TestEncodeSelectProtocolRoundTrip(t *testing.T) {
	raw, err := encodeSelectProtocol("203.0.113.5", 4321)
	if err != nil {
		t.Fatalf("encode select protocol: %v", err)
	}
	op, d, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if op != OpSelectProtocol {
		t.Fatalf("op = %s, want SELECT_PROTOCOL", op)
	}
	var got selectProtocolData
	if err := json.Unmarshal(d, &got); err != nil {
		t.Fatalf("unmarshal select protocol: %v", err)
	}
	if got.Data.Address != "203.0.113.5" || got.Data.Port != 4321 || got.Data.Mode != "xsalsa20_poly1305" {
		t.Fatalf("select protocol data = %+v", got.Data)
	}
}

func TestEncodeSpeakingRoundTrip(t *testing.T) {
	raw, err := encodeSpeaking(777, SpeakingMicrophone|SpeakingPriority)
	if err != nil {
		t.Fatalf("encode speaking: %v", err)
	}
	op, d, err := decodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if op != OpSpeaking {
		t.Fatalf("op = %s, want SPEAKING", op)
	}
	var got speakingOutData
	if err := json.Unmarshal(d, &got); err != nil {
		t.Fatalf("unmarshal speaking: %v", err)
	}
	if got.SSRC != 777 || SpeakingFlags(got.Speaking) != SpeakingMicrophone|SpeakingPriority {
		t.Fatalf("speaking data = %+v", got)
	}
}

func TestDecodeSessionDescriptionFixedArray(t *testing.T) {
	// secret_key arrives as a literal JSON array of 32 small integers,
	// never as a base64 string; this asserts SecretKey decodes that shape.
	keyInts := make([]int, 32)
	for i := range keyInts {
		keyInts[i] = i
	}
	body, err := json.Marshal(struct {
		Mode      string `json:"mode"`
		SecretKey []int  `json:"secret_key"`
	}{Mode: "xsalsa20_poly1305", SecretKey: keyInts})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	got, err := decodeSessionDescription(body)
	if err != nil {
		t.Fatalf("decode session description: %v", err)
	}
	for i := 0; i < 32; i++ {
		if got.SecretKey[i] != byte(i) {
			t.Fatalf("secret_key[%d] = %d, want %d", i, got.SecretKey[i], i)
		}
	}
}

func TestHasMode(t *testing.T) {
	modes := []string{"aead_aes256_gcm_rtpsize", "xsalsa20_poly1305"}
	if !hasMode(modes, "xsalsa20_poly1305") {
		t.Fatal("expected xsalsa20_poly1305 to be found")
	}
	if hasMode(modes, "plain") {
		t.Fatal("did not expect plain to be found")
	}
}
