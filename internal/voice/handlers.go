package voice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/opuscore/voicecore/internal/cryptobox"
)

// rtpHeaderSize mirrors the udp package's RTP header length; inbound
// packets are parsed here rather than in the udp package because
// decryption needs the session secret key the event loop holds.
const rtpHeaderSize = 12

// handleMessage dispatches one decoded control-channel frame. It always
// runs on the Run event-loop goroutine, so every state transition below
// is data-race free without extra locking (spec.md §5).
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	op, d, err := decodeEnvelope(raw)
	if err != nil {
		c.logger.Println("voice: decode envelope failed:", err)
		return
	}
	switch op {
	case OpHello:
		c.handleHello(ctx, d)
	case OpReady:
		c.handleReady(ctx, d)
	case OpSessionDescription:
		c.handleSessionDescription(ctx, d)
	case OpSpeaking:
		c.handleSpeaking(d)
	case OpHeartbeatAck:
		// Nothing to do; the heartbeat loop doesn't track acks yet.
	case OpResumed:
		c.logger.Println("voice: resumed")
	default:
		c.logger.Printf("voice: unhandled opcode %s\n", op)
	}
}

// handleHello starts the heartbeat loop at the server-assigned interval
// and sends Identify, per spec.md §4.4 step 2.
func (c *Client) handleHello(ctx context.Context, d json.RawMessage) {
	hello, err := decodeHello(d)
	if err != nil {
		c.logger.Println("voice: decode hello failed:", err)
		return
	}
	c.heartbeatIntv = millisToDuration(hello.HeartbeatInterval)

	c.runningGoros.Add(1)
	go c.heartbeatLoop(ctx)

	raw, err := encodeIdentify(c.cfg)
	if err != nil {
		c.logger.Println("voice: encode identify failed:", err)
		return
	}
	if err := c.ws.Send(ctx, raw); err != nil {
		c.logger.Println("voice: send identify failed:", err)
		return
	}
	c.setState(StateIdentified)
}

// handleReady records the server's SSRC and UDP endpoint, opens the UDP
// socket, and runs IP discovery before selecting the encryption
// protocol (spec.md §4.4 steps 3-5).
func (c *Client) handleReady(ctx context.Context, d json.RawMessage) {
	ready, err := decodeReady(d)
	if err != nil {
		c.logger.Println("voice: decode ready failed:", err)
		return
	}
	if !hasMode(ready.Modes, "xsalsa20_poly1305") {
		c.logger.Println("voice: server offered no supported encryption mode")
		return
	}
	c.localSSRC = ready.SSRC
	c.setState(StateDiscovering)

	if err := c.udp.Connect(ready.IP, ready.Port); err != nil {
		c.logger.Println("voice: udp connect failed:", err)
		return
	}
	c.udp.SetSSRC(c.localSSRC)

	// Discovery reads the reply synchronously off the socket, so the
	// background receive loop must not start until after it completes -
	// otherwise the two would race for the same datagram.
	localIP, localPort, err := c.discoverReflexiveAddr()
	if err != nil {
		c.logger.Println("voice: ip discovery failed:", err)
		return
	}

	raw, err := encodeSelectProtocol(localIP, int(localPort))
	if err != nil {
		c.logger.Println("voice: encode select protocol failed:", err)
		return
	}
	if err := c.ws.Send(ctx, raw); err != nil {
		c.logger.Println("voice: send select protocol failed:", err)
		return
	}
	c.setState(StateSelected)
}

// discoverReflexiveAddr runs the IP discovery handshake over the UDP
// socket already connected to the voice server, blocking the event loop
// for up to discoveryTimeout (spec.md §4.4 step 4). Discovery happens
// before the receive loop starts consuming datagrams into the dispatch
// channel, so it reads the reply directly off the socket.
func (c *Client) discoverReflexiveAddr() (string, uint16, error) {
	req := buildDiscoveryRequest(c.localSSRC)
	if err := c.udp.Send(req); err != nil {
		return "", 0, fmt.Errorf("voice: send discovery request: %w", err)
	}
	reply, err := c.udp.Receive(discoveryTimeout)
	if err != nil {
		return "", 0, fmt.Errorf("voice: receive discovery reply: %w", err)
	}
	return parseDiscoveryReply(reply)
}

// handleSessionDescription stores the session secret key, starts the UDP
// keepalive loop, and sends the five silence frames Discord requires
// before it relays inbound audio (spec.md §4.4 step 6, §7).
func (c *Client) handleSessionDescription(ctx context.Context, d json.RawMessage) {
	key, err := decodeSessionDescription(d)
	if err != nil {
		c.logger.Println("voice: decode session description failed:", err)
		return
	}
	c.secretKey = cryptobox.Key(key.SecretKey)
	c.udp.SetSecretKey(c.secretKey)
	c.udp.Run()

	c.runningGoros.Add(1)
	go c.udpReadLoop()

	c.runningGoros.Add(1)
	go c.keepaliveLoop()

	for i := 0; i < silenceFrameCount; i++ {
		if err := c.udp.SendEncrypted(silenceFrame); err != nil {
			c.logger.Println("voice: send silence frame failed:", err)
			break
		}
	}

	c.setState(StateStreaming)
}

// handleSpeaking updates the SSRC<->user table and re-emits the event to
// listeners (spec.md §3, §6).
func (c *Client) handleSpeaking(d json.RawMessage) {
	speaking, err := decodeSpeaking(d)
	if err != nil {
		c.logger.Println("voice: decode speaking failed:", err)
		return
	}
	c.ssrc.Set(speaking.UserID, speaking.SSRC)
	c.emitSpeaking(speaking.UserID, speaking.SSRC, SpeakingFlags(speaking.Speaking))
}

// handleUDPData authenticates and decrypts one inbound RTP-framed
// datagram and, on success, hands the Opus payload to the audio
// subsystem keyed by the sending SSRC (spec.md §4.1, §7). Datagrams that
// fail authentication are silently dropped, per spec.md §8 scenario 5.
func (c *Client) handleUDPData(packet []byte) {
	if len(packet) < rtpHeaderSize {
		return
	}
	ssrc := binary.BigEndian.Uint32(packet[8:12])

	var nonce cryptobox.Nonce
	copy(nonce[:12], packet[:12])

	plain, ok := cryptobox.Open(nil, packet[rtpHeaderSize:], &nonce, &c.secretKey)
	if !ok {
		return
	}
	c.audio.FeedOpus(ssrc, plain)
}

// udpReadLoop drains decrypted-ready datagrams from the UDP transport
// and hands each to handleUDPData. It exits when done closes, same as
// every other auxiliary goroutine teardown joins.
func (c *Client) udpReadLoop() {
	defer c.runningGoros.Done()
	for {
		select {
		case packet := <-c.udp.Data():
			c.handleUDPData(packet)
		case <-c.done:
			return
		}
	}
}
