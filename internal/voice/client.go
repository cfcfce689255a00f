// Package voice is the orchestrator: it holds the protocol state
// machine, the WebSocket control channel, the UDP transport, the
// session secret key, the SSRC tables, and the heartbeat/keepalive
// timer goroutines. It drives the handshake, wires the audio subsystem
// to the transport, and exposes observable events to listeners.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opuscore/voicecore/internal/cryptobox"
	"github.com/opuscore/voicecore/internal/gatewayconn"
	"github.com/opuscore/voicecore/internal/udp"
	"github.com/opuscore/voicecore/internal/waiter"
)

// State is a node in the voice client's handshake state machine
// (spec.md §4.4).
type State int8

const (
	StateIdle State = iota
	StateConnecting
	StateWaitHello
	StateIdentified
	StateDiscovering
	StateSelected
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateWaitHello:
		return "wait_hello"
	case StateIdentified:
		return "identified"
	case StateDiscovering:
		return "discovering"
	case StateSelected:
		return "selected"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// keepaliveInterval and discoveryTimeout are fixed per spec.md §4.4; the
// heartbeat interval is server-assigned and arrives in Hello.
const (
	keepaliveInterval = 10 * time.Second
	discoveryTimeout  = 5 * time.Second
	silenceFrameCount = 5
)

// silenceFrame is the three-byte Opus silence frame sent five times
// right after SessionDescription, which Discord requires before it will
// start relaying inbound audio to this session.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// keepaliveMarker is the raw two-byte UDP NAT-refresh datagram.
var keepaliveMarker = []byte{0x13, 0x37}

// Config is the session identity set before Start and held immutable
// for the session's lifetime.
type Config struct {
	Endpoint  string // host:port of the voice gateway, no scheme
	SessionID string
	Token     string
	ServerID  string
	UserID    string
	// Streams reserves the Identify payload's video/screen-share field;
	// leave nil unless the caller is opting into that out-of-scope path.
	Streams []StreamDescriptor
}

var (
	ErrAlreadyStarted = errors.New("voice: client already started")
	ErrNotStreaming   = errors.New("voice: not streaming")
)

// Client is the voice client core. The zero value is not usable; build
// one with New or NewWithConn.
type Client struct {
	cfg    Config
	logger *log.Logger
	audio  AudioPort

	ws  gatewayconn.Conn
	udp *udp.Transport

	ssrc *ssrcMap

	stateMu sync.Mutex
	state   State

	connected atomic.Bool

	localSSRC uint32
	secretKey cryptobox.Key

	heartbeatIntv time.Duration
	heartbeatW    *waiter.Waiter
	keepaliveW    *waiter.Waiter

	inbox        chan []byte
	wsClosed     chan error
	stopSignal   chan struct{}
	stopOnce     sync.Once
	done         chan struct{} // closed exactly once, by teardown
	teardownOnce sync.Once
	runningGoros sync.WaitGroup

	opusBuf []byte

	listenerMu     sync.Mutex
	onConnected    []func()
	onDisconnected []func()
	onSpeaking     []func(userID string, ssrc uint32, flags SpeakingFlags)
}

// New returns a Client that dials a real WebSocket.
func New(cfg Config, audio AudioPort, logger *log.Logger) *Client {
	return NewWithConn(cfg, audio, logger, gatewayconn.New())
}

// NewWithConn returns a Client using the supplied Conn, letting tests
// inject a mock WebSocket in place of nhooyr.io/websocket.
func NewWithConn(cfg Config, audio AudioPort, logger *log.Logger, ws gatewayconn.Conn) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		audio:  audio,
		ws:     ws,
		udp:    udp.New(),
		ssrc:   newSSRCMap(),

		heartbeatW: waiter.New(),
		keepaliveW: waiter.New(),

		opusBuf: make([]byte, 1024),
	}
	audio.SetOpusBuffer(c.opusBuf)
	audio.OnOpusReady(c.onOpusReady)
	return c
}

// State returns the current handshake state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// IsConnected reports the connection flag: true from a successful Start
// until Stop or a WebSocket close.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// GetSSRCOfUser returns the SSRC most recently bound to userID by a
// Speaking event.
func (c *Client) GetSSRCOfUser(userID string) (uint32, bool) {
	return c.ssrc.SSRCOfUser(userID)
}

// GetUserOfSSRC is the reverse accessor spec.md §3 requires.
func (c *Client) GetUserOfSSRC(ssrc uint32) (string, bool) {
	return c.ssrc.UserOfSSRC(ssrc)
}

// OnConnected registers a listener invoked each time Start connects a
// session. Unlike the other listeners, it runs on the goroutine that
// calls Start, not on the Run event-loop goroutine.
func (c *Client) OnConnected(fn func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onConnected = append(c.onConnected, fn)
}

// OnDisconnected registers a listener invoked once per Stop (or
// WebSocket close) that observed a previously-connected session.
func (c *Client) OnDisconnected(fn func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onDisconnected = append(c.onDisconnected, fn)
}

// OnSpeaking registers a listener invoked for every Speaking event,
// inbound or re-emitted after the SSRC map update.
func (c *Client) OnSpeaking(fn func(userID string, ssrc uint32, flags SpeakingFlags)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onSpeaking = append(c.onSpeaking, fn)
}

// Start opens the WebSocket to the configured voice endpoint. On success
// the client is in WaitHello and is_connected is true; the caller must
// then run Run(ctx) to process the handshake and subsequent protocol
// traffic on a single goroutine.
func (c *Client) Start(ctx context.Context) error {
	switch c.State() {
	case StateIdle, StateStopped:
		// ok: fresh session or a restart after a prior Stop.
	default:
		return ErrAlreadyStarted
	}
	c.setState(StateConnecting)

	url := fmt.Sprintf("wss://%s/?v=7", c.cfg.Endpoint)
	if err := c.ws.Dial(ctx, url); err != nil {
		c.setState(StateStopped)
		return fmt.Errorf("voice: dial: %w", err)
	}

	c.inbox = make(chan []byte, 64)
	c.wsClosed = make(chan error, 1)
	c.stopSignal = make(chan struct{})
	c.stopOnce = sync.Once{}
	c.done = make(chan struct{})
	c.teardownOnce = sync.Once{}

	c.heartbeatW.Revive()
	c.keepaliveW.Revive()

	c.runningGoros.Add(1)
	go c.wsReadLoop()

	c.setState(StateWaitHello)

	wasConnected := c.connected.Swap(true)
	if !wasConnected {
		c.emitConnected()
	}
	return nil
}

// Run drains the dispatch FIFO on a single goroutine, performing every
// protocol state transition, until the session ends or ctx is done. It
// is the event-loop design note's run() method: the host embeds this
// loop or bridges it to its own.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case <-c.stopSignal:
			c.teardown()
			return nil
		case err := <-c.wsClosed:
			c.teardown()
			return err
		case raw := <-c.inbox:
			c.handleMessage(ctx, raw)
		}
	}
}

// Stop is idempotent and safe to call from any goroutine. It stops the
// WebSocket and UDP transport, cancels the heartbeat/keepalive timers,
// joins their goroutines, and fires OnDisconnected exactly once if the
// session had observed is_connected==true.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		if c.stopSignal != nil {
			close(c.stopSignal)
		}
	})
}

// teardown performs the actual shutdown work; it is called once from
// Run, whichever of ctx-done/stopSignal/wsClosed fired first.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() { close(c.done) })
	c.ws.Close(gatewayconn.StatusNormalClosure, "")
	c.udp.Stop()
	c.heartbeatW.Cancel()
	c.keepaliveW.Cancel()
	c.runningGoros.Wait()
	c.setState(StateStopped)

	wasConnected := c.connected.Swap(false)
	if wasConnected {
		c.emitDisconnected()
	}
}

func (c *Client) emitConnected() {
	c.listenerMu.Lock()
	listeners := append([]func(){}, c.onConnected...)
	c.listenerMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Client) emitDisconnected() {
	c.listenerMu.Lock()
	listeners := append([]func(){}, c.onDisconnected...)
	c.listenerMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Client) emitSpeaking(userID string, ssrc uint32, flags SpeakingFlags) {
	c.listenerMu.Lock()
	listeners := append([]func(string, uint32, SpeakingFlags){}, c.onSpeaking...)
	c.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(userID, ssrc, flags)
	}
}

// wsReadLoop is the ws-reader thread of spec.md §5: it owns the socket
// read and pushes frames onto the dispatch FIFO for the event loop to
// drain. On error it reports once on wsClosed and exits.
func (c *Client) wsReadLoop() {
	defer c.runningGoros.Done()
	for {
		data, err := c.ws.Read(context.Background())
		if err != nil {
			select {
			case c.wsClosed <- err:
			default:
			}
			return
		}
		select {
		case c.inbox <- data:
		case <-c.done:
			return
		}
	}
}

// onOpusReady is the audio subsystem's ready callback: it is invoked
// from whatever goroutine the audio subsystem uses, and itself runs the
// single outbound producer (send_encrypted) that keeps RTP sequence
// numbers strictly increasing in send order. A host driving audio from
// more than one goroutine would break that invariant; spec.md §5 assumes
// a single producer.
func (c *Client) onOpusReady(size int) {
	if !c.IsConnected() {
		return
	}
	if err := c.udp.SendEncrypted(c.opusBuf[:size]); err != nil {
		c.logger.Println("voice: send encrypted failed:", err)
	}
}

// SetSpeaking sends an outbound Speaking update with the given bitflags
// (spec.md §6; the original always sent Microphone only, this core
// exposes the full trio — see SPEC_FULL.md's supplemented features).
func (c *Client) SetSpeaking(ctx context.Context, flags SpeakingFlags) error {
	if !c.IsConnected() {
		return ErrNotStreaming
	}
	raw, err := encodeSpeaking(c.localSSRC, flags)
	if err != nil {
		return err
	}
	return c.ws.Send(ctx, raw)
}
