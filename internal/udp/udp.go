// Package udp owns the single datagram socket that carries RTP-framed,
// XSalsa20-Poly1305-encrypted Opus audio between the client and a voice
// server. It performs peer-address filtering on ingress and RTP framing
// plus encryption on egress; decryption is the caller's job, since this
// package is constructed before the caller's SSRC map exists.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opuscore/voicecore/internal/cryptobox"
)

// rtpHeaderLen is the fixed RTP header size this package writes: version
// byte, payload-type byte, 16-bit sequence, 32-bit timestamp, 32-bit SSRC.
const rtpHeaderLen = 12

// readBufSize is sized well above any single Opus frame plus header and MAC.
const readBufSize = 4096

// receiveCeiling bounds how long the background receive loop blocks
// between checks of the stop signal, so Stop observes cancellation
// within one second even with no inbound traffic.
const receiveCeiling = time.Second

var (
	// ErrNotReady is returned by SendEncrypted before both SetSSRC and
	// SetSecretKey have been called.
	ErrNotReady = errors.New("udp: ssrc or secret key not set")
	// ErrNotConnected is returned by any operation requiring a bound
	// socket before Connect has succeeded.
	ErrNotConnected = errors.New("udp: not connected")
)

// Transport owns one datagram socket bound to a single voice-server peer.
type Transport struct {
	mu   sync.Mutex
	conn *net.UDPConn
	peer *net.UDPAddr

	ssrc    uint32
	ssrcSet bool
	key     cryptobox.Key
	keySet  bool

	// sequence/timestamp are advanced only by SendEncrypted, which the
	// voice client drives from a single producer goroutine; no lock
	// guards them, matching the spec's single-writer invariant.
	sequence  uint16
	timestamp uint32

	data    chan []byte
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// New returns an unconnected Transport.
func New() *Transport {
	return &Transport{data: make(chan []byte, 64)}
}

// Connect binds a fresh datagram socket and records the peer address.
// Failure here is fatal to the owning session.
func (t *Transport) Connect(ip string, port int) error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("udp: listen: %w", err)
	}
	peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		conn.Close()
		return fmt.Errorf("udp: resolve peer: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.peer = peer
	t.mu.Unlock()
	return nil
}

// SetSSRC is a one-shot setter that must be called before SendEncrypted
// or Run.
func (t *Transport) SetSSRC(ssrc uint32) {
	t.ssrc = ssrc
	t.ssrcSet = true
}

// SetSecretKey is a one-shot setter that must be called before
// SendEncrypted or Run.
func (t *Transport) SetSecretKey(key cryptobox.Key) {
	t.key = key
	t.keySet = true
}

// Send transmits an unframed datagram. Used only during IP discovery and
// for the raw two-byte keepalive marker.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn, peer := t.conn, t.peer
	t.mu.Unlock()
	if conn == nil || peer == nil {
		return ErrNotConnected
	}
	_, err := conn.WriteToUDP(data, peer)
	return err
}

// SendEncrypted frames payload as RTP and transmits it sealed with
// XSalsa20-Poly1305. Sequence and timestamp are incremented BEFORE the
// header is built, so the first transmitted packet carries sequence=1,
// timestamp=480 — this ordering is load-bearing for interop and must not
// be "corrected."
func (t *Transport) SendEncrypted(payload []byte) error {
	if !t.ssrcSet || !t.keySet {
		return ErrNotReady
	}
	t.sequence++
	t.timestamp += 480

	header := make([]byte, rtpHeaderLen, rtpHeaderLen+len(payload)+cryptobox.MACSize)
	header[0] = 0x80
	header[1] = 0x78
	binary.BigEndian.PutUint16(header[2:4], t.sequence)
	binary.BigEndian.PutUint32(header[4:8], t.timestamp)
	binary.BigEndian.PutUint32(header[8:12], t.ssrc)

	var nonce cryptobox.Nonce
	copy(nonce[:rtpHeaderLen], header)

	packet := cryptobox.Seal(header, payload, &nonce, &t.key)
	return t.Send(packet)
}

// Sequence and Timestamp expose the current RTP counters, mostly for
// tests asserting the pacing invariants in spec.md §8.
func (t *Transport) Sequence() uint16   { return t.sequence }
func (t *Transport) Timestamp() uint32 { return t.timestamp }

// Receive performs a single synchronous datagram read, blocking until a
// datagram from the configured peer arrives. It is used only during IP
// discovery. timeout bounds the wait; on expiry it returns the
// deadline-exceeded error from the net package.
func (t *Transport) Receive(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn, peer := t.conn, t.peer
	t.mu.Unlock()
	if conn == nil || peer == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, readBufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		if samePeer(from, peer) {
			return append([]byte(nil), buf[:n]...), nil
		}
		// Datagram from an unexpected source: discard and keep waiting.
	}
}

// Data returns the channel on which accepted datagrams (those whose
// source matches the peer) are emitted once Run is active. It plays the
// role of the source's signal_data.
func (t *Transport) Data() <-chan []byte {
	return t.data
}

// Run starts the background receive loop. Idempotent.
func (t *Transport) Run() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go t.receiveLoop()
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	t.mu.Lock()
	conn, peer, stop := t.conn, t.peer, t.stop
	t.mu.Unlock()
	if conn == nil {
		return
	}

	buf := make([]byte, readBufSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(receiveCeiling))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			// The loop never exits on a single read error other than the
			// stop flag; a transient error (e.g. an ICMP-induced
			// ECONNREFUSED surfaced on a later read) must not permanently
			// kill inbound audio.
			continue
		}
		if n < 0 || !samePeer(from, peer) {
			continue
		}

		payload := append([]byte(nil), buf[:n]...)
		select {
		case t.data <- payload:
		case <-stop:
			return
		}
	}
}

// Stop stops and joins the receive loop, then closes the socket.
// Idempotent and safe to call from any goroutine.
func (t *Transport) Stop() {
	t.mu.Lock()
	running := t.running
	t.running = false
	stop := t.stop
	conn := t.conn
	t.mu.Unlock()

	if running {
		close(stop)
	}
	t.wg.Wait()
	if conn != nil {
		conn.Close()
	}
}

func samePeer(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
