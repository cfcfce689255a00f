package udp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/opuscore/voicecore/internal/cryptobox"
)

// fakePeer is a bare UDP socket standing in for the voice server during
// tests: it owns its own address so a Transport can Connect to it.
func fakePeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func connectedTransport(t *testing.T, peer *net.UDPConn) *Transport {
	t.Helper()
	addr := peer.LocalAddr().(*net.UDPAddr)
	tr := New()
	if err := tr.Connect("127.0.0.1", addr.Port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(tr.Stop)
	var key cryptobox.Key
	tr.SetSSRC(0xAABBCCDD)
	tr.SetSecretKey(key)
	return tr
}

func readOne(t *testing.T, peer *net.UDPConn) []byte {
	t.Helper()
	peer.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read from peer: %v", err)
	}
	return buf[:n]
}

func TestSendEncryptedHeaderFields(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)

	if err := tr.SendEncrypted([]byte("hello")); err != nil {
		t.Fatalf("send encrypted: %v", err)
	}
	pkt := readOne(t, peer)

	if len(pkt) != rtpHeaderLen+len("hello")+cryptobox.MACSize {
		t.Fatalf("packet length = %d", len(pkt))
	}
	if pkt[0] != 0x80 || pkt[1] != 0x78 {
		t.Fatalf("version/payload-type bytes = %x %x", pkt[0], pkt[1])
	}
	if seq := binary.BigEndian.Uint16(pkt[2:4]); seq != 1 {
		t.Fatalf("first packet sequence = %d, want 1", seq)
	}
	if ts := binary.BigEndian.Uint32(pkt[4:8]); ts != 480 {
		t.Fatalf("first packet timestamp = %d, want 480", ts)
	}
	if ssrc := binary.BigEndian.Uint32(pkt[8:12]); ssrc != 0xAABBCCDD {
		t.Fatalf("ssrc = %x", ssrc)
	}
}

func TestSendEncryptedCountersIncrementPerPacket(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)

	for i := 0; i < 3; i++ {
		if err := tr.SendEncrypted([]byte("x")); err != nil {
			t.Fatalf("send encrypted: %v", err)
		}
		readOne(t, peer)
	}

	if tr.Sequence() != 3 {
		t.Fatalf("sequence = %d, want 3", tr.Sequence())
	}
	if tr.Timestamp() != 1440 {
		t.Fatalf("timestamp = %d, want 1440", tr.Timestamp())
	}
}

func TestSendEncryptedSequenceWraps(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)
	tr.sequence = 0xFFFF

	if err := tr.SendEncrypted([]byte("x")); err != nil {
		t.Fatalf("send encrypted: %v", err)
	}
	pkt := readOne(t, peer)
	if seq := binary.BigEndian.Uint16(pkt[2:4]); seq != 0 {
		t.Fatalf("wrapped sequence = %d, want 0", seq)
	}
	if tr.Sequence() != 0 {
		t.Fatalf("Sequence() = %d, want 0", tr.Sequence())
	}
}

func TestSendEncryptedEmptyPayloadIsHeaderPlusMAC(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)

	if err := tr.SendEncrypted(nil); err != nil {
		t.Fatalf("send encrypted: %v", err)
	}
	pkt := readOne(t, peer)
	if len(pkt) != rtpHeaderLen+cryptobox.MACSize {
		t.Fatalf("empty-payload packet length = %d, want %d", len(pkt), rtpHeaderLen+cryptobox.MACSize)
	}
}

func TestSendEncryptedBeforeReadyFails(t *testing.T) {
	peer := fakePeer(t)
	addr := peer.LocalAddr().(*net.UDPAddr)
	tr := New()
	if err := tr.Connect("127.0.0.1", addr.Port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Stop()

	if err := tr.SendEncrypted([]byte("x")); err != ErrNotReady {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestReceiveLoopFiltersByPeer(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)
	tr.Run()

	// An unrelated socket sends to our Transport's local address; it must
	// be discarded rather than surfacing on Data().
	impostor, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen impostor: %v", err)
	}
	defer impostor.Close()

	localAddr := tr.conn.LocalAddr().(*net.UDPAddr)
	impostor.WriteToUDP([]byte("not from the peer"), localAddr)

	select {
	case <-tr.Data():
		t.Fatal("received a datagram from an unexpected source")
	case <-time.After(100 * time.Millisecond):
	}

	peer.WriteToUDP([]byte("from the real peer"), localAddr)
	select {
	case payload := <-tr.Data():
		if string(payload) != "from the real peer" {
			t.Fatalf("payload = %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("never received the peer's datagram")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	peer := fakePeer(t)
	tr := connectedTransport(t, peer)
	tr.Run()
	tr.Stop()
	tr.Stop() // must not panic or block
}

func TestSendBeforeConnectFails(t *testing.T) {
	tr := New()
	if err := tr.Send([]byte{0x13, 0x37}); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
