package voice

import (
	"context"
	"time"
)

// millisToDuration converts Hello's float64 millisecond interval into a
// time.Duration, per spec.md §6.
func millisToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// heartbeatLoop sends a Heartbeat at the server-assigned interval until
// the heartbeat waiter is cancelled by teardown. The nonce is the current
// wall-clock time in milliseconds since the Unix epoch (spec.md §4.4);
// this core never correlates Heartbeat with HeartbeatAck, and inbound
// acks are ignored (spec.md §6 leaves ack tracking out of scope).
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.runningGoros.Done()
	for {
		if !c.heartbeatW.Wait(c.heartbeatIntv) {
			return
		}
		nonce := uint64(time.Now().UnixMilli())
		raw, err := encodeHeartbeat(nonce)
		if err != nil {
			c.logger.Println("voice: encode heartbeat failed:", err)
			continue
		}
		if err := c.ws.Send(ctx, raw); err != nil {
			c.logger.Println("voice: send heartbeat failed:", err)
			return
		}
	}
}

// keepaliveLoop sends the raw two-byte UDP NAT-refresh datagram every
// keepaliveInterval until the keepalive waiter is cancelled by teardown
// (spec.md §4.4, §7).
func (c *Client) keepaliveLoop() {
	defer c.runningGoros.Done()
	for {
		if !c.keepaliveW.Wait(keepaliveInterval) {
			return
		}
		if err := c.udp.Send(keepaliveMarker); err != nil {
			c.logger.Println("voice: send udp keepalive failed:", err)
		}
	}
}
