package voice

// AudioPort is the external audio subsystem this core hands Opus frames
// to and pulls Opus frames from. It replaces the source's global
// Abaddon::Get().GetAudio() singleton with an interface injected into
// the client constructor (see the design notes in SPEC_FULL.md).
//
// Encode side: the audio subsystem writes an encoded Opus frame into the
// buffer handed to it by SetOpusBuffer, then calls the ready callback
// registered via OnOpusReady with the frame's length. Decode side: the
// voice client calls FeedOpus for every authenticated inbound frame.
type AudioPort interface {
	// SetOpusBuffer gives the audio subsystem the buffer it should
	// encode into. The voice client owns the buffer's backing array.
	SetOpusBuffer(buf []byte)
	// OnOpusReady registers the callback fired whenever a fresh Opus
	// payload of the given size is ready in the buffer set above.
	OnOpusReady(fn func(size int))
	// FeedOpus delivers a decoded-ready Opus payload received from ssrc.
	FeedOpus(ssrc uint32, payload []byte)
}
