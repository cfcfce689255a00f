package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"
	paniclog "github.com/virtuald/go-paniclog"
	"golang.org/x/time/rate"

	"github.com/opuscore/voicecore/internal/logsink"
	"github.com/opuscore/voicecore/internal/voice"
)

const version = "v0.1.0"

// demoAudio is a minimal AudioPort that proves the wiring end to end: it
// paces synthetic "Opus" frames through a rate.Limiter instead of a real
// encoder, and logs whatever comes back in on FeedOpus. It is demo-only
// scaffolding, not part of the protocol core.
type demoAudio struct {
	buf   []byte
	ready func(size int)
}

func (a *demoAudio) SetOpusBuffer(buf []byte)      { a.buf = buf }
func (a *demoAudio) OnOpusReady(fn func(size int)) { a.ready = fn }
func (a *demoAudio) FeedOpus(ssrc uint32, payload []byte) {
	log.Printf("voicecore: received %d bytes of opus from ssrc %d\n", len(payload), ssrc)
}

// pace runs until ctx is done, filling the audio buffer with a random
// frame and invoking the ready callback once per limiter tick. One
// real Opus frame is nominally 20ms; the limiter stands in for a real
// encoder's cadence.
func (a *demoAudio) pace(ctx context.Context, limiter *rate.Limiter) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		n := copy(a.buf, randomFrame())
		if a.ready != nil {
			a.ready(n)
		}
	}
}

func randomFrame() []byte {
	b := make([]byte, 20+rand.Intn(100))
	rand.Read(b)
	return b
}

func main() {
	fmt.Println("voicecore", version)
	if len(os.Args) < 2 {
		log.Fatal("usage: voicecore <.env file>")
	}
	config, err := godotenv.Read(os.Args[1])
	if err != nil {
		log.Fatal("unable to parse .env file:", err)
	}

	sink, err := logsink.Open(config["LOG_FOLDER"], "voicecore")
	if err != nil {
		log.Fatal("failed to open log file:", err)
	}
	defer sink.Close()
	log.SetOutput(sink)
	log.Println("voicecore", version, "starting")

	if crashFile, err := os.OpenFile(
		config["LOG_FOLDER"]+"/voicecore-panic.log",
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644,
	); err == nil {
		if _, err := paniclog.RedirectStderr(crashFile); err != nil {
			log.Println("panic log redirect failed:", err)
		}
	} else {
		log.Println("panic log open failed:", err)
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	audio := &demoAudio{}
	cfg := voice.Config{
		Endpoint:  config["VOICE_ENDPOINT"],
		SessionID: config["SESSION_ID"],
		Token:     config["VOICE_TOKEN"],
		ServerID:  config["SERVER_ID"],
		UserID:    config["USER_ID"],
	}
	client := voice.New(cfg, audio, log.Default())

	client.OnConnected(func() { log.Println("voicecore: connected") })
	client.OnDisconnected(func() { log.Println("voicecore: disconnected") })
	client.OnSpeaking(func(userID string, ssrc uint32, flags voice.SpeakingFlags) {
		log.Printf("voicecore: speaking user=%s ssrc=%d flags=%d\n", userID, ssrc, flags)
	})

	if err := client.Start(ctx); err != nil {
		log.Fatal("voicecore: start failed:", err)
	}

	framesPerSec, _ := strconv.Atoi(config["DEMO_FRAME_RATE"])
	if framesPerSec <= 0 {
		framesPerSec = 50 // 20ms cadence
	}
	limiter := rate.NewLimiter(rate.Limit(framesPerSec), 1)
	go audio.pace(ctx, limiter)

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Println("voicecore: run exited:", err)
		}
	}()

	<-sigint
	log.Println("voicecore: closing...")
	client.Stop()
	cancel()
}
