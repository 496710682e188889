// Package main implements a headless video-chat participant. It connects to
// a running server, joins the matching queue, negotiates pairings with a
// synthetic media engine, and cycles through partners. Useful for exercising
// a deployment end to end and for populating the waiting pool during manual
// testing.
//
// Usage:
//
//	go run ./cmd/bot/ [-url ws://localhost:8080/ws] [-sessions 3] [-duration 10s]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/glimpse/video-chat/internal/client"
	"github.com/glimpse/video-chat/internal/match"
	"github.com/glimpse/video-chat/internal/orchestrator"
	"github.com/glimpse/video-chat/internal/protocol"
)

// syntheticNegotiator stands in for a real media engine. It produces fake
// session descriptors and gathers a couple of fake candidates from its own
// goroutine, which is enough to drive the full negotiation exchange against
// another bot.
type syntheticNegotiator struct {
	emit func(json.RawMessage)
}

func newSyntheticNegotiator(emit func(json.RawMessage)) orchestrator.Negotiator {
	return &syntheticNegotiator{emit: emit}
}

func (n *syntheticNegotiator) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	n.gatherCandidates()
	return descriptor("offer"), nil
}

func (n *syntheticNegotiator) HandleOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	n.gatherCandidates()
	return descriptor("answer"), nil
}

func (n *syntheticNegotiator) HandleAnswer(ctx context.Context, answer json.RawMessage) error {
	return nil
}

func (n *syntheticNegotiator) AddCandidate(candidate json.RawMessage) error {
	return nil
}

func (n *syntheticNegotiator) Close() error {
	return nil
}

// gatherCandidates emits two fake host candidates asynchronously, mirroring
// how a real engine trickles them after descriptor creation.
func (n *syntheticNegotiator) gatherCandidates() {
	go func() {
		for i := 0; i < 2; i++ {
			time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
			c, _ := json.Marshal(map[string]interface{}{
				"candidate": fmt.Sprintf("candidate:%d 1 udp 2122260223 192.0.2.%d 5900%d typ host", i, 1+rand.Intn(250), i),
				"sdpMLineIndex": 0,
			})
			n.emit(c)
		}
	}()
}

func descriptor(kind string) json.RawMessage {
	d, _ := json.Marshal(map[string]string{
		"type": kind,
		"sdp":  fmt.Sprintf("v=0 synthetic-%s-%s", kind, uuid.New().String()[:8]),
	})
	return d
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	userID := flag.String("user", "", "user ID to join as (default: random)")
	gender := flag.String("gender", "any", "partner gender filter")
	country := flag.String("country", "any", "partner country filter")
	language := flag.String("language", "", "preferred language")
	ageMin := flag.Int("age-min", 0, "minimum partner age (0 = no bound)")
	ageMax := flag.Int("age-max", 0, "maximum partner age (0 = no bound)")
	sessions := flag.Int("sessions", 3, "number of pairings to cycle through (0 = unlimited)")
	duration := flag.Duration("duration", 10*time.Second, "how long to stay in each live session")
	flag.Parse()

	if *userID == "" {
		*userID = "bot-" + uuid.New().String()[:8]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	c, err := client.New(ctx, *wsURL)
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	handle, err := c.WaitForHandle(waitCtx)
	waitCancel()
	if err != nil {
		log.Fatalf("handshake: %v", err)
	}
	log.Printf("connected as handle=%s user=%s", handle, *userID)

	o := orchestrator.New(handle, c, newSyntheticNegotiator)

	// live is signalled on every transition into Live so the session timer
	// below knows when to start counting.
	live := make(chan struct{}, 1)
	completed := 0
	o.OnTransition(func(from, to orchestrator.State) {
		log.Printf("state %s -> %s", from, to)
		if to == orchestrator.StateLive {
			select {
			case live <- struct{}{}:
			default:
			}
		}
	})
	c.Bind(o)

	criteria := protocol.JoinCriteria{
		Gender:   *gender,
		Country:  *country,
		Language: *language,
		AgeMin:   *ageMin,
		AgeMax:   *ageMax,
		UserProfile: match.Profile{
			DisplayName: *userID,
			Age:         18 + rand.Intn(40),
			Gender:      randomGender(),
			CountryCode: "us",
		},
	}

	if err := o.Start(*userID, criteria); err != nil {
		log.Fatalf("start: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-live:
			completed++
			log.Printf("live with %s (pairing=%s, session %d)", o.PeerProfile().DisplayName, o.PairingID(), completed)

			select {
			case <-time.After(*duration):
				if *sessions > 0 && completed >= *sessions {
					log.Printf("completed %d sessions, stopping", completed)
					o.Stop()
					return
				}
				log.Printf("moving to next partner")
				if err := o.Next(); err != nil {
					log.Printf("next: %v", err)
				}
			case sig := <-sigCh:
				log.Printf("received %v, stopping", sig)
				o.Stop()
				return
			case <-c.Done():
				log.Printf("connection closed")
				return
			}

		case sig := <-sigCh:
			log.Printf("received %v, stopping", sig)
			o.Stop()
			return

		case <-c.Done():
			log.Printf("connection closed")
			return
		}
	}
}

func randomGender() string {
	if rand.Intn(2) == 0 {
		return "male"
	}
	return "female"
}
