package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gator-chat/internal/client"
	"gator-chat/internal/models"
	"gator-chat/internal/websocket"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"
)

var reactions = []string{"👍", "😂", "❤️", "🎉", "🐊"}

// SimulateActivities drives message traffic until ctx ends.
func (s *Simulator) SimulateActivities(ctx context.Context) {
	jww.INFO.Printf("Starting message simulation...")

	const tickInterval = 500 * time.Millisecond
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	const numWorkers = 5
	jobs := make(chan *SimulatedUser, s.config.NumUsers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				s.maybeSend(ctx, user, tickInterval)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			for _, user := range s.users {
				select {
				case jobs <- user:
				default:
				}
			}
		}
	}
}

// maybeSend sends one message to a random friend with the probability that
// yields MessageFrequency per hour at the given tick rate.
func (s *Simulator) maybeSend(ctx context.Context, user *SimulatedUser, tick time.Duration) {
	s.mu.RLock()
	conn := user.Conn
	s.mu.RUnlock()
	if conn == nil || len(user.Friends) == 0 {
		return
	}
	if rand.Float64() >= s.config.MessageFrequency*tick.Hours() {
		return
	}

	friend := user.Friends[rand.Intn(len(user.Friends))]
	start := time.Now()
	pending, err := conn.Send(friend, fmt.Sprintf("hello from %s at %s", user.Session.Username, start.Format(time.Kitchen)), models.MessageText)

	s.stats.mu.Lock()
	s.stats.MessagesSent++
	s.stats.mu.Unlock()
	if err != nil {
		s.recordAck(start, err)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.AckTimeout)
	defer cancel()
	_, err = pending.Wait(waitCtx)
	if err != nil {
		// A late ack for an abandoned send is ignored by the outbox.
		conn.Outbox().Fail(pending.TempID, err)
	}
	s.recordAck(start, err)
}

func (s *Simulator) recordAck(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	if err != nil {
		s.stats.MessagesFailed++
		jww.DEBUG.Printf("Send failed: %v", err)
		return
	}
	s.stats.MessagesAcked++
	latency := time.Since(start)
	n := time.Duration(s.stats.MessagesAcked)
	s.stats.AckLatency = (s.stats.AckLatency*(n-1) + latency) / n
}

// consumeEvents plays the receiving side: it reads what arrives, marks it
// read and sometimes reacts.
func (s *Simulator) consumeEvents(ctx context.Context, user *SimulatedUser, conn *client.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case env := <-conn.Events():
			s.handleEvent(ctx, user, conn, env)
		}
	}
}

func (s *Simulator) handleEvent(ctx context.Context, user *SimulatedUser, conn *client.Client, env websocket.Envelope) {
	switch env.Event {
	case websocket.EventNewMessage:
		var p websocket.NewMessagePayload
		if json.Unmarshal(env.Data, &p) != nil || p.Message == nil {
			return
		}
		s.mu.Lock()
		user.LastActive = time.Now()
		s.mu.Unlock()

		if rand.Float64() < s.config.ReadProbability {
			if err := conn.MarkRead(p.Message.SenderID, []uuid.UUID{p.Message.ID}); err != nil {
				jww.DEBUG.Printf("Mark read by %s failed: %v", user.Session.Username, err)
			}
		}
		if rand.Float64() < s.config.ReactionProbability {
			emoji := reactions[rand.Intn(len(reactions))]
			err := s.timed(func() error { return s.api.React(ctx, user.Session, p.Message.ID, emoji) })
			if err == nil {
				s.stats.mu.Lock()
				s.stats.Reactions++
				s.stats.mu.Unlock()
			}
		}

	case websocket.EventMessageDelivered:
		s.stats.mu.Lock()
		s.stats.Deliveries++
		s.stats.mu.Unlock()

	case websocket.EventMessagesRead:
		var p websocket.MessagesReadPayload
		if json.Unmarshal(env.Data, &p) == nil {
			s.stats.mu.Lock()
			s.stats.ReadReceipts += len(p.MessageIDs)
			s.stats.mu.Unlock()
		}
	}
}
