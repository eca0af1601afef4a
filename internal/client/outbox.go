package client

import (
	"context"
	"sync"
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrRejected is wrapped by the error a pending send resolves with when the
// server answered it with an error event.
var ErrRejected = errors.New("send rejected")

// Pending is one optimistic send waiting for the server's acknowledgment.
type Pending struct {
	TempID string

	done chan struct{}
	msg  *models.Message
	err  error
}

// Wait blocks until the send is acknowledged or rejected, or ctx ends.
func (p *Pending) Wait(ctx context.Context) (*models.Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for ack of %s", p.TempID)
	}
}

type tracked struct {
	msg     *models.Message
	pending *Pending
}

// Outbox is the client-local view of messages this user sent. Entries are
// keyed by temporary id until acknowledged and by server id afterwards.
// Every status change only moves forward.
type Outbox struct {
	mu       sync.Mutex
	byTemp   map[string]*tracked
	byServer map[uuid.UUID]*tracked
	now      func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{
		byTemp:   make(map[string]*tracked),
		byServer: make(map[uuid.UUID]*tracked),
		now:      time.Now,
	}
}

// Add records an optimistic local copy in state sending.
func (o *Outbox) Add(tempID string, senderID, receiverID uuid.UUID, content string, typ models.MessageType) *Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := &Pending{TempID: tempID, done: make(chan struct{})}
	o.byTemp[tempID] = &tracked{
		msg: &models.Message{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
			Type:       typ,
			CreatedAt:  o.now().UTC(),
			Status:     models.StatusSending,
			Reactions:  map[uuid.UUID]string{},
		},
		pending: p,
	}
	return p
}

// Acknowledge adopts the server's copy for tempID. It reports false for an
// unknown tempID, including one that already failed locally.
func (o *Outbox) Acknowledge(tempID string, server *models.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.byTemp[tempID]
	if !ok || server == nil {
		return false
	}
	delete(o.byTemp, tempID)

	adopted := server.Clone()
	if !t.msg.Status.CanAdvanceTo(adopted.Status) {
		adopted.Status = t.msg.Status
	}
	t.msg = adopted
	o.byServer[adopted.ID] = t
	t.pending.msg = adopted.Clone()
	close(t.pending.done)
	return true
}

// Fail marks tempID failed and releases its waiter. A failed send is
// terminal; retrying means a new send with a new temporary id.
func (o *Outbox) Fail(tempID string, cause error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.byTemp[tempID]
	if !ok {
		return false
	}
	delete(o.byTemp, tempID)
	t.msg.Status = models.StatusFailed
	t.pending.err = cause
	close(t.pending.done)
	return true
}

// Expire fails every send still waiting after maxAge.
func (o *Outbox) Expire(maxAge time.Duration) []string {
	o.mu.Lock()
	cutoff := o.now().UTC().Add(-maxAge)
	var expired []string
	for tempID, t := range o.byTemp {
		if t.msg.CreatedAt.Before(cutoff) {
			expired = append(expired, tempID)
		}
	}
	o.mu.Unlock()

	for _, tempID := range expired {
		o.Fail(tempID, errors.Errorf("no acknowledgment for %s within %s", tempID, maxAge))
	}
	return expired
}

// Advance moves a server-acknowledged message forward to next. Receipts
// that would move it backwards are ignored.
func (o *Outbox) Advance(serverID uuid.UUID, next models.MessageStatus, at time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.byServer[serverID]
	if !ok || !t.msg.Status.CanAdvanceTo(next) {
		return false
	}
	t.msg.Status = next
	stamp := at
	switch next {
	case models.StatusDelivered:
		if t.msg.DeliveredAt == nil {
			t.msg.DeliveredAt = &stamp
		}
	case models.StatusRead:
		if t.msg.ReadAt == nil {
			t.msg.ReadAt = &stamp
		}
	}
	return true
}

// Lookup returns a copy of the message tracked under serverID.
func (o *Outbox) Lookup(serverID uuid.UUID) (*models.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.byServer[serverID]
	if !ok {
		return nil, false
	}
	return t.msg.Clone(), true
}

// InFlight is the number of sends still awaiting acknowledgment.
func (o *Outbox) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byTemp)
}
