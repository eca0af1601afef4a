// Package engine spawns the chat actors and exposes typed request helpers
// over them.
package engine

import (
	"context"
	"fmt"
	"time"

	"gator-chat/internal/accounts"
	"gator-chat/internal/database"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/friendship"
	"gator-chat/internal/messaging"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	jww "github.com/spf13/jwalterweatherman"
)

// Services are the domain services the actors wrap.
type Services struct {
	Accounts    *accounts.Service
	Friendships *friendship.Service
	Messages    *messaging.Lifecycle
}

// NewServices builds every service over one backend.
func NewServices(db database.DBAdapter, msgOpts messaging.Options, accountOpts ...accounts.Option) Services {
	return Services{
		Accounts:    accounts.NewService(db, accountOpts...),
		Friendships: friendship.NewService(db, db, msgOpts.Now),
		Messages:    messaging.NewLifecycle(db, db, db, msgOpts),
	}
}

// Engine coordinates communication between actors
type Engine struct {
	system  *actor.ActorSystem
	root    *actor.RootContext
	timeout time.Duration

	userActor       *actor.PID
	friendshipActor *actor.PID
	messageActor    *actor.PID
}

func NewEngine(system *actor.ActorSystem, services Services, metrics *utils.MetricsCollector, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = actors.DefaultOpTimeout
	}
	root := system.Root

	userPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewUserActor(services.Accounts, metrics, timeout)
	}))
	friendshipPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewFriendshipActor(services.Friendships, metrics, timeout)
	}))
	messagePID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewMessageActor(services.Messages, metrics, timeout)
	}))

	jww.INFO.Printf("Engine started: user=%s friendship=%s message=%s", userPID.Id, friendshipPID.Id, messagePID.Id)
	return &Engine{
		system:          system,
		root:            root,
		timeout:         timeout,
		userActor:       userPID,
		friendshipActor: friendshipPID,
		messageActor:    messagePID,
	}
}

// GetUserActor returns the PID of the user actor
func (e *Engine) GetUserActor() *actor.PID {
	return e.userActor
}

// GetFriendshipActor returns the PID of the friendship actor
func (e *Engine) GetFriendshipActor() *actor.PID {
	return e.friendshipActor
}

// GetMessageActor returns the PID of the message actor
func (e *Engine) GetMessageActor() *actor.PID {
	return e.messageActor
}

// Stop stops every actor and waits for them to finish.
func (e *Engine) Stop() {
	for _, pid := range []*actor.PID{e.userActor, e.friendshipActor, e.messageActor} {
		if err := e.root.StopFuture(pid).Wait(); err != nil {
			jww.WARN.Printf("Stopping actor %s: %v", pid.Id, err)
		}
	}
}

// Ask sends msg to pid and waits for a T. An AppError reply comes back as
// the error; a missing reply is ACTOR_TIMEOUT.
func Ask[T any](ctx context.Context, e *Engine, pid *actor.PID, msg interface{}) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, utils.NewActorTimeoutError(pid.Id, err)
	}
	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return zero, utils.NewActorTimeoutError(pid.Id, context.DeadlineExceeded)
	}

	result, err := e.root.RequestFuture(pid, msg, timeout).Result()
	if err != nil {
		return zero, utils.NewActorTimeoutError(pid.Id, err)
	}

	switch v := result.(type) {
	case *utils.AppError:
		return zero, v
	case T:
		return v, nil
	}
	return zero, utils.NewAppError(utils.ErrTransientIO, fmt.Sprintf("unexpected reply %T from %s", result, pid.Id), nil)
}
