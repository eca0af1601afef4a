package actors

import (
	"time"

	"gator-chat/internal/friendship"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types handled by the FriendshipActor
type (
	SendFriendRequestMsg struct {
		RequesterID    uuid.UUID
		TargetUsername string
	}

	AcceptFriendRequestMsg struct {
		RequestID uuid.UUID
		ActorID   uuid.UUID
	}

	DeclineFriendRequestMsg struct {
		RequestID uuid.UUID
		ActorID   uuid.UUID
	}

	RemoveFriendMsg struct {
		UserID   uuid.UUID
		FriendID uuid.UUID
	}

	GetPendingRequestsMsg struct {
		UserID uuid.UUID
	}

	GetFriendsMsg struct {
		UserID uuid.UUID
	}

	GetFriendIDsMsg struct {
		UserID uuid.UUID
	}
)

// FriendshipActor runs the friend request state machine. Serialising the
// transitions here keeps cross requests for one pair from interleaving.
type FriendshipActor struct {
	base
	friendships *friendship.Service
}

func NewFriendshipActor(svc *friendship.Service, metrics *utils.MetricsCollector, opTimeout time.Duration) actor.Actor {
	return &FriendshipActor{base: newBase(metrics, opTimeout), friendships: svc}
}

func (a *FriendshipActor) Receive(context actor.Context) {
	start := time.Now()
	ctx, cancel := a.opContext()
	defer cancel()

	switch msg := context.Message().(type) {
	case *SendFriendRequestMsg:
		t, err := a.friendships.Request(ctx, msg.RequesterID, msg.TargetUsername)
		a.reply(context, "friend_request", start, t, err)

	case *AcceptFriendRequestMsg:
		t, err := a.friendships.Accept(ctx, msg.RequestID, msg.ActorID)
		a.reply(context, "friend_accept", start, t, err)

	case *DeclineFriendRequestMsg:
		f, err := a.friendships.Decline(ctx, msg.RequestID, msg.ActorID)
		a.reply(context, "friend_decline", start, f, err)

	case *RemoveFriendMsg:
		err := a.friendships.Remove(ctx, msg.UserID, msg.FriendID)
		a.reply(context, "friend_remove", start, true, err)

	case *GetPendingRequestsMsg:
		pending, err := a.friendships.Pending(ctx, msg.UserID)
		a.reply(context, "friend_pending", start, pending, err)

	case *GetFriendsMsg:
		friends, err := a.friendships.Friends(ctx, msg.UserID)
		a.reply(context, "friend_list", start, friends, err)

	case *GetFriendIDsMsg:
		ids, err := a.friendships.FriendIDs(ctx, msg.UserID)
		a.reply(context, "friend_ids", start, ids, err)
	}
}
