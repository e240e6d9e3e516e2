package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/service"
	"github.com/IvanBrykalov/syncache/transport/transporttest"
)

// backend answers every route of the engine from generated data with a
// configurable latency and failure rate.
type backend struct {
	latency time.Duration
	failPct int
	size    int
}

func (b backend) users(owner, tag string) []model.User {
	out := make([]model.User, b.size)
	for i := range out {
		id := fmt.Sprintf("%s-%s%d", owner, tag, i)
		out[i] = model.User{ID: id, Username: id}
	}
	return out
}

func (b backend) requests(owner string, incoming bool) []model.FriendRequest {
	me := model.User{ID: owner, Username: owner}
	out := make([]model.FriendRequest, b.size)
	for i, u := range b.users(owner, "r") {
		r := model.FriendRequest{ID: fmt.Sprintf("%s-req%d", owner, i), Sender: me, Receiver: u}
		if incoming {
			r.Sender, r.Receiver = u, me
		}
		out[i] = r
	}
	return out
}

func (b backend) activity(owner, id string) model.Activity {
	return model.Activity{
		ID:        id,
		Title:     "activity " + id,
		CreatorID: owner,
		Status:    model.ParticipationInvited,
		Invited:   []model.User{{ID: owner, Username: owner}},
	}
}

func (b backend) activities(owner string) []model.Activity {
	out := make([]model.Activity, b.size)
	for i := range out {
		out[i] = b.activity(owner, fmt.Sprintf("a%d", i))
	}
	return out
}

func (b backend) activityTypes(owner string) []model.ActivityType {
	out := make([]model.ActivityType, 4)
	for i := range out {
		out[i] = model.ActivityType{
			ID:                fmt.Sprintf("%s-t%d", owner, i),
			Title:             fmt.Sprintf("type %d", i),
			OrderNum:          i,
			OwnerUserID:       owner,
			AssociatedFriends: b.users(owner, "f")[:b.size/2],
		}
	}
	return out
}

func (b backend) recent(owner string) []model.RecentlySpawnedWith {
	us := b.users(owner, "s")
	out := make([]model.RecentlySpawnedWith, len(us))
	for i, u := range us {
		out[i] = model.RecentlySpawnedWith{User: u, LastSpawned: time.Unix(1_700_000_000+int64(i)*3600, 0).UTC()}
	}
	return out
}

func (b backend) install(f *transporttest.Fake) {
	user := func(c transporttest.Call) string { return c.Endpoint.Params["userId"] }
	fetches := map[string]func(transporttest.Call) any{
		service.PathFriends:             func(c transporttest.Call) any { return b.users(user(c), "f") },
		service.PathRecommendedFriends:  func(c transporttest.Call) any { return b.users(user(c), "x") },
		service.PathFriendRequests:      func(c transporttest.Call) any { return b.requests(user(c), true) },
		service.PathSentFriendRequests:  func(c transporttest.Call) any { return b.requests(user(c), false) },
		service.PathActivities:          func(c transporttest.Call) any { return b.activities(user(c)) },
		service.PathActivityTypes:       func(c transporttest.Call) any { return b.activityTypes(user(c)) },
		service.PathRecentlySpawnedWith: func(c transporttest.Call) any { return b.recent(user(c)) },
		service.PathActivity: func(c transporttest.Call) any {
			return b.activity(c.Endpoint.Params["requestingUserId"], c.Endpoint.Params["activityId"])
		},
	}
	for path, gen := range fetches {
		f.Handle(transporttest.MethodFetch, path, b.handler(gen))
	}
	f.Handle(transporttest.MethodUpdate, service.PathFriendRequest, b.handler(nil))
	f.Handle(transporttest.MethodSend, service.PathSendFriendRequest, b.handler(nil))
	f.Handle(transporttest.MethodUpdate, service.PathParticipation, b.handler(nil))
	f.Handle(transporttest.MethodDelete, service.PathFriend, b.handler(nil))
}

func (b backend) handler(gen func(transporttest.Call) any) transporttest.Handler {
	return func(ctx context.Context, c transporttest.Call) (any, error) {
		if b.latency > 0 {
			t := time.NewTimer(b.latency/2 + rand.N(b.latency))
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if b.failPct > 0 && rand.IntN(100) < b.failPct {
			return nil, failure.Rejected(503, "backend unavailable")
		}
		if gen == nil {
			return nil, nil
		}
		return gen(c), nil
	}
}
