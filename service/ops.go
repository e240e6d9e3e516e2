package service

import (
	"slices"

	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/transport"
)

// Backend paths of the write operations.
const (
	PathFriendRequest     = "friend-requests/{requestId}"
	PathSendFriendRequest = "friend-requests"
	PathFriend            = "users/{userId}/friends/{friendId}"
	PathParticipation     = "activities/{activityId}/toggle-status/{userId}"
	PathActivitiesRoot    = "activities"
	PathActivityType      = "activity-types/{activityTypeId}"
	PathBlockUser         = "blocked-users/block"
)

const (
	friendRequestActionParam  = "friendRequestAction"
	friendRequestActionAccept = "accept"
	friendRequestActionReject = "reject"
)

func withoutUser(id string) func([]model.User) []model.User {
	return func(us []model.User) []model.User {
		return slices.DeleteFunc(us, func(u model.User) bool { return u.ID == id })
	}
}

func withoutRequest(match func(model.FriendRequest) bool) func([]model.FriendRequest) []model.FriendRequest {
	return func(rs []model.FriendRequest) []model.FriendRequest {
		return slices.DeleteFunc(rs, match)
	}
}

// AcceptFriendRequest accepts req on behalf of userID: the request leaves
// the incoming list and its sender joins the friend list at once.
func AcceptFriendRequest(userID string, req model.FriendRequest) WriteOperation {
	friends, incoming := model.Friends(userID), model.FriendRequests(userID)
	return WriteOperation{
		Method: MethodUpdate,
		Endpoint: transport.At(PathFriendRequest,
			"requestId", req.ID,
			friendRequestActionParam, friendRequestActionAccept),
		Invalidates: []model.Key{incoming, friends},
		Mutations: []Mutation{
			Mutate(incoming, withoutRequest(func(r model.FriendRequest) bool { return r.ID == req.ID })),
			Seed(friends, func(cur []model.User, _ bool) []model.User {
				if slices.ContainsFunc(cur, func(u model.User) bool { return u.ID == req.Sender.ID }) {
					return cur
				}
				return append(cur, req.Sender)
			}),
		},
	}
}

// DeclineFriendRequest rejects req; only the incoming list changes.
func DeclineFriendRequest(userID string, req model.FriendRequest) WriteOperation {
	incoming := model.FriendRequests(userID)
	return WriteOperation{
		Method: MethodUpdate,
		Endpoint: transport.At(PathFriendRequest,
			"requestId", req.ID,
			friendRequestActionParam, friendRequestActionReject),
		Invalidates: []model.Key{incoming},
		Mutations: []Mutation{
			Mutate(incoming, withoutRequest(func(r model.FriendRequest) bool { return r.ID == req.ID })),
		},
	}
}

// SendFriendRequest asks to to befriend from. The receiver disappears from
// the recommendations and a provisional request shows in the sent list.
func SendFriendRequest(from, to model.User) WriteOperation {
	sent, recommended := model.SentFriendRequests(from.ID), model.RecommendedFriends(from.ID)
	req := model.FriendRequest{Sender: from, Receiver: to, Status: model.FriendRequestIncoming}
	return WriteOperation{
		Method:      MethodCreate,
		Endpoint:    transport.At(PathSendFriendRequest),
		Body:        req,
		Invalidates: []model.Key{sent, recommended},
		Mutations: []Mutation{
			Mutate(recommended, withoutUser(to.ID)),
			Seed(sent, func(cur []model.FriendRequest, _ bool) []model.FriendRequest {
				if slices.ContainsFunc(cur, func(r model.FriendRequest) bool { return r.Receiver.ID == to.ID }) {
					return cur
				}
				return append(cur, req)
			}),
		},
	}
}

// CancelSentFriendRequest withdraws a request userID sent earlier.
func CancelSentFriendRequest(userID, requestID string) WriteOperation {
	sent := model.SentFriendRequests(userID)
	return WriteOperation{
		Method:      MethodDelete,
		Endpoint:    transport.At(PathFriendRequest, "requestId", requestID),
		Invalidates: []model.Key{sent, model.RecommendedFriends(userID)},
		Mutations: []Mutation{
			Mutate(sent, withoutRequest(func(r model.FriendRequest) bool { return r.ID == requestID })),
		},
	}
}

// RemoveFriend unfriends friendID, also dropping them from every activity
// type they were associated with.
func RemoveFriend(userID, friendID string) WriteOperation {
	friends, types := model.Friends(userID), model.ActivityTypes(userID)
	return WriteOperation{
		Method:      MethodDelete,
		Endpoint:    transport.At(PathFriend, "userId", userID, "friendId", friendID),
		Invalidates: []model.Key{friends, types, model.RecommendedFriends(userID)},
		Mutations: []Mutation{
			Mutate(friends, withoutUser(friendID)),
			Mutate(types, func(ts []model.ActivityType) []model.ActivityType {
				for i := range ts {
					ts[i].AssociatedFriends = withoutUser(friendID)(ts[i].AssociatedFriends)
				}
				return ts
			}),
		},
	}
}

// toggle flips self between participating and invited. Creators and
// uninvolved users are left as they are.
func toggle(self model.User) func(model.Activity) model.Activity {
	return func(a model.Activity) model.Activity {
		switch a.Status {
		case model.ParticipationParticipant:
			a.Status = model.ParticipationInvited
			a.Participants = withoutUser(self.ID)(a.Participants)
			a.Invited = append(withoutUser(self.ID)(a.Invited), self)
		case model.ParticipationInvited:
			a.Status = model.ParticipationParticipant
			a.Invited = withoutUser(self.ID)(a.Invited)
			a.Participants = append(withoutUser(self.ID)(a.Participants), self)
		}
		return a
	}
}

// ToggleParticipation joins or leaves activityID as self. The detail view
// and the feed entry flip together.
func ToggleParticipation(self model.User, activityID string) WriteOperation {
	detail, feed := model.ActivityKey(self.ID, activityID), model.Activities(self.ID)
	flip := toggle(self)
	return WriteOperation{
		Method:      MethodUpdate,
		Endpoint:    transport.At(PathParticipation, "activityId", activityID, "userId", self.ID),
		Invalidates: []model.Key{detail, feed},
		Mutations: []Mutation{
			Mutate(detail, flip),
			Mutate(feed, func(as []model.Activity) []model.Activity {
				for i := range as {
					if as[i].ID == activityID {
						as[i] = flip(as[i])
					}
				}
				return as
			}),
		},
	}
}

// CreateActivity posts a. It is shown at the head of the feed right away
// under a provisional id; the refetch after confirmation replaces it.
func CreateActivity(userID string, a model.Activity) WriteOperation {
	feed := model.Activities(userID)
	a.CreatorID = userID
	a.Status = model.ParticipationCreator
	return WriteOperation{
		Method:      MethodCreate,
		Endpoint:    transport.At(PathActivitiesRoot),
		Body:        a,
		Invalidates: []model.Key{feed},
		Mutations: []Mutation{
			Seed(feed, func(cur []model.Activity, _ bool) []model.Activity {
				return append([]model.Activity{model.Clone(a).(model.Activity)}, cur...)
			}),
		},
	}
}

// DeleteActivity removes activityID from the feed and drops its cached
// detail.
func DeleteActivity(userID, activityID string) WriteOperation {
	feed := model.Activities(userID)
	return WriteOperation{
		Method:      MethodDelete,
		Endpoint:    transport.At(PathActivity, "activityId", activityID),
		Invalidates: []model.Key{feed},
		Mutations: []Mutation{
			Mutate(feed, func(as []model.Activity) []model.Activity {
				return slices.DeleteFunc(as, func(a model.Activity) bool { return a.ID == activityID })
			}),
			Drop(model.ActivityKey(userID, activityID)),
		},
	}
}

// UpdateActivityTypes replaces userID's activity types in one batch, used
// for pinning and reordering. The cached list is shown sorted pinned-first
// by order number.
func UpdateActivityTypes(userID string, types []model.ActivityType) WriteOperation {
	key := model.ActivityTypes(userID)
	next := model.Clone(types).([]model.ActivityType)
	slices.SortStableFunc(next, compareActivityTypes)
	return WriteOperation{
		Method:      MethodUpdate,
		Endpoint:    transport.At(PathActivityTypes, "userId", userID),
		Body:        types,
		Invalidates: []model.Key{key},
		Mutations: []Mutation{
			Seed(key, func([]model.ActivityType, bool) []model.ActivityType {
				return model.Clone(next).([]model.ActivityType)
			}),
		},
	}
}

func compareActivityTypes(a, b model.ActivityType) int {
	switch {
	case a.Pinned && !b.Pinned:
		return -1
	case !a.Pinned && b.Pinned:
		return 1
	}
	return a.OrderNum - b.OrderNum
}

// DeleteActivityType removes typeID from userID's activity types.
func DeleteActivityType(userID, typeID string) WriteOperation {
	key := model.ActivityTypes(userID)
	return WriteOperation{
		Method:      MethodDelete,
		Endpoint:    transport.At(PathActivityType, "activityTypeId", typeID),
		Invalidates: []model.Key{key},
		Mutations: []Mutation{
			Mutate(key, func(ts []model.ActivityType) []model.ActivityType {
				return slices.DeleteFunc(ts, func(t model.ActivityType) bool { return t.ID == typeID })
			}),
		},
	}
}

// BlockUser blocks blockedID and scrubs them from every social collection
// of userID.
func BlockUser(userID, blockedID string) WriteOperation {
	friends := model.Friends(userID)
	recommended := model.RecommendedFriends(userID)
	incoming := model.FriendRequests(userID)
	sent := model.SentFriendRequests(userID)
	types := model.ActivityTypes(userID)
	return WriteOperation{
		Method:      MethodCreate,
		Endpoint:    transport.At(PathBlockUser, "blockerId", userID, "blockedId", blockedID),
		Invalidates: []model.Key{friends, recommended, incoming, sent, types},
		Mutations: []Mutation{
			Mutate(friends, withoutUser(blockedID)),
			Mutate(recommended, withoutUser(blockedID)),
			Mutate(incoming, withoutRequest(func(r model.FriendRequest) bool { return r.Sender.ID == blockedID })),
			Mutate(sent, withoutRequest(func(r model.FriendRequest) bool { return r.Receiver.ID == blockedID })),
			Mutate(types, func(ts []model.ActivityType) []model.ActivityType {
				for i := range ts {
					ts[i].AssociatedFriends = withoutUser(blockedID)(ts[i].AssociatedFriends)
				}
				return ts
			}),
		},
	}
}
