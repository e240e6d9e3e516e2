package model

import (
	"slices"
	"time"
)

// User is the public profile shown in friend lists and participant rows.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name,omitempty"`
	Bio            string `json:"bio,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// FriendRequestStatus mirrors the backend's request lifecycle.
type FriendRequestStatus string

const (
	FriendRequestIncoming FriendRequestStatus = "INCOMING"
	FriendRequestAccepted FriendRequestStatus = "ACCEPTED"
	FriendRequestRejected FriendRequestStatus = "REJECTED"
)

// FriendRequest links a sender and a receiver.
type FriendRequest struct {
	ID        string              `json:"id"`
	Sender    User                `json:"senderUser"`
	Receiver  User                `json:"receiverUser"`
	Status    FriendRequestStatus `json:"status,omitempty"`
	CreatedAt time.Time           `json:"createdAt,omitempty"`
}

// Location is where an activity happens.
type Location struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParticipationStatus is the requesting user's relation to an activity.
type ParticipationStatus string

const (
	ParticipationNone        ParticipationStatus = "NOT_INVOLVED"
	ParticipationParticipant ParticipationStatus = "PARTICIPATING"
	ParticipationInvited     ParticipationStatus = "INVITED"
	ParticipationCreator     ParticipationStatus = "CREATOR"
)

// Activity is a planned meetup.
type Activity struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Icon           string              `json:"icon,omitempty"`
	CreatorID      string              `json:"creatorUserId"`
	ActivityTypeID string              `json:"activityTypeId,omitempty"`
	Location       *Location           `json:"location,omitempty"`
	StartTime      time.Time           `json:"startTime,omitempty"`
	EndTime        time.Time           `json:"endTime,omitempty"`
	Note           string              `json:"note,omitempty"`
	Participants   []User              `json:"participantUsers,omitempty"`
	Invited        []User              `json:"invitedUsers,omitempty"`
	Status         ParticipationStatus `json:"participationStatus,omitempty"`
}

// ActivityType groups friends under a user-defined category.
type ActivityType struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Icon              string `json:"icon"`
	OrderNum          int    `json:"orderNum"`
	Pinned            bool   `json:"isPinned"`
	OwnerUserID       string `json:"ownerUserId"`
	AssociatedFriends []User `json:"associatedFriends,omitempty"`
}

// RecentlySpawnedWith is a user the owner recently shared an activity with.
type RecentlySpawnedWith struct {
	User        User      `json:"user"`
	LastSpawned time.Time `json:"dateTime"`
}

// Empty is the value of writes that carry no response body.
type Empty struct{}

func (a Activity) clone() Activity {
	a.Participants = slices.Clone(a.Participants)
	a.Invited = slices.Clone(a.Invited)
	if a.Location != nil {
		loc := *a.Location
		a.Location = &loc
	}
	return a
}

func (t ActivityType) clone() ActivityType {
	t.AssociatedFriends = slices.Clone(t.AssociatedFriends)
	return t
}

// Clone deep-copies a collection value so callers never alias cache-owned
// memory. Unknown types are returned as-is.
func Clone(v any) any {
	switch x := v.(type) {
	case []User:
		return slices.Clone(x)
	case []FriendRequest:
		return slices.Clone(x)
	case []RecentlySpawnedWith:
		return slices.Clone(x)
	case []Activity:
		if x == nil {
			return x
		}
		out := make([]Activity, len(x))
		for i := range x {
			out[i] = x[i].clone()
		}
		return out
	case []ActivityType:
		if x == nil {
			return x
		}
		out := make([]ActivityType, len(x))
		for i := range x {
			out[i] = x[i].clone()
		}
		return out
	case Activity:
		return x.clone()
	case *Activity:
		if x == nil {
			return x
		}
		c := x.clone()
		return &c
	default:
		return v
	}
}
