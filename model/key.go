// Package model defines the cached collections of the sync engine: the
// closed set of collection kinds, the keys addressing them and the entity
// types stored under those keys.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/IvanBrykalov/syncache/internal/util"
)

// Kind enumerates the collections the engine knows how to cache.
// The set is closed; adding a kind means extending every switch below.
type Kind uint8

const (
	kindInvalid Kind = iota
	KindFriends
	KindFriendRequests
	KindSentFriendRequests
	KindRecommendedFriends
	KindActivities
	KindActivityTypes
	KindRecentlySpawnedWith
	KindActivity
	kindCount
)

var kindNames = [...]string{
	kindInvalid:             "invalid",
	KindFriends:             "friends",
	KindFriendRequests:      "friendRequests",
	KindSentFriendRequests:  "sentFriendRequests",
	KindRecommendedFriends:  "recommendedFriends",
	KindActivities:          "activities",
	KindActivityTypes:       "activityTypes",
	KindRecentlySpawnedWith: "recentlySpawnedWith",
	KindActivity:            "activity",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k > kindInvalid && k < kindCount }

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := kindInvalid + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := kindInvalid + 1; k < kindCount; k++ {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return kindInvalid, fmt.Errorf("model: unknown kind %q", s)
}

// Key addresses one cached collection. Keys are comparable; equal keys
// address the same cache slot.
type Key struct {
	Kind       Kind
	UserID     string
	ActivityID string // only for KindActivity
}

func Friends(userID string) Key            { return Key{Kind: KindFriends, UserID: userID} }
func FriendRequests(userID string) Key     { return Key{Kind: KindFriendRequests, UserID: userID} }
func SentFriendRequests(userID string) Key { return Key{Kind: KindSentFriendRequests, UserID: userID} }
func RecommendedFriends(userID string) Key { return Key{Kind: KindRecommendedFriends, UserID: userID} }
func Activities(userID string) Key         { return Key{Kind: KindActivities, UserID: userID} }
func ActivityTypes(userID string) Key      { return Key{Kind: KindActivityTypes, UserID: userID} }
func RecentlySpawnedWithKey(userID string) Key {
	return Key{Kind: KindRecentlySpawnedWith, UserID: userID}
}

// ActivityKey addresses a single activity as seen by userID.
func ActivityKey(userID, activityID string) Key {
	return Key{Kind: KindActivity, UserID: userID, ActivityID: activityID}
}

const keySep = ":"

// String renders the key as kind:user[:activity].
func (k Key) String() string {
	if k.Kind == KindActivity {
		return k.Kind.String() + keySep + k.UserID + keySep + k.ActivityID
	}
	return k.Kind.String() + keySep + k.UserID
}

// Hash64 lets sharded stores place keys without formatting them.
func (k Key) Hash64() uint64 {
	h := util.FnvMix(util.FnvString(k.Kind.String()), k.UserID)
	if k.ActivityID != "" {
		h = util.FnvMix(h, keySep+k.ActivityID)
	}
	return h
}

// Topic is the bus topic announcing changes to this key's collection.
func (k Key) Topic() Topic { return k.Kind.Topic() }

var (
	errEmptyUser     = errors.New("model: key has no user id")
	errMissingTarget = errors.New("model: activity key has no activity id")
	errStrayTarget   = errors.New("model: activity id set on a non-activity key")
)

// Validate reports whether the key is well formed.
func (k Key) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("model: invalid kind %v", k.Kind)
	}
	if strings.TrimSpace(k.UserID) == "" {
		return errEmptyUser
	}
	switch {
	case k.Kind == KindActivity && k.ActivityID == "":
		return errMissingTarget
	case k.Kind != KindActivity && k.ActivityID != "":
		return errStrayTarget
	}
	return nil
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySep)
	if len(parts) < 2 {
		return Key{}, fmt.Errorf("model: malformed key %q", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Key{}, err
	}
	k := Key{Kind: kind, UserID: parts[1]}
	switch {
	case kind == KindActivity && len(parts) == 3:
		k.ActivityID = parts[2]
	case len(parts) != 2:
		return Key{}, fmt.Errorf("model: malformed key %q", s)
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
