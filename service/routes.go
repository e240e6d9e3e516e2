package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/transport"
)

// Route tells the service how to fetch and decode one collection kind.
type Route struct {
	endpoint func(model.Key) transport.Endpoint
	fetch    func(context.Context, transport.Transport, transport.Endpoint) (any, error)
	decode   func([]byte) (any, error)
	typ      reflect.Type
}

// NewRoute builds a route whose payload decodes into T.
func NewRoute[T any](endpoint func(model.Key) transport.Endpoint) Route {
	return Route{
		endpoint: endpoint,
		fetch: func(ctx context.Context, tr transport.Transport, ep transport.Endpoint) (any, error) {
			var out T
			if err := tr.Fetch(ctx, ep, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
		decode: func(raw []byte) (any, error) {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, failure.New(failure.InvalidResponse, "decode", "", err)
			}
			return out, nil
		},
		typ: reflect.TypeFor[T](),
	}
}

// PathRoute is NewRoute for a path template. {userId} and {activityId}
// are filled from the key; activity reads also send requestingUserId.
func PathRoute[T any](path string) Route {
	return NewRoute[T](func(k model.Key) transport.Endpoint {
		if k.Kind == model.KindActivity {
			return transport.At(path, "userId", k.UserID, "activityId", k.ActivityID, "requestingUserId", k.UserID)
		}
		return transport.At(path, "userId", k.UserID)
	})
}

// Type is the Go type the route decodes into.
func (r Route) Type() reflect.Type { return r.typ }

// Endpoint resolves the fetch endpoint for k.
func (r Route) Endpoint(k model.Key) transport.Endpoint { return r.endpoint(k) }

// Routes maps every kind to its route.
type Routes map[model.Kind]Route

// Backend paths of the default routes.
const (
	PathFriends             = "users/friends/{userId}"
	PathFriendRequests      = "friend-requests/incoming/{userId}"
	PathSentFriendRequests  = "friend-requests/sent/{userId}"
	PathRecommendedFriends  = "users/recommended-friends/{userId}"
	PathActivities          = "activities/feed-activities/{userId}"
	PathActivityTypes       = "users/{userId}/activity-types"
	PathRecentlySpawnedWith = "users/{userId}/recent-users"
	PathActivity            = "activities/{activityId}"
)

// DefaultRoutes returns the routes of the stock backend.
func DefaultRoutes() Routes {
	return Routes{
		model.KindFriends:             PathRoute[[]model.User](PathFriends),
		model.KindFriendRequests:      PathRoute[[]model.FriendRequest](PathFriendRequests),
		model.KindSentFriendRequests:  PathRoute[[]model.FriendRequest](PathSentFriendRequests),
		model.KindRecommendedFriends:  PathRoute[[]model.User](PathRecommendedFriends),
		model.KindActivities:          PathRoute[[]model.Activity](PathActivities),
		model.KindActivityTypes:       PathRoute[[]model.ActivityType](PathActivityTypes),
		model.KindRecentlySpawnedWith: PathRoute[[]model.RecentlySpawnedWith](PathRecentlySpawnedWith),
		model.KindActivity:            PathRoute[model.Activity](PathActivity),
	}
}

// validate reports kinds without a route.
func (rs Routes) validate() error {
	for _, k := range model.Kinds() {
		if r, ok := rs[k]; !ok || r.fetch == nil || r.endpoint == nil {
			return fmt.Errorf("service: no route for kind %v", k)
		}
	}
	return nil
}
