package model

// Topic is a coarse bus channel name. Subscribers re-read the affected key
// to obtain the new value; topics never carry payloads.
type Topic string

const (
	TopicFriends             Topic = "friends-changed"
	TopicFriendRequests      Topic = "friend-requests-changed"
	TopicSentFriendRequests  Topic = "sent-friend-requests-changed"
	TopicRecommendedFriends  Topic = "recommended-friends-changed"
	TopicActivities          Topic = "activities-changed"
	TopicActivityTypes       Topic = "activity-types-changed"
	TopicRecentlySpawnedWith Topic = "recently-spawned-with-changed"
	TopicActivity            Topic = "activity-changed"

	// TopicSessionReset fires after sign-out cleared the cache.
	TopicSessionReset Topic = "session-reset"
	// TopicRefreshFailed is the diagnostic channel for background failures.
	TopicRefreshFailed Topic = "refresh-failed"
)

// Topic returns the change topic of the kind.
func (k Kind) Topic() Topic {
	switch k {
	case KindFriends:
		return TopicFriends
	case KindFriendRequests:
		return TopicFriendRequests
	case KindSentFriendRequests:
		return TopicSentFriendRequests
	case KindRecommendedFriends:
		return TopicRecommendedFriends
	case KindActivities:
		return TopicActivities
	case KindActivityTypes:
		return TopicActivityTypes
	case KindRecentlySpawnedWith:
		return TopicRecentlySpawnedWith
	case KindActivity:
		return TopicActivity
	default:
		return ""
	}
}
