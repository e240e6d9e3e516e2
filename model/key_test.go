package model

import (
	"testing"
)

func TestKey_StringRoundTrip(t *testing.T) {
	t.Parallel()

	keys := []Key{
		Friends("u1"),
		FriendRequests("u1"),
		SentFriendRequests("u1"),
		RecommendedFriends("u1"),
		Activities("u1"),
		ActivityTypes("u1"),
		RecentlySpawnedWithKey("u1"),
		ActivityKey("u1", "a9"),
	}
	seen := make(map[Key]bool)
	for _, k := range keys {
		got, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("round trip %q: got %#v want %#v", k.String(), got, k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
}

func TestKey_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"friends ok", Friends("u"), false},
		{"activity ok", ActivityKey("u", "a"), false},
		{"zero key", Key{}, true},
		{"blank user", Friends("  "), true},
		{"activity without id", Key{Kind: KindActivity, UserID: "u"}, true},
		{"stray activity id", Key{Kind: KindFriends, UserID: "u", ActivityID: "a"}, true},
		{"out of range kind", Key{Kind: kindCount, UserID: "u"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseKey_Malformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "friends", "nope:u", "friends:u:extra", "activity:u"} {
		if _, err := ParseKey(s); err == nil {
			t.Fatalf("ParseKey(%q) must fail", s)
		}
	}
}

func TestKind_TopicsAreDistinct(t *testing.T) {
	t.Parallel()

	seen := make(map[Topic]Kind)
	for _, k := range Kinds() {
		topic := k.Topic()
		if topic == "" {
			t.Fatalf("kind %v has no topic", k)
		}
		if prev, ok := seen[topic]; ok {
			t.Fatalf("kinds %v and %v share topic %q", prev, k, topic)
		}
		seen[topic] = k
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	t.Parallel()

	orig := []Activity{{ID: "a", Participants: []User{{ID: "u1"}}, Location: &Location{Name: "park"}}}
	dup := Clone(orig).([]Activity)
	dup[0].Participants[0].ID = "changed"
	dup[0].Location.Name = "changed"

	if orig[0].Participants[0].ID != "u1" {
		t.Fatalf("participants aliased")
	}
	if orig[0].Location.Name != "park" {
		t.Fatalf("location aliased")
	}

	users := []User{{ID: "x"}}
	dupUsers := Clone(users).([]User)
	dupUsers[0].ID = "y"
	if users[0].ID != "x" {
		t.Fatalf("users aliased")
	}
}
