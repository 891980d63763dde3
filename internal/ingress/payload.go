package ingress

import "encoding/json"

// ActivityPayload is the provider's account-activity envelope: a bag of
// per-kind arrays, most of which are opaque to us. Only tweet-created
// entries carry structure the translator needs; every other kind is
// forwarded raw for analytics visibility.
type ActivityPayload struct {
	ForUserID string `json:"for_user_id"`

	TweetCreateEvents []json.RawMessage `json:"tweet_create_events"`
	FavoriteEvents    []json.RawMessage `json:"favorite_events"`
	FollowEvents      []json.RawMessage `json:"follow_events"`
	UnfollowEvents    []json.RawMessage `json:"unfollow_events"`
	BlockEvents       []json.RawMessage `json:"block_events"`
	UnblockEvents     []json.RawMessage `json:"unblock_events"`
	MuteEvents        []json.RawMessage `json:"mute_events"`
	UnmuteEvents      []json.RawMessage `json:"unmute_events"`
	UserEvent         []json.RawMessage `json:"user_event"`
	DMEvents          []json.RawMessage `json:"direct_message_events"`
	DMTypingEvents    []json.RawMessage `json:"direct_message_indicate_typing_events"`
	DMMarkReadEvents  []json.RawMessage `json:"direct_message_mark_read_events"`
	TweetDeleteEvents []json.RawMessage `json:"tweet_delete_events"`
}

// TweetCreated is the subset of a tweet-created entry the translator reads.
type TweetCreated struct {
	IDStr         string        `json:"id_str"`
	User          User          `json:"user"`
	Entities      Entities      `json:"entities"`
	Text          string        `json:"text"`
	Truncated     bool          `json:"truncated"`
	ExtendedTweet ExtendedTweet `json:"extended_tweet"`
}

type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

type ExtendedTweet struct {
	FullText string `json:"full_text"`
}

type Entities struct {
	Media []Media `json:"media"`
}

type Media struct {
	MediaURLHTTPS string `json:"media_url_https"`
}
