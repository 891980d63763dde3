package ingress

import (
	"encoding/json"
	"fmt"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
)

// TranslationError marks a provider payload that could not be translated
// into canonical events. The caller rejects the request and drops the record.
type TranslationError struct {
	Reason string
	Cause  error
}

func (e *TranslationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ingress: translation failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("ingress: translation failed: %s", e.Reason)
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// Translator converts provider activity payloads into canonical events.
// It is the anti-corruption layer: downstream consumers only ever see the
// canonical vocabulary, never the provider's JSON.
type Translator struct {
	selfAccountID int64
}

// NewTranslator creates a translator that filters out activity authored by
// the bot's own account id.
func NewTranslator(selfAccountID int64) *Translator {
	return &Translator{selfAccountID: selfAccountID}
}

// kindEvents pairs an activity kind's entries with its canonical detail type.
type kindEvents struct {
	detailType events.DetailType
	entries    []json.RawMessage
}

// Translate produces zero or more canonical events from a raw activity
// payload body. Every entry of every present kind yields one typed event
// carrying the raw entry as its detail; tweet-created entries not authored
// by the self account additionally yield a MESSAGE_RECEIVED event.
func (t *Translator) Translate(body []byte) ([]events.Event, error) {
	var payload ActivityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TranslationError{Reason: "malformed activity payload", Cause: err}
	}

	kinds := []kindEvents{
		{events.Tweeted, payload.TweetCreateEvents},
		{events.Favourited, payload.FavoriteEvents},
		{events.Followed, payload.FollowEvents},
		{events.Unfollowed, payload.UnfollowEvents},
		{events.Blocked, payload.BlockEvents},
		{events.Unblocked, payload.UnblockEvents},
		{events.Muted, payload.MuteEvents},
		{events.Unmuted, payload.UnmuteEvents},
		{events.PermissionRevoked, payload.UserEvent},
		{events.DMReceived, payload.DMEvents},
		{events.DMTyping, payload.DMTypingEvents},
		{events.DMMarkedRead, payload.DMMarkReadEvents},
		{events.Deleted, payload.TweetDeleteEvents},
	}

	var out []events.Event
	for _, kind := range kinds {
		for _, entry := range kind.entries {
			out = append(out, events.Event{
				Source:     events.SourceTwitter,
				DetailType: kind.detailType,
				Detail:     entry,
			})
		}
	}

	// Anti-corruption events for messages someone else sent us.
	for _, entry := range payload.TweetCreateEvents {
		var tweet TweetCreated
		if err := json.Unmarshal(entry, &tweet); err != nil {
			return nil, &TranslationError{Reason: "malformed tweet-created entry", Cause: err}
		}
		if tweet.User.ID == t.selfAccountID {
			continue
		}

		evt, err := events.New(events.SourceTwitter, events.MessageReceived, messageReceived(tweet))
		if err != nil {
			return nil, &TranslationError{Reason: "encode message-received detail", Cause: err}
		}
		out = append(out, evt)
	}

	return out, nil
}

func messageReceived(tweet TweetCreated) events.MessageReceivedDetail {
	text := tweet.Text
	if tweet.Truncated {
		text = tweet.ExtendedTweet.FullText
	}

	var imageURLs []string
	for _, media := range tweet.Entities.Media {
		imageURLs = append(imageURLs, media.MediaURLHTTPS)
	}

	return events.MessageReceivedDetail{
		Text:      text,
		ImageUrls: imageURLs,
		Author:    fmt.Sprintf("%s (%s)", tweet.User.Name, tweet.User.ScreenName),
		Twitter: events.TwitterRef{
			UserID:  tweet.User.ID,
			TweetID: tweet.IDStr,
		},
	}
}
