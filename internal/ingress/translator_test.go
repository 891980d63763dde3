package ingress

import (
	"errors"
	"testing"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
)

const selfAccountID = 111

func detailTypes(evts []events.Event) []events.DetailType {
	out := make([]events.DetailType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.DetailType)
	}
	return out
}

func TestTranslateEmitsTypedAndMessageReceivedEvents(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	body := []byte(`{
		"for_user_id": "111",
		"tweet_create_events": [
			{"id_str":"9001","text":"hello bot","truncated":false,
			 "user":{"id":222,"name":"Alice","screen_name":"alice"}}
		],
		"favorite_events": [{"id":"f1"}]
	}`)

	translated, err := translator.Translate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := detailTypes(translated)
	want := []events.DetailType{events.Tweeted, events.Favourited, events.MessageReceived}
	if len(got) != len(want) {
		t.Fatalf("detail types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("detail types = %v, want %v", got, want)
		}
	}

	var detail events.MessageReceivedDetail
	if err := translated[2].DecodeDetail(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Text != "hello bot" {
		t.Fatalf("Text = %q", detail.Text)
	}
	if detail.Author != "Alice (alice)" {
		t.Fatalf("Author = %q", detail.Author)
	}
	if detail.Twitter.UserID != 222 || detail.Twitter.TweetID != "9001" {
		t.Fatalf("Twitter = %+v", detail.Twitter)
	}
	if detail.ImageUrls != nil {
		t.Fatalf("ImageUrls = %v, want omitted", detail.ImageUrls)
	}
}

func TestTranslateSelfAuthoredTweetYieldsNoMessageReceived(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	body := []byte(`{
		"tweet_create_events": [
			{"id_str":"1","text":"talking to myself","truncated":false,
			 "user":{"id":111,"name":"Bot","screen_name":"bot"}}
		]
	}`)

	translated, err := translator.Translate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, evt := range translated {
		if evt.DetailType == events.MessageReceived {
			t.Fatal("self-authored tweet must not yield MESSAGE_RECEIVED")
		}
	}
	if len(translated) != 1 || translated[0].DetailType != events.Tweeted {
		t.Fatalf("events = %v, want only TWEETED", detailTypes(translated))
	}
}

func TestTranslateTruncatedUsesExtendedText(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	body := []byte(`{
		"tweet_create_events": [
			{"id_str":"2","text":"short...","truncated":true,
			 "extended_tweet":{"full_text":"the whole much longer text"},
			 "user":{"id":222,"name":"Alice","screen_name":"alice"}}
		]
	}`)

	translated, err := translator.Translate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var detail events.MessageReceivedDetail
	if err := translated[len(translated)-1].DecodeDetail(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Text != "the whole much longer text" {
		t.Fatalf("Text = %q, want extended full text", detail.Text)
	}
}

func TestTranslateCollectsMediaURLs(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	body := []byte(`{
		"tweet_create_events": [
			{"id_str":"3","text":"look at this","truncated":false,
			 "entities":{"media":[{"media_url_https":"https://img/a.jpg"},{"media_url_https":"https://img/b.png"}]},
			 "user":{"id":222,"name":"Alice","screen_name":"alice"}}
		]
	}`)

	translated, err := translator.Translate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var detail events.MessageReceivedDetail
	if err := translated[len(translated)-1].DecodeDetail(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.ImageUrls) != 2 || detail.ImageUrls[0] != "https://img/a.jpg" {
		t.Fatalf("ImageUrls = %v", detail.ImageUrls)
	}
}

func TestTranslateEveryKindMapsToItsDetailType(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	cases := []struct {
		field string
		want  events.DetailType
	}{
		{"favorite_events", events.Favourited},
		{"follow_events", events.Followed},
		{"unfollow_events", events.Unfollowed},
		{"block_events", events.Blocked},
		{"unblock_events", events.Unblocked},
		{"mute_events", events.Muted},
		{"unmute_events", events.Unmuted},
		{"user_event", events.PermissionRevoked},
		{"direct_message_events", events.DMReceived},
		{"direct_message_indicate_typing_events", events.DMTyping},
		{"direct_message_mark_read_events", events.DMMarkedRead},
		{"tweet_delete_events", events.Deleted},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			body := []byte(`{"` + tc.field + `": [{"some":"entry"}]}`)
			translated, err := translator.Translate(body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(translated) != 1 || translated[0].DetailType != tc.want {
				t.Fatalf("events = %v, want one %s", detailTypes(translated), tc.want)
			}
			if translated[0].Source != events.SourceTwitter {
				t.Fatalf("source = %q", translated[0].Source)
			}
		})
	}
}

func TestTranslateOneEventPerArrayElement(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	body := []byte(`{"favorite_events": [{"id":1},{"id":2},{"id":3}]}`)
	translated, err := translator.Translate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(translated) != 3 {
		t.Fatalf("got %d events, want 3", len(translated))
	}
}

func TestTranslateMalformedPayload(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	_, err := translator.Translate([]byte(`{not json`))

	var translationErr *TranslationError
	if !errors.As(err, &translationErr) {
		t.Fatalf("expected TranslationError, got %v", err)
	}
}

func TestTranslateEmptyPayloadYieldsNothing(t *testing.T) {
	translator := NewTranslator(selfAccountID)

	translated, err := translator.Translate([]byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(translated) != 0 {
		t.Fatalf("got %d events, want 0", len(translated))
	}
}
