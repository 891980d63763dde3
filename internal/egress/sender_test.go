package egress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
)

type fakeSocial struct {
	mu       sync.Mutex
	uploaded [][]byte
	replies  []string
	mediaID  string
}

func (f *fakeSocial) UploadMedia(_ context.Context, media []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, media)
	return f.mediaID, nil
}

func (f *fakeSocial) CreateReply(_ context.Context, text, replyToTweetID, mediaID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text+"|"+replyToTweetID+"|"+mediaID)
	return "new-tweet", nil
}

func sendEvent(t *testing.T, detail events.SendTweetDetail) events.Event {
	t.Helper()
	evt, err := events.New(events.SourceBot, events.SendTweet, detail)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return evt
}

func TestSenderPostsTextReply(t *testing.T) {
	social := &fakeSocial{}
	sender := NewSender(func(_ context.Context) (SocialClient, error) {
		return social, nil
	}, storage.NewMemoryStore(), logging.NewLogger())

	evt := sendEvent(t, events.SendTweetDetail{
		Text:           "@alice hello",
		ReplyToUserID:  222,
		ReplyToTweetID: "9001",
	})
	if err := sender.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(social.replies) != 1 || social.replies[0] != "@alice hello|9001|" {
		t.Fatalf("replies = %v", social.replies)
	}
	if len(social.uploaded) != 0 {
		t.Fatalf("uploaded %d media for text-only reply, want 0", len(social.uploaded))
	}
}

func TestSenderUploadsImageBeforeReplying(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Put(context.Background(), "2026/3/14/k1.jpg", []byte("jpeg")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	social := &fakeSocial{mediaID: "m42"}
	sender := NewSender(func(_ context.Context) (SocialClient, error) {
		return social, nil
	}, store, logging.NewLogger())

	evt := sendEvent(t, events.SendTweetDetail{
		Text:           "@alice I can see Ada",
		ReplyToTweetID: "9001",
		ImageKey:       "2026/3/14/k1.jpg",
	})
	if err := sender.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(social.uploaded) != 1 || string(social.uploaded[0]) != "jpeg" {
		t.Fatalf("uploaded = %v", social.uploaded)
	}
	if len(social.replies) != 1 || social.replies[0] != "@alice I can see Ada|9001|m42" {
		t.Fatalf("replies = %v", social.replies)
	}
}

func TestSenderMissingImageFails(t *testing.T) {
	social := &fakeSocial{}
	sender := NewSender(func(_ context.Context) (SocialClient, error) {
		return social, nil
	}, storage.NewMemoryStore(), logging.NewLogger())

	evt := sendEvent(t, events.SendTweetDetail{
		Text:           "@alice",
		ReplyToTweetID: "9001",
		ImageKey:       "gone",
	})
	err := sender.Handle(context.Background(), evt)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(social.replies) != 0 {
		t.Fatalf("replies = %v, want none", social.replies)
	}
}

func TestSenderBuildsClientOnce(t *testing.T) {
	var builds atomic.Int64
	social := &fakeSocial{}
	sender := NewSender(func(_ context.Context) (SocialClient, error) {
		builds.Add(1)
		return social, nil
	}, storage.NewMemoryStore(), logging.NewLogger())

	evt := sendEvent(t, events.SendTweetDetail{Text: "hi", ReplyToTweetID: "1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sender.Handle(context.Background(), evt); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("client built %d times, want 1", builds.Load())
	}
}

func TestSenderFactoryFailureSurfaces(t *testing.T) {
	sender := NewSender(func(_ context.Context) (SocialClient, error) {
		return nil, errors.New("secret service down")
	}, storage.NewMemoryStore(), logging.NewLogger())

	evt := sendEvent(t, events.SendTweetDetail{Text: "hi", ReplyToTweetID: "1"})
	if err := sender.Handle(context.Background(), evt); err == nil {
		t.Fatal("expected error")
	}
}
