// Package egress posts SEND_TWEET events to the social platform. The
// social client is built lazily from the secret store the first time a
// reply goes out; concurrent first callers collapse onto one build.
package egress

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
)

// SocialClient posts media and replies. Implemented by the social client.
type SocialClient interface {
	UploadMedia(ctx context.Context, media []byte) (string, error)
	CreateReply(ctx context.Context, text, replyToTweetID, mediaID string) (string, error)
}

// ClientFactory builds the social client, typically by fetching API
// credentials from the secret store.
type ClientFactory func(ctx context.Context) (SocialClient, error)

// Sender delivers SEND_TWEET events.
type Sender struct {
	factory ClientFactory
	store   storage.ObjectStore
	logger  logging.Logger

	group  singleflight.Group
	cached atomic.Pointer[SocialClient]
}

func NewSender(factory ClientFactory, store storage.ObjectStore, logger logging.Logger) *Sender {
	return &Sender{
		factory: factory,
		store:   store,
		logger:  logger,
	}
}

func (s *Sender) client(ctx context.Context) (SocialClient, error) {
	if c := s.cached.Load(); c != nil {
		return *c, nil
	}

	value, err, _ := s.group.Do("client", func() (interface{}, error) {
		client, err := s.factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("build social client: %w", err)
		}
		s.cached.Store(&client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(SocialClient), nil
}

// Handle posts one reply. When the detail carries an ImageKey the stored
// bytes are uploaded first and attached to the tweet.
func (s *Sender) Handle(ctx context.Context, evt events.Event) error {
	var detail events.SendTweetDetail
	if err := evt.DecodeDetail(&detail); err != nil {
		return err
	}

	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	var mediaID string
	if detail.ImageKey != "" {
		media, err := s.store.Get(ctx, detail.ImageKey)
		if err != nil {
			return fmt.Errorf("fetch image %s: %w", detail.ImageKey, err)
		}
		mediaID, err = client.UploadMedia(ctx, media)
		if err != nil {
			return fmt.Errorf("upload media: %w", err)
		}
	}

	tweetID, err := client.CreateReply(ctx, detail.Text, detail.ReplyToTweetID, mediaID)
	if err != nil {
		return fmt.Errorf("create reply: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"event_id":   evt.ID,
		"tweet_id":   tweetID,
		"reply_to":   detail.ReplyToTweetID,
		"with_media": mediaID != "",
	}).Info("Posted reply")
	return nil
}
