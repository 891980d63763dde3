// Package responder turns analysed messages into outgoing replies. Each
// responder is subscribed behind a routing rule, so it only ever sees the
// shape of MESSAGE_ANALYSED it declared interest in.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// ChatService is the conversational collaborator.
type ChatService interface {
	RecognizeText(ctx context.Context, sessionID, text string) (string, error)
}

// Publisher publishes reply events. Implemented by the event bus.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// ChatResponder answers text-only messages through the chat service.
type ChatResponder struct {
	chat   ChatService
	bus    Publisher
	logger logging.Logger
}

func NewChatResponder(chat ChatService, bus Publisher, logger logging.Logger) *ChatResponder {
	return &ChatResponder{
		chat:   chat,
		bus:    bus,
		logger: logger,
	}
}

// Handle asks the chat service for a reply and publishes SEND_TWEET
// addressed back at the original author.
func (r *ChatResponder) Handle(ctx context.Context, evt events.Event) error {
	var detail events.AnalysedMessageDetail
	if err := evt.DecodeDetail(&detail); err != nil {
		return err
	}

	// Can't respond without text. The routing rule filters this already;
	// duplicates and replays may still land here.
	if detail.Text == "" {
		return nil
	}

	reply, err := r.chat.RecognizeText(ctx, detail.Author, detail.Text)
	if err != nil {
		return fmt.Errorf("recognize text: %w", err)
	}
	if reply == "" {
		r.logger.WithFields(logging.Fields{
			"event_id": evt.ID,
		}).Info("Chat service had no reply")
		return nil
	}

	send, err := events.New(events.SourceBot, events.SendTweet, events.SendTweetDetail{
		Text:           fmt.Sprintf("@%s %s", detail.Author, reply),
		ReplyToUserID:  detail.Twitter.UserID,
		ReplyToTweetID: detail.Twitter.TweetID,
	})
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, send)
}

// ImageResponder replies to messages with analysed images, naming any
// recognised celebrities.
type ImageResponder struct {
	bus    Publisher
	logger logging.Logger
}

func NewImageResponder(bus Publisher, logger logging.Logger) *ImageResponder {
	return &ImageResponder{
		bus:    bus,
		logger: logger,
	}
}

// Handle publishes a SEND_TWEET naming the celebrities found across the
// message's images, attaching the first image that contained one.
func (r *ImageResponder) Handle(ctx context.Context, evt events.Event) error {
	var detail events.AnalysedMessageDetail
	if err := evt.DecodeDetail(&detail); err != nil {
		return err
	}

	if len(detail.Analysis.Images) == 0 {
		return nil
	}

	var names []string
	var imageKey string
	seen := make(map[string]bool)
	for _, image := range detail.Analysis.Images {
		for _, face := range image.Analysis.CelebrityFaces {
			if face.Name == "" || seen[face.Name] {
				continue
			}
			seen[face.Name] = true
			names = append(names, face.Name)
			if imageKey == "" {
				imageKey = image.Key
			}
		}
	}

	if len(names) == 0 {
		r.logger.WithFields(logging.Fields{
			"event_id": evt.ID,
			"images":   len(detail.Analysis.Images),
		}).Info("No celebrities recognised")
		return nil
	}

	send, err := events.New(events.SourceBot, events.SendTweet, events.SendTweetDetail{
		Text:           fmt.Sprintf("@%s I can see %s", detail.Author, strings.Join(names, ", ")),
		ReplyToUserID:  detail.Twitter.UserID,
		ReplyToTweetID: detail.Twitter.TweetID,
		ImageKey:       imageKey,
	})
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, send)
}
