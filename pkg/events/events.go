package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// DetailType identifies the kind of a canonical event. The set is closed:
// consumers switch exhaustively over these values and never see provider
// payloads directly.
type DetailType string

const (
	// Anti-corruption layer events produced by ingress and the analyser.
	MessageReceived DetailType = "MESSAGE_RECEIVED"
	MessageAnalysed DetailType = "MESSAGE_ANALYSED"
	SendTweet       DetailType = "SEND_TWEET"

	// Raw per-activity-kind events, preserved for analytics visibility.
	Tweeted           DetailType = "TWEETED"
	Favourited        DetailType = "FAVOURITED"
	Followed          DetailType = "FOLLOWED"
	Unfollowed        DetailType = "UNFOLLOWED"
	Blocked           DetailType = "BLOCKED"
	Unblocked         DetailType = "UNBLOCKED"
	Muted             DetailType = "MUTED"
	Unmuted           DetailType = "UNMUTED"
	PermissionRevoked DetailType = "PERMISSION_REVOKED"
	DMReceived        DetailType = "DM_RECEIVED"
	DMTyping          DetailType = "DM_TYPING"
	DMMarkedRead      DetailType = "DM_MARKED_READ"
	Deleted           DetailType = "DELETED"
)

// Event sources
const (
	SourceTwitter = "TWITTER"
	SourceBot     = "BOT"
)

// Event is the canonical envelope published on the bus. Events are
// write-once: the bus stamps ID and Timestamp exactly once at publish and
// never mutates an event afterwards.
type Event struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType DetailType      `json:"detail_type"`
	BusName    string          `json:"bus_name,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Detail     json.RawMessage `json:"detail"`
}

// New builds an unstamped event with the given detail marshalled to JSON.
func New(source string, detailType DetailType, detail interface{}) (Event, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s detail: %w", detailType, err)
	}
	return Event{
		Source:     source,
		DetailType: detailType,
		Detail:     raw,
	}, nil
}

// DecodeDetail unmarshals the event detail into the given value.
func (e Event) DecodeDetail(v interface{}) error {
	if err := json.Unmarshal(e.Detail, v); err != nil {
		return fmt.Errorf("decode %s detail: %w", e.DetailType, err)
	}
	return nil
}

// TwitterRef points at the provider-side message a canonical event relates
// to, so responders can address replies without re-reading provider state.
type TwitterRef struct {
	UserID  int64  `json:"UserId"`
	TweetID string `json:"TweetId"`
}

// MessageReceivedDetail is the anti-corruption payload for an inbound
// message. Text is always the full text, never a truncated form. ImageUrls
// is omitted entirely when the message carried no media.
type MessageReceivedDetail struct {
	Text      string     `json:"Text"`
	ImageUrls []string   `json:"ImageUrls,omitempty"`
	Author    string     `json:"Author"`
	Twitter   TwitterRef `json:"Twitter"`
}

// AnalysedMessageDetail is the payload of a successful MESSAGE_ANALYSED
// event. Author, Text and Twitter always carry the values of the original
// triggering event, never anything computed mid-workflow.
type AnalysedMessageDetail struct {
	Author   string     `json:"Author"`
	Text     string     `json:"Text"`
	Twitter  TwitterRef `json:"Twitter"`
	Analysis Analysis   `json:"Analysis"`
}

// Analysis holds the merged outputs of the analysis workflow.
type Analysis struct {
	TextEntities  []Entity `json:"TextEntities"`
	TextSentiment string   `json:"TextSentiment"`
	Images        []Image  `json:"Images"`
}

// Image is the per-image analysis result. Key addresses the downloaded
// bytes in the object store.
type Image struct {
	Key      string        `json:"Key"`
	Analysis ImageAnalysis `json:"Analysis"`
}

// ImageAnalysis holds the merged detector outputs for one image.
type ImageAnalysis struct {
	Labels            []Label         `json:"Labels"`
	TextDetections    []TextDetection `json:"TextDetections"`
	CelebrityFaces    []FaceMatch     `json:"CelebrityFaces"`
	UnrecognizedFaces []Face          `json:"UnrecognizedFaces"`
}

// Entity is a detected text entity.
type Entity struct {
	Text  string  `json:"Text"`
	Type  string  `json:"Type"`
	Score float64 `json:"Score"`
}

// Label is a detected image label.
type Label struct {
	Name       string  `json:"Name"`
	Confidence float64 `json:"Confidence"`
}

// TextDetection is a piece of text found inside an image.
type TextDetection struct {
	DetectedText string  `json:"DetectedText"`
	Type         string  `json:"Type"`
	Confidence   float64 `json:"Confidence"`
}

// FaceMatch is a face recognised as a known person.
type FaceMatch struct {
	Face Face     `json:"Face"`
	Name string   `json:"Name"`
	Urls []string `json:"Urls"`
}

// Face locates a detected face within an image.
type Face struct {
	BoundingBox BoundingBox `json:"BoundingBox"`
	Confidence  float64     `json:"Confidence"`
}

// BoundingBox is a normalized rectangle locating a feature within an image.
type BoundingBox struct {
	Top    float64 `json:"Top"`
	Left   float64 `json:"Left"`
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
}

// AnalysisFailedDetail is the minimal failure marker published when the
// analysis workflow falls back. It deliberately carries no Analysis
// structure so consumers can always tell it apart from a success.
type AnalysisFailedDetail struct {
	Failed bool   `json:"Failed"`
	Error  string `json:"Error"`
}

// SendTweetDetail asks the egress service to post a reply.
type SendTweetDetail struct {
	Text           string `json:"Text"`
	ReplyToUserID  int64  `json:"ReplyToUserId"`
	ReplyToTweetID string `json:"ReplyToTweetId"`
	ImageKey       string `json:"ImageKey,omitempty"`
}
