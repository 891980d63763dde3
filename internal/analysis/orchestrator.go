package analysis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
	"github.com/makit/aws-serverless-twitter-bot/pkg/workflow"
)

// TextAnalyzer is the NLP collaborator.
type TextAnalyzer interface {
	DetectEntities(ctx context.Context, text string) ([]events.Entity, error)
	DetectSentiment(ctx context.Context, text string) (string, error)
}

// CelebrityResult separates recognised faces from unrecognised ones.
type CelebrityResult struct {
	CelebrityFaces    []events.FaceMatch
	UnrecognizedFaces []events.Face
}

// ImageRecognizer is the vision collaborator. All methods take raw image
// bytes fetched from the object store.
type ImageRecognizer interface {
	DetectLabels(ctx context.Context, image []byte) ([]events.Label, error)
	DetectText(ctx context.Context, image []byte) ([]events.TextDetection, error)
	RecognizeCelebrities(ctx context.Context, image []byte) (*CelebrityResult, error)
}

// Publisher publishes result events. Implemented by the event bus.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Orchestrator runs one analysis workflow per MESSAGE_RECEIVED event:
// parallel text analysis, conditional per-image recognition, deterministic
// merge, and a single top-level catch that degrades any failure into a
// fallback result event. No step is retried; retry belongs to the caller.
type Orchestrator struct {
	analyzer   TextAnalyzer
	recognizer ImageRecognizer
	store      storage.ObjectStore
	downloader *Downloader
	bus        Publisher
	logger     logging.Logger
	outcomes   *prometheus.CounterVec
}

type Option func(*Orchestrator)

// WithOutcomeCounter attaches a counter labelled by terminal outcome
// (success or fallback).
func WithOutcomeCounter(counter *prometheus.CounterVec) Option {
	return func(o *Orchestrator) {
		o.outcomes = counter
	}
}

func NewOrchestrator(analyzer TextAnalyzer, recognizer ImageRecognizer, store storage.ObjectStore, downloader *Downloader, bus Publisher, logger logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		analyzer:   analyzer,
		recognizer: recognizer,
		store:      store,
		downloader: downloader,
		bus:        bus,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs one workflow execution for the triggering event. The
// returned error covers only undecodable input; analysis failures terminate
// in the fallback event instead.
func (o *Orchestrator) Handle(ctx context.Context, evt events.Event) error {
	var detail events.MessageReceivedDetail
	if err := evt.DecodeDetail(&detail); err != nil {
		return err
	}

	graph := workflow.Catch{
		Body: workflow.Sequence{
			o.analyseNode(),
			workflow.Task{Name: "publish-result", Fn: func(ctx context.Context, input any) (any, error) {
				return nil, o.publishResult(ctx, evt, detail, input)
			}},
		},
		Handler: func(ctx context.Context, _ any, err error) (any, error) {
			return nil, o.publishFallback(ctx, evt, err)
		},
	}

	_, err := graph.Run(ctx, detail)
	return err
}

// analyseNode builds the Parallel[Text, Image] region with its slot
// projection. The triggering detail flows in as the node input.
func (o *Orchestrator) analyseNode() workflow.Node {
	return workflow.Parallel{
		Name: "analyse-text-and-images",
		Branches: []workflow.Branch{
			{Slot: "text", Node: o.textNode()},
			{Slot: "images", Node: o.imageNode()},
		},
		Project: workflow.Projection{
			"TextEntities":  {Slot: "text", Path: "Entities"},
			"TextSentiment": {Slot: "text", Path: "Sentiment"},
			"Images":        {Slot: "images"},
		},
	}
}

func (o *Orchestrator) textNode() workflow.Node {
	return workflow.Parallel{
		Name: "analyse-text",
		Branches: []workflow.Branch{
			{Slot: "entities", Node: workflow.Task{Name: "detect-entities", Fn: func(ctx context.Context, input any) (any, error) {
				detail := input.(events.MessageReceivedDetail)
				entities, err := o.analyzer.DetectEntities(ctx, detail.Text)
				if err != nil {
					return nil, err
				}
				return struct{ Entities []events.Entity }{entities}, nil
			}}},
			{Slot: "sentiment", Node: workflow.Task{Name: "detect-sentiment", Fn: func(ctx context.Context, input any) (any, error) {
				detail := input.(events.MessageReceivedDetail)
				sentiment, err := o.analyzer.DetectSentiment(ctx, detail.Text)
				if err != nil {
					return nil, err
				}
				return struct{ Sentiment string }{sentiment}, nil
			}}},
		},
		Project: workflow.Projection{
			"Entities":  {Slot: "entities", Path: "Entities"},
			"Sentiment": {Slot: "sentiment", Path: "Sentiment"},
		},
	}
}

// imageNode is the conditional image branch: no URLs short-circuits to an
// empty list without touching the store or any detector.
func (o *Orchestrator) imageNode() workflow.Node {
	return workflow.Choice{
		Name: "contains-images",
		When: func(input any) bool {
			detail := input.(events.MessageReceivedDetail)
			return len(detail.ImageUrls) > 0
		},
		Then: workflow.Sequence{
			workflow.Task{Name: "download-images", Fn: func(ctx context.Context, input any) (any, error) {
				detail := input.(events.MessageReceivedDetail)
				results := o.downloader.DownloadAll(ctx, detail.ImageUrls)
				return FulfilledKeys(results), nil
			}},
			workflow.Map{
				Name: "map-images",
				Items: func(input any) ([]any, error) {
					keys := input.([]string)
					items := make([]any, len(keys))
					for i, key := range keys {
						items[i] = key
					}
					return items, nil
				},
				Iterator: o.imageIterator(),
			},
		},
		Else: workflow.Task{Name: "no-images", Fn: func(_ context.Context, _ any) (any, error) {
			return []events.Image{}, nil
		}},
	}
}

// imageIterator analyses one stored image: three detectors in parallel,
// merged by slot projection, shaped into the canonical Image record.
func (o *Orchestrator) imageIterator() workflow.Node {
	parallel := workflow.Parallel{
		Name: "analyse-image",
		Branches: []workflow.Branch{
			{Slot: "labels", Node: workflow.Task{Name: "detect-labels", Fn: func(ctx context.Context, input any) (any, error) {
				image, err := o.store.Get(ctx, input.(string))
				if err != nil {
					return nil, err
				}
				labels, err := o.recognizer.DetectLabels(ctx, image)
				if err != nil {
					return nil, err
				}
				return struct{ Labels []events.Label }{labels}, nil
			}}},
			{Slot: "text", Node: workflow.Task{Name: "detect-text", Fn: func(ctx context.Context, input any) (any, error) {
				image, err := o.store.Get(ctx, input.(string))
				if err != nil {
					return nil, err
				}
				detections, err := o.recognizer.DetectText(ctx, image)
				if err != nil {
					return nil, err
				}
				return struct{ TextDetections []events.TextDetection }{detections}, nil
			}}},
			{Slot: "celebrities", Node: workflow.Task{Name: "recognize-celebrities", Fn: func(ctx context.Context, input any) (any, error) {
				image, err := o.store.Get(ctx, input.(string))
				if err != nil {
					return nil, err
				}
				return o.recognizer.RecognizeCelebrities(ctx, image)
			}}},
		},
		Project: workflow.Projection{
			"Labels":            {Slot: "labels", Path: "Labels"},
			"TextDetections":    {Slot: "text", Path: "TextDetections"},
			"CelebrityFaces":    {Slot: "celebrities", Path: "CelebrityFaces"},
			"UnrecognizedFaces": {Slot: "celebrities", Path: "UnrecognizedFaces"},
		},
	}

	return workflow.Task{Name: "analyse-image", Fn: func(ctx context.Context, input any) (any, error) {
		key := input.(string)
		merged, err := parallel.Run(ctx, key)
		if err != nil {
			return nil, err
		}

		var imageAnalysis events.ImageAnalysis
		if err := workflow.Decode(merged, &imageAnalysis); err != nil {
			return nil, err
		}
		return events.Image{Key: key, Analysis: imageAnalysis}, nil
	}}
}

// publishResult emits MESSAGE_ANALYSED carrying the original triggering
// event's Author/Text/Twitter fields plus the merged analysis.
func (o *Orchestrator) publishResult(ctx context.Context, trigger events.Event, detail events.MessageReceivedDetail, merged any) error {
	var analysis events.Analysis
	if err := workflow.Decode(merged, &analysis); err != nil {
		return err
	}
	if analysis.Images == nil {
		analysis.Images = []events.Image{}
	}

	result, err := events.New(trigger.Source, events.MessageAnalysed, events.AnalysedMessageDetail{
		Author:   detail.Author,
		Text:     detail.Text,
		Twitter:  detail.Twitter,
		Analysis: analysis,
	})
	if err != nil {
		return err
	}

	if err := o.bus.Publish(ctx, result); err != nil {
		return err
	}

	if o.outcomes != nil {
		o.outcomes.WithLabelValues("success").Inc()
	}
	o.logger.WithFields(logging.Fields{
		"event_id": trigger.ID,
		"images":   len(analysis.Images),
	}).Info("Analysis complete")
	return nil
}

// publishFallback emits the minimal failure marker. It never reconstructs
// the analysis structure, so consumers can always tell the two apart.
func (o *Orchestrator) publishFallback(ctx context.Context, trigger events.Event, cause error) error {
	o.logger.WithError(cause).WithFields(logging.Fields{
		"event_id": trigger.ID,
	}).Error("Analysis failed, publishing fallback")

	marker, err := events.New(events.SourceBot, events.MessageAnalysed, events.AnalysisFailedDetail{
		Failed: true,
		Error:  cause.Error(),
	})
	if err != nil {
		return err
	}

	if err := o.bus.Publish(ctx, marker); err != nil {
		return fmt.Errorf("publish fallback: %w", err)
	}

	if o.outcomes != nil {
		o.outcomes.WithLabelValues("fallback").Inc()
	}
	return nil
}
