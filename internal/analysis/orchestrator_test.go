package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
	"github.com/makit/aws-serverless-twitter-bot/pkg/storage"
)

type fakeAnalyzer struct {
	entities     []events.Entity
	sentiment    string
	entitiesErr  error
	sentimentErr error
}

func (f *fakeAnalyzer) DetectEntities(_ context.Context, _ string) ([]events.Entity, error) {
	return f.entities, f.entitiesErr
}

func (f *fakeAnalyzer) DetectSentiment(_ context.Context, _ string) (string, error) {
	return f.sentiment, f.sentimentErr
}

type fakeRecognizer struct {
	labels     []events.Label
	detections []events.TextDetection
	celebs     *CelebrityResult
	labelsErr  error
	calls      atomic.Int64
}

func (f *fakeRecognizer) DetectLabels(_ context.Context, _ []byte) ([]events.Label, error) {
	f.calls.Add(1)
	return f.labels, f.labelsErr
}

func (f *fakeRecognizer) DetectText(_ context.Context, _ []byte) ([]events.TextDetection, error) {
	f.calls.Add(1)
	return f.detections, nil
}

func (f *fakeRecognizer) RecognizeCelebrities(_ context.Context, _ []byte) (*CelebrityResult, error) {
	f.calls.Add(1)
	if f.celebs != nil {
		return f.celebs, nil
	}
	return &CelebrityResult{}, nil
}

type capturingBus struct {
	published []events.Event
}

func (b *capturingBus) Publish(_ context.Context, evt events.Event) error {
	b.published = append(b.published, evt)
	return nil
}

func messageEvent(t *testing.T, detail events.MessageReceivedDetail) events.Event {
	t.Helper()
	evt, err := events.New(events.SourceTwitter, events.MessageReceived, detail)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	evt.ID = "trigger-1"
	return evt
}

func lastAnalysed(t *testing.T, bus *capturingBus) events.AnalysedMessageDetail {
	t.Helper()
	if len(bus.published) != 1 {
		t.Fatalf("published %d events, want 1", len(bus.published))
	}
	if bus.published[0].DetailType != events.MessageAnalysed {
		t.Fatalf("detail type = %s, want MESSAGE_ANALYSED", bus.published[0].DetailType)
	}
	var detail events.AnalysedMessageDetail
	if err := bus.published[0].DecodeDetail(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	return detail
}

func TestOrchestratorTextOnlyScenario(t *testing.T) {
	analyzer := &fakeAnalyzer{sentiment: "POSITIVE"}
	recognizer := &fakeRecognizer{}
	store := storage.NewMemoryStore()
	bus := &capturingBus{}
	orchestrator := NewOrchestrator(analyzer, recognizer, store,
		NewDownloader(store, nil, logging.NewLogger()), bus, logging.NewLogger())

	evt := messageEvent(t, events.MessageReceivedDetail{
		Text:   "I love this!",
		Author: "alice",
	})
	if err := orchestrator.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detail := lastAnalysed(t, bus)
	if detail.Analysis.TextSentiment != "POSITIVE" {
		t.Fatalf("TextSentiment = %q, want POSITIVE", detail.Analysis.TextSentiment)
	}
	if detail.Analysis.Images == nil || len(detail.Analysis.Images) != 0 {
		t.Fatalf("Images = %v, want empty list", detail.Analysis.Images)
	}
	if detail.Author != "alice" || detail.Text != "I love this!" {
		t.Fatalf("original fields not preserved: %+v", detail)
	}
	if recognizer.calls.Load() != 0 {
		t.Fatalf("image detectors invoked %d times with no ImageUrls, want 0", recognizer.calls.Load())
	}
}

func TestOrchestratorImageScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	analyzer := &fakeAnalyzer{sentiment: "NEUTRAL"}
	recognizer := &fakeRecognizer{
		celebs: &CelebrityResult{
			CelebrityFaces: []events.FaceMatch{{Name: "Ada"}},
		},
	}
	store := storage.NewMemoryStore()
	downloader := NewDownloader(store, &http.Client{Timeout: 5 * time.Second}, logging.NewLogger())
	downloader.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	downloader.newID = func() string { return "k1" }

	bus := &capturingBus{}
	orchestrator := NewOrchestrator(analyzer, recognizer, store, downloader, bus, logging.NewLogger())

	evt := messageEvent(t, events.MessageReceivedDetail{
		Text:      "who is this",
		Author:    "alice",
		ImageUrls: []string{srv.URL + "/face.jpg"},
	})
	if err := orchestrator.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detail := lastAnalysed(t, bus)
	if len(detail.Analysis.Images) != 1 {
		t.Fatalf("Images = %+v, want 1 entry", detail.Analysis.Images)
	}
	image := detail.Analysis.Images[0]
	if image.Key != "2026/3/14/k1.jpg" {
		t.Fatalf("Key = %q", image.Key)
	}
	if len(image.Analysis.CelebrityFaces) != 1 || image.Analysis.CelebrityFaces[0].Name != "Ada" {
		t.Fatalf("CelebrityFaces = %+v, want Ada", image.Analysis.CelebrityFaces)
	}
}

func TestOrchestratorKeepsOnlyFulfilledDownloads(t *testing.T) {
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		served.Add(1)
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	analyzer := &fakeAnalyzer{sentiment: "NEUTRAL"}
	recognizer := &fakeRecognizer{labels: []events.Label{{Name: "Cat", Confidence: 0.9}}}
	store := storage.NewMemoryStore()
	bus := &capturingBus{}
	orchestrator := NewOrchestrator(analyzer, recognizer, store,
		NewDownloader(store, &http.Client{Timeout: 5 * time.Second}, logging.NewLogger()),
		bus, logging.NewLogger())

	evt := messageEvent(t, events.MessageReceivedDetail{
		Text:   "three images",
		Author: "alice",
		ImageUrls: []string{
			srv.URL + "/a.jpg",
			srv.URL + "/bad.jpg",
			srv.URL + "/c.jpg",
		},
	})
	if err := orchestrator.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detail := lastAnalysed(t, bus)
	if len(detail.Analysis.Images) != 2 {
		t.Fatalf("Images has %d entries, want 2 (one download failed)", len(detail.Analysis.Images))
	}
	for _, image := range detail.Analysis.Images {
		if len(image.Analysis.Labels) != 1 || image.Analysis.Labels[0].Name != "Cat" {
			t.Fatalf("Labels = %+v", image.Analysis.Labels)
		}
	}
}

func TestOrchestratorDetectorFailureFallsBack(t *testing.T) {
	analyzer := &fakeAnalyzer{sentimentErr: errors.New("sentiment service down")}
	store := storage.NewMemoryStore()
	bus := &capturingBus{}
	orchestrator := NewOrchestrator(analyzer, &fakeRecognizer{}, store,
		NewDownloader(store, nil, logging.NewLogger()), bus, logging.NewLogger())

	evt := messageEvent(t, events.MessageReceivedDetail{Text: "hi", Author: "alice"})
	if err := orchestrator.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published %d events, want 1", len(bus.published))
	}
	var marker events.AnalysisFailedDetail
	if err := bus.published[0].DecodeDetail(&marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if !marker.Failed || marker.Error == "" {
		t.Fatalf("marker = %+v, want Failed with cause", marker)
	}

	// The marker must not decode into a success-shaped analysis.
	var success events.AnalysedMessageDetail
	_ = bus.published[0].DecodeDetail(&success)
	if len(success.Analysis.Images) != 0 || success.Analysis.TextSentiment != "" {
		t.Fatalf("fallback must not carry an Analysis: %+v", success.Analysis)
	}
}

func TestOrchestratorImageDetectorFailureDegradesWholeAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	analyzer := &fakeAnalyzer{sentiment: "POSITIVE"}
	recognizer := &fakeRecognizer{labelsErr: errors.New("vision down")}
	store := storage.NewMemoryStore()
	bus := &capturingBus{}
	orchestrator := NewOrchestrator(analyzer, recognizer, store,
		NewDownloader(store, &http.Client{Timeout: 5 * time.Second}, logging.NewLogger()),
		bus, logging.NewLogger())

	evt := messageEvent(t, events.MessageReceivedDetail{
		Text:      "hi",
		Author:    "alice",
		ImageUrls: []string{srv.URL + "/a.jpg"},
	})
	if err := orchestrator.Handle(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var marker events.AnalysisFailedDetail
	if err := bus.published[0].DecodeDetail(&marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	if !marker.Failed {
		t.Fatalf("expected fallback marker, got %s", string(bus.published[0].Detail))
	}
}

func TestOrchestratorUndecodableTriggerIsAnError(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := &capturingBus{}
	orchestrator := NewOrchestrator(&fakeAnalyzer{}, &fakeRecognizer{}, store,
		NewDownloader(store, nil, logging.NewLogger()), bus, logging.NewLogger())

	evt := events.Event{
		Source:     events.SourceTwitter,
		DetailType: events.MessageReceived,
		Detail:     []byte(`{"Text": 42}`),
	}
	if err := orchestrator.Handle(context.Background(), evt); err == nil {
		t.Fatal("expected decode error")
	}
	if len(bus.published) != 0 {
		t.Fatalf("published %d events for undecodable trigger, want 0", len(bus.published))
	}
}
