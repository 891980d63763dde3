package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLabelsSendsImageBase64(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"labels":[{"Name":"Cat","Confidence":99.1}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	labels, err := client.DetectLabels(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("DetectLabels() error = %v", err)
	}

	if gotPath != "/v1/labels" {
		t.Errorf("unexpected path %q", gotPath)
	}
	want := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	if gotBody["image_base64"] != want {
		t.Errorf("expected base64 image in request, got %v", gotBody)
	}
	if len(labels) != 1 || labels[0].Name != "Cat" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestRecognizeCelebritiesSplitsFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"celebrity_faces":[{"Name":"Ada Lovelace","Face":{"Confidence":98.5}}],
			"unrecognized_faces":[{"Confidence":77.0}]
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.RecognizeCelebrities(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("RecognizeCelebrities() error = %v", err)
	}

	if len(result.CelebrityFaces) != 1 || result.CelebrityFaces[0].Name != "Ada Lovelace" {
		t.Fatalf("unexpected celebrity faces %v", result.CelebrityFaces)
	}
	if len(result.UnrecognizedFaces) != 1 {
		t.Fatalf("unexpected unrecognized faces %v", result.UnrecognizedFaces)
	}
}

func TestDetectTextSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if _, err := client.DetectText(context.Background(), []byte("jpeg-bytes")); err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}
