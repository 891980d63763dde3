package workflow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

func constTask(name string, out any) Task {
	return Task{Name: name, Fn: func(context.Context, any) (any, error) {
		return out, nil
	}}
}

func failTask(name string, err error) Task {
	return Task{Name: name, Fn: func(context.Context, any) (any, error) {
		return nil, err
	}}
}

func TestSequenceThreadsOutput(t *testing.T) {
	seq := Sequence{
		Task{Name: "double", Fn: func(_ context.Context, in any) (any, error) {
			return in.(int) * 2, nil
		}},
		Task{Name: "inc", Fn: func(_ context.Context, in any) (any, error) {
			return in.(int) + 1, nil
		}},
	}

	out, err := seq.Run(context.Background(), 20)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != 41 {
		t.Fatalf("out = %v, want 41", out)
	}
}

func TestParallelMergesNamedSlots(t *testing.T) {
	node := Parallel{
		Name: "analyse-text",
		Branches: []Branch{
			{Slot: "entities", Node: constTask("entities", map[string]any{"Entities": []string{"a", "b"}})},
			{Slot: "sentiment", Node: constTask("sentiment", map[string]any{"Sentiment": "POSITIVE"})},
		},
		Project: Projection{
			"Entities":  {Slot: "entities", Path: "Entities"},
			"Sentiment": {Slot: "sentiment", Path: "Sentiment"},
		},
	}

	out, err := node.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	merged, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("output type = %T, want map", out)
	}
	if merged["Sentiment"] != "POSITIVE" {
		t.Fatalf("Sentiment = %v, want POSITIVE", merged["Sentiment"])
	}
	if entities, ok := merged["Entities"].([]any); !ok || len(entities) != 2 {
		t.Fatalf("Entities = %v, want two entries", merged["Entities"])
	}
}

func TestParallelBranchErrorFailsNode(t *testing.T) {
	sentinel := errors.New("detector down")
	node := Parallel{
		Name: "analyse",
		Branches: []Branch{
			{Slot: "ok", Node: constTask("ok", "fine")},
			{Slot: "bad", Node: failTask("bad", sentinel)},
		},
	}

	_, err := node.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from failing branch")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want wrapped sentinel", err)
	}
}

func TestChoiceBranches(t *testing.T) {
	node := Choice{
		Name: "has-images",
		When: func(in any) bool { return in.(bool) },
		Then: constTask("then", "with-images"),
		Else: constTask("else", "no-images"),
	}

	out, err := node.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "with-images" {
		t.Fatalf("out = %v, want with-images", out)
	}

	out, err = node.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "no-images" {
		t.Fatalf("out = %v, want no-images", out)
	}
}

func TestChoiceNilElseYieldsNil(t *testing.T) {
	node := Choice{
		Name: "maybe",
		When: func(any) bool { return false },
		Then: constTask("then", "x"),
	}

	out, err := node.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != nil {
		t.Fatalf("out = %v, want nil", out)
	}
}

func TestMapPreservesItemOrder(t *testing.T) {
	node := Map{
		Name: "upper",
		Items: func(in any) ([]any, error) {
			items := in.([]string)
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = item
			}
			return out, nil
		},
		Iterator: Task{Name: "upper", Fn: func(_ context.Context, in any) (any, error) {
			return strings.ToUpper(in.(string)), nil
		}},
	}

	out, err := node.Run(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	results := out.([]any)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"A", "B", "C"} {
		if results[i] != want {
			t.Fatalf("results[%d] = %v, want %v", i, results[i], want)
		}
	}
}

func TestMapItemErrorFailsNode(t *testing.T) {
	node := Map{
		Name: "explode",
		Items: func(any) ([]any, error) {
			return []any{"ok", "bad"}, nil
		},
		Iterator: Task{Name: "check", Fn: func(_ context.Context, in any) (any, error) {
			if in == "bad" {
				return nil, errors.New("bad item")
			}
			return in, nil
		}},
	}

	if _, err := node.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error from failing item")
	}
}

func TestCatchRoutesErrorToHandler(t *testing.T) {
	var handled atomic.Bool
	node := Catch{
		Body: failTask("always-fails", errors.New("boom")),
		Handler: func(_ context.Context, _ any, err error) (any, error) {
			handled.Store(true)
			if err == nil {
				t.Error("expected error in handler")
			}
			return "fallback", nil
		},
	}

	out, err := node.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "fallback" {
		t.Fatalf("out = %v, want fallback", out)
	}
	if !handled.Load() {
		t.Fatal("handler was not invoked")
	}
}

func TestCatchPassesThroughSuccess(t *testing.T) {
	node := Catch{
		Body: constTask("fine", "result"),
		Handler: func(_ context.Context, _ any, _ error) (any, error) {
			t.Error("handler must not run on success")
			return nil, nil
		},
	}

	out, err := node.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "result" {
		t.Fatalf("out = %v, want result", out)
	}
}
