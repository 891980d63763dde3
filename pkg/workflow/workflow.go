// Package workflow provides a small in-process orchestration engine. A
// workflow is an explicit graph of nodes (task, sequence, parallel, choice,
// map, catch) interpreted by Run, rather than deeply nested builder calls.
// Parallel branches are addressed by named slots so merged outputs never
// depend on silent array positions.
package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Node is a single executable step in a workflow graph.
type Node interface {
	Run(ctx context.Context, input any) (any, error)
}

// Task wraps a function as a leaf node.
type Task struct {
	Name string
	Fn   func(ctx context.Context, input any) (any, error)
}

// Run executes the task function.
func (t Task) Run(ctx context.Context, input any) (any, error) {
	out, err := t.Fn(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.Name, err)
	}
	return out, nil
}

// Sequence runs nodes in order, feeding each node's output into the next.
type Sequence []Node

// Run executes the sequence.
func (s Sequence) Run(ctx context.Context, input any) (any, error) {
	current := input
	for _, node := range s {
		out, err := node.Run(ctx, current)
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

// Branch is one named slot of a Parallel node. Slot names are the stable
// addresses used by projections; branch declaration order is preserved in
// execution start order but results are always keyed by slot.
type Branch struct {
	Slot string
	Node Node
}

// Parallel runs all branches concurrently against the same input. The
// first branch error cancels the siblings and fails the node. When Project
// is set, the slot outputs are merged through it; otherwise the raw
// slot→output map is returned.
type Parallel struct {
	Name     string
	Branches []Branch
	Project  Projection
}

// Run executes all branches and merges their outputs.
func (p Parallel) Run(ctx context.Context, input any) (any, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	results := make([]any, len(p.Branches))

	for i, branch := range p.Branches {
		i, branch := i, branch
		group.Go(func() error {
			out, err := branch.Node.Run(groupCtx, input)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("parallel %s: %w", p.Name, err)
	}

	outputs := make(map[string]any, len(p.Branches))
	for i, branch := range p.Branches {
		outputs[branch.Slot] = results[i]
	}

	if p.Project == nil {
		return outputs, nil
	}
	return p.Project.Merge(outputs)
}

// Choice branches on a predicate over the input. A nil Else yields a nil
// output when the predicate is false.
type Choice struct {
	Name string
	When func(input any) bool
	Then Node
	Else Node
}

// Run evaluates the predicate and runs the selected branch.
func (c Choice) Run(ctx context.Context, input any) (any, error) {
	if c.When(input) {
		return c.Then.Run(ctx, input)
	}
	if c.Else == nil {
		return nil, nil
	}
	return c.Else.Run(ctx, input)
}

// Map fans the iterator out over the items derived from the input. Items
// run concurrently; outputs are collected in item order. The first item
// error cancels the remaining items and fails the node.
type Map struct {
	Name     string
	Items    func(input any) ([]any, error)
	Iterator Node
}

// Run executes the iterator over every item.
func (m Map) Run(ctx context.Context, input any) (any, error) {
	items, err := m.Items(input)
	if err != nil {
		return nil, fmt.Errorf("map %s items: %w", m.Name, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	results := make([]any, len(items))

	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			out, err := m.Iterator.Run(groupCtx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("map %s: %w", m.Name, err)
	}
	return results, nil
}

// Catch runs the body and routes any error into the handler instead of
// propagating it. It is the single failure boundary of a workflow region.
type Catch struct {
	Body    Node
	Handler func(ctx context.Context, input any, err error) (any, error)
}

// Run executes the body, falling back to the handler on error.
func (c Catch) Run(ctx context.Context, input any) (any, error) {
	out, err := c.Body.Run(ctx, input)
	if err != nil {
		return c.Handler(ctx, input, err)
	}
	return out, nil
}
