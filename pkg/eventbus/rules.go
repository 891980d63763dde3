package eventbus

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
)

// MatchOp is a field matcher operator.
type MatchOp string

const (
	// OpEqualsIn passes when the field is present and its value is one of
	// the matcher's values.
	OpEqualsIn MatchOp = "equals-in-set"
	// OpAnythingBut passes when the field is absent, or present with a
	// value that equals none of the matcher's values.
	OpAnythingBut MatchOp = "anything-but"
	// OpExists passes when the field is present, whatever its value.
	OpExists MatchOp = "exists"
	// OpNotExists passes when the field is absent.
	OpNotExists MatchOp = "not-exists"
)

// FieldMatcher tests one JSON path inside an event's detail. Paths use
// gjson syntax, so "Analysis.Images.#.Key" addresses the Key of every
// entry in the Images array.
type FieldMatcher struct {
	Path   string
	Op     MatchOp
	Values []string
}

// Rule declares which events a target receives. An empty DetailTypes set
// matches every detail type (catch-all); every field matcher must pass for
// the rule to match.
type Rule struct {
	Name        string
	DetailTypes []events.DetailType
	Matchers    []FieldMatcher
	Target      Target
}

// Validate checks the rule is well formed before subscription.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule requires a name")
	}
	if r.Target == nil {
		return fmt.Errorf("rule %s requires a target", r.Name)
	}
	for _, m := range r.Matchers {
		switch m.Op {
		case OpEqualsIn, OpAnythingBut:
			if len(m.Values) == 0 {
				return fmt.Errorf("rule %s matcher %s requires values for %s", r.Name, m.Path, m.Op)
			}
		case OpExists, OpNotExists:
		default:
			return fmt.Errorf("rule %s matcher %s has unknown op %q", r.Name, m.Path, m.Op)
		}
	}
	return nil
}

// Matches reports whether the event satisfies the rule.
func (r Rule) Matches(evt events.Event) bool {
	if len(r.DetailTypes) > 0 {
		found := false
		for _, dt := range r.DetailTypes {
			if dt == evt.DetailType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, m := range r.Matchers {
		if !m.matches(evt.Detail) {
			return false
		}
	}
	return true
}

func (m FieldMatcher) matches(detail []byte) bool {
	res := gjson.GetBytes(detail, m.Path)
	present := fieldPresent(res)

	switch m.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	case OpEqualsIn:
		if !present {
			return false
		}
		return anyValueIn(res, m.Values)
	case OpAnythingBut:
		// An entirely absent field satisfies anything-but.
		if !present {
			return true
		}
		return !anyValueIn(res, m.Values)
	default:
		return false
	}
}

// fieldPresent treats an array query that produced no elements, such as
// "Images.#.Key" over an empty Images array, as an absent field.
func fieldPresent(res gjson.Result) bool {
	if !res.Exists() {
		return false
	}
	if res.IsArray() && len(res.Array()) == 0 {
		return false
	}
	return true
}

func anyValueIn(res gjson.Result, values []string) bool {
	if res.IsArray() {
		for _, elem := range res.Array() {
			for _, v := range values {
				if elem.String() == v {
					return true
				}
			}
		}
		return false
	}
	for _, v := range values {
		if res.String() == v {
			return true
		}
	}
	return false
}
