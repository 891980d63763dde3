package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Source addresses one value inside a named slot's output. An empty Path
// selects the whole slot output.
type Source struct {
	Slot string
	Path string
}

// Projection declares how concurrent slot outputs merge into one record:
// each output field is filled from one slot path. A path absent in a
// slot's output leaves the field out of the merged record; detectors that
// legitimately return nothing never fail the merge.
type Projection map[string]Source

// Merge produces the merged record from the slot outputs.
func (p Projection) Merge(outputs map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(p))

	for field, source := range p {
		slotOutput, ok := outputs[source.Slot]
		if !ok || slotOutput == nil {
			continue
		}

		if source.Path == "" {
			merged[field] = slotOutput
			continue
		}

		raw, err := json.Marshal(slotOutput)
		if err != nil {
			return nil, fmt.Errorf("marshal slot %s output: %w", source.Slot, err)
		}

		res := gjson.GetBytes(raw, source.Path)
		if !res.Exists() {
			continue
		}
		merged[field] = res.Value()
	}

	return merged, nil
}

// Decode converts a merged record into a typed value via JSON round-trip.
func Decode(merged any, v any) error {
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal merged record: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode merged record: %w", err)
	}
	return nil
}
