package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy creates an independent copy of state S using a JSON round trip.
//
// Every exported field is copied, including slices, maps and pointees.
// Unexported fields survive only if the type implements json.Marshaler and
// json.Unmarshaler itself. Channels and functions make the copy fail.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}
