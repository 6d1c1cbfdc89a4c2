package partition

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/meridianlabs/meridian/pkg/types"
)

// EncodeRecord serializes a processed event as snappy-compressed JSON.
// Encoding is deterministic for a given event: struct fields marshal in
// declaration order and metadata keys marshal sorted, so redelivered events
// produce byte-identical objects.
func EncodeRecord(ev types.ProcessedEvent) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeRecord deserializes a stored record.
func DecodeRecord(data []byte) (types.ProcessedEvent, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return types.ProcessedEvent{}, fmt.Errorf("decompress record: %w", err)
	}

	var ev types.ProcessedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return types.ProcessedEvent{}, fmt.Errorf("decode record: %w", err)
	}
	return ev, nil
}
