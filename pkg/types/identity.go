package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"
)

// IdempotencyID derives a deterministic identifier from the event's own
// content. Redelivery of the same logical event always produces the same id,
// so repeated raw writes converge to a single stored record. The delivery
// envelope (sequence marker, arrival time) never participates.
func IdempotencyID(e InteractionEvent) string {
	var buf bytes.Buffer
	writeIdentityField(&buf, e.UserID)
	writeIdentityField(&buf, e.ItemID)
	writeIdentityField(&buf, string(e.Interaction))
	binary.Write(&buf, binary.BigEndian, e.EventTime.UTC().UnixNano())

	// Metadata participates in identity so that distinct payloads for the
	// same composite key remain distinct raw records. Keys are sorted to
	// make the hash independent of map iteration order.
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeIdentityField(&buf, k)
		writeIdentityField(&buf, e.Metadata[k])
	}

	h1, h2 := murmur3.Sum128(buf.Bytes())
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// CompositeKey is the dedup identity used by compaction:
// (user_id, item_id, event_time, interaction_type). Two raw records with the
// same composite key describe the same logical interaction and collapse to
// one canonical record.
func CompositeKey(e InteractionEvent) string {
	var buf bytes.Buffer
	writeIdentityField(&buf, e.UserID)
	writeIdentityField(&buf, e.ItemID)
	binary.Write(&buf, binary.BigEndian, e.EventTime.UTC().UnixNano())
	writeIdentityField(&buf, string(e.Interaction))

	h1, h2 := murmur3.Sum128(buf.Bytes())
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// writeIdentityField writes a length-prefixed field so that adjacent values
// cannot collide ("ab"+"c" vs "a"+"bc").
func writeIdentityField(buf *bytes.Buffer, v string) {
	binary.Write(buf, binary.BigEndian, uint32(len(v)))
	buf.WriteString(v)
}
