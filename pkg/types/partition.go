package types

import (
	"fmt"
	"time"
)

// PartitionKey identifies the hourly storage partition an event belongs to.
// It is a pure function of the event's own event_time (UTC), so the same
// event always maps to the same partition no matter when or how many times
// it is delivered.
type PartitionKey struct {
	// Date is the UTC calendar date, YYYY-MM-DD
	Date string `json:"date"`

	// Hour is the UTC hour of day, 0-23
	Hour int `json:"hour"`
}

// PartitionKeyFor derives the partition key from an event time.
func PartitionKeyFor(eventTime time.Time) PartitionKey {
	t := eventTime.UTC()
	return PartitionKey{
		Date: t.Format("2006-01-02"),
		Hour: t.Hour(),
	}
}

// String renders the key in the storage path form "date=YYYY-MM-DD/hour=HH".
func (k PartitionKey) String() string {
	return fmt.Sprintf("date=%s/hour=%02d", k.Date, k.Hour)
}

// Start returns the beginning of the partition's hour in UTC. Keys built
// by PartitionKeyFor always parse; a hand-built key with a malformed date
// yields the zero time.
func (k PartitionKey) Start() time.Time {
	t, err := time.Parse("2006-01-02", k.Date)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(k.Hour) * time.Hour)
}

// Next returns the key for the following hour.
func (k PartitionKey) Next() PartitionKey {
	return PartitionKeyFor(k.Start().Add(time.Hour))
}
