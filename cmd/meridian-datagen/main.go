// Package main implements meridian-datagen, a synthetic interaction
// generator for exercising a running ingest service.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/meridianlabs/meridian/pkg/types"
)

type record struct {
	Data           []byte `json:"data"`
	SequenceNumber string `json:"sequence_number"`
}

type eventsRequest struct {
	Records []record `json:"records"`
}

var deviceTypes = []string{"mobile", "desktop", "tablet"}
var locations = []string{"us-east", "us-west", "eu-central", "ap-south"}

func main() {
	var (
		endpoint  string
		users     int
		items     int
		batches   int
		batchSize int
		dupRate   float64
		seed      int64
	)

	flag.StringVar(&endpoint, "endpoint", "http://localhost:8080", "Ingest service base URL")
	flag.IntVar(&users, "users", 100, "Number of distinct users")
	flag.IntVar(&items, "items", 50, "Number of distinct items")
	flag.IntVar(&batches, "batches", 10, "Number of batches to send")
	flag.IntVar(&batchSize, "batch-size", 100, "Records per batch")
	flag.Float64Var(&dupRate, "dup-rate", 0.05, "Fraction of records re-sent to exercise dedup")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "RNG seed, fixed for reproducible runs")
	flag.Parse()

	rng := rand.New(rand.NewSource(seed))
	interactions := types.InteractionTypes()
	client := &http.Client{Timeout: 30 * time.Second}

	log.Printf("generating %d batches of %d records against %s (seed=%d)", batches, batchSize, endpoint, seed)

	var sent, processed, rejected int
	seq := 0
	var previous []record

	for b := 0; b < batches; b++ {
		batch := make([]record, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			seq++

			// Occasionally replay an earlier record; the pipeline must
			// converge to a single stored copy.
			if len(previous) > 0 && rng.Float64() < dupRate {
				dup := previous[rng.Intn(len(previous))]
				batch = append(batch, record{Data: dup.Data, SequenceNumber: fmt.Sprintf("seq-%06d", seq)})
				continue
			}

			ev := types.InteractionEvent{
				UserID:      fmt.Sprintf("user_%03d", rng.Intn(users)),
				ItemID:      fmt.Sprintf("item_%03d", rng.Intn(items)),
				Interaction: interactions[rng.Intn(len(interactions))],
				EventTime:   time.Now().UTC().Add(-time.Duration(rng.Intn(3600)) * time.Second),
				Metadata: map[string]string{
					"session_id":  uuid.New().String(),
					"device_type": deviceTypes[rng.Intn(len(deviceTypes))],
					"location":    locations[rng.Intn(len(locations))],
				},
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Fatalf("marshal event: %v", err)
			}
			batch = append(batch, record{Data: data, SequenceNumber: fmt.Sprintf("seq-%06d", seq)})
		}
		previous = batch

		body, err := json.Marshal(eventsRequest{Records: batch})
		if err != nil {
			log.Fatalf("marshal batch: %v", err)
		}

		resp, err := client.Post(endpoint+"/v1/events", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("post batch %d: %v", b+1, err)
		}

		var result struct {
			Processed int `json:"processed"`
			Rejected  int `json:"rejected"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			log.Fatalf("decode response for batch %d: %v", b+1, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			log.Printf("batch %d: status %d", b+1, resp.StatusCode)
			os.Exit(1)
		}

		sent += len(batch)
		processed += result.Processed
		rejected += result.Rejected
		log.Printf("batch %d/%d: processed=%d rejected=%d", b+1, batches, result.Processed, result.Rejected)
	}

	log.Printf("done: sent=%d processed=%d rejected=%d", sent, processed, rejected)
}
