// Package journal records the deliveries a listener could not complete
// normally as JSONL entries, one per line.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/store"
)

// Outcome classifies a journaled delivery.
type Outcome string

const (
	Abandoned    Outcome = "abandoned"
	DeadLettered Outcome = "dead_lettered"
	Dropped      Outcome = "dropped"
	Unroutable   Outcome = "unroutable"
	// Unsettled means settling the delivery failed; it is redelivered once
	// its lock lapses.
	Unsettled Outcome = "unsettled"
)

// Entry is one journaled delivery.
type Entry struct {
	Time          time.Time `json:"time"`
	Endpoint      string    `json:"endpoint"`
	MessageID     string    `json:"message_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Operation     string    `json:"operation,omitempty"`
	DeliveryCount int       `json:"delivery_count,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Error         string    `json:"error,omitempty"`
}

// NewEntry fills an entry from a delivered message.
func NewEntry(endpoint string, msg *broker.Message, outcome Outcome, err error) Entry {
	e := Entry{
		Time:     time.Now().UTC(),
		Endpoint: endpoint,
		Outcome:  outcome,
	}
	if msg != nil {
		e.MessageID = msg.ID
		e.SessionID = msg.SessionID
		e.DeliveryCount = msg.DeliveryCount
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Journal appends entries to a JSONL file.
type Journal struct {
	path string
}

// New creates a journal backed by path.
func New(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Record appends one entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j == nil || j.path == "" {
		return errors.New("journal path is required")
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := store.AppendFile(j.path, encoded); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Tail returns the last n entries, oldest first. n <= 0 returns all entries.
// Malformed lines are skipped.
func (j *Journal) Tail(ctx context.Context, n int) ([]Entry, error) {
	if j == nil || j.path == "" {
		return nil, errors.New("journal path is required")
	}
	content, err := store.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	entries := make([]Entry, 0)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Reset truncates the journal.
func (j *Journal) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j == nil || j.path == "" {
		return errors.New("journal path is required")
	}
	if err := store.WriteFile(j.path, nil); err != nil {
		return fmt.Errorf("reset journal: %w", err)
	}
	return nil
}
