package samples

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/neoclaw-ai/brokerhost/internal/journal"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memoryRecorder) Record(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memoryRecorder) outcomes() []journal.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]journal.Outcome, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Outcome)
	}
	return out
}

func runDemo(t *testing.T, name string, rec *memoryRecorder) string {
	t.Helper()
	var out bytes.Buffer
	opts := DemoOptions{Out: &out}
	if rec != nil {
		opts.Journal = rec
	}
	if err := RunDemo(context.Background(), name, opts); err != nil {
		t.Fatalf("run demo %s: %v", name, err)
	}
	return out.String()
}

func TestDemoActions(t *testing.T) {
	t.Parallel()

	out := runDemo(t, "actions", nil)
	for _, want := range []string{"message received by EchoOnce", "message received by EchoTwice"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestDemoSession(t *testing.T) {
	t.Parallel()

	out := runDemo(t, "session", nil)
	for _, session := range []string{"session 1", "session 2"} {
		if got := strings.Count(out, "in "+session+" by service"); got != 2 {
			t.Fatalf("expected 2 messages in %s, got %d:\n%s", session, got, out)
		}
	}
	first := strings.Index(out, `"Hello World!" in session 1`)
	second := strings.Index(out, `"Bye World!" in session 1`)
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected session 1 messages in order:\n%s", out)
	}
}

func TestDemoAsync(t *testing.T) {
	t.Parallel()

	out := runDemo(t, "async", nil)
	if !strings.Contains(out, "completing complex task") {
		t.Fatalf("expected async completion in output:\n%s", out)
	}
}

func TestDemoPubSub(t *testing.T) {
	t.Parallel()

	out := runDemo(t, "pubsub", nil)
	if !strings.Contains(out, `received message "Hello World!"`) {
		t.Fatalf("expected subscription delivery:\n%s", out)
	}
	if !strings.Contains(out, "audit saw message") {
		t.Fatalf("expected audit delivery:\n%s", out)
	}
}

func TestDemoCallback(t *testing.T) {
	t.Parallel()

	out := runDemo(t, "callback", nil)
	if strings.Count(out, "message received from the queue") != 2 {
		t.Fatalf("expected two callback deliveries:\n%s", out)
	}
}

func TestDemoPoison(t *testing.T) {
	t.Parallel()

	rec := &memoryRecorder{}
	out := runDemo(t, "poison", rec)
	for _, want := range []string{
		"dead-letter reason: I was told to deadletter myself",
		"dead-letter description: Selfdestruction",
		"dead-letter reason: MaxDeliveryCountExceeded",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	abandoned := 0
	for _, o := range rec.outcomes() {
		if o == journal.Abandoned {
			abandoned++
		}
	}
	if abandoned != 2 {
		t.Fatalf("expected 2 abandoned journal entries, got %v", rec.outcomes())
	}
}

func TestDemoUnknown(t *testing.T) {
	t.Parallel()

	if err := RunDemo(context.Background(), "missing", DemoOptions{}); err == nil {
		t.Fatalf("expected unknown demo error")
	}
}
