package cli

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/journal"
)

func TestHandlersListsBindings(t *testing.T) {
	dataDir := createTestHome(t)
	writeValidConfig(t, dataDir)

	out := runRoot(t, "handlers")
	for _, want := range []string{"EchoOnce", "EchoTwice", "OnReceiveMessage", "DoComplexTaskAsync"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in handlers output, got %q", want, out)
		}
	}
	if strings.Contains(out, "OnError") {
		t.Fatalf("expected OnError to stay unbound, got %q", out)
	}
}

func TestDemoListsAndRuns(t *testing.T) {
	dataDir := createTestHome(t)
	writeValidConfig(t, dataDir)

	out := runRoot(t, "demo")
	if !strings.Contains(out, "actions") || !strings.Contains(out, "poison") {
		t.Fatalf("expected scenario list, got %q", out)
	}

	out = runRoot(t, "demo", "actions")
	if !strings.Contains(out, "message received by EchoTwice") {
		t.Fatalf("expected demo output, got %q", out)
	}
}

func TestJournalShowsAndResets(t *testing.T) {
	dataDir := createTestHome(t)
	writeValidConfig(t, dataDir)

	out := runRoot(t, "journal")
	if !strings.Contains(out, "no journal entries") {
		t.Fatalf("expected empty journal, got %q", out)
	}

	j := journal.New(filepath.Join(dataDir, "data", "logs", "journal.jsonl"))
	entry := journal.NewEntry("orders", broker.NewMessage([]byte("x")), journal.Unroutable, errors.New("no operation"))
	if err := j.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}

	out = runRoot(t, "journal")
	if !strings.Contains(out, "unroutable") || !strings.Contains(out, "no operation") {
		t.Fatalf("expected journal entry, got %q", out)
	}

	runRoot(t, "journal", "--reset")
	out = runRoot(t, "journal")
	if !strings.Contains(out, "no journal entries") {
		t.Fatalf("expected journal cleared, got %q", out)
	}
}
