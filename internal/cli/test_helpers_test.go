package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/broker/memory"
	"github.com/neoclaw-ai/brokerhost/internal/config"
	"github.com/neoclaw-ai/brokerhost/internal/scheduler"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), ".brokerhost")
	t.Setenv("BROKERHOST_HOME", dataDir)
	return dataDir
}

func writeValidConfig(t *testing.T, dataDir string) {
	t.Helper()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir data dir: %v", err)
	}
	configBody := `
[log]
level = "warn"

[transport]
kind = "memory"

[listener]
queue = "orders"
handler = "echo"
receive_mode = "peek_lock"
receive_wait = "50ms"
shutdown_timeout = "2s"
`
	if err := os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// fakeTransport backs the transport factory with a namespace owned by the test.
type fakeTransport struct {
	ns *memory.Namespace

	mu   sync.Mutex
	sent []*broker.Message
}

func installFakeTransport(t *testing.T) *fakeTransport {
	t.Helper()
	f := &fakeTransport{ns: memory.NewNamespace()}
	orig := transportFactory
	transportFactory = func(_ context.Context, cfg *config.Config, queue string) (*transport, error) {
		q := f.ns.Queue(queue, memory.QueueOptions{
			RequiresSession: cfg.Listener.RequiresSession,
			ReceiveWait:     50 * time.Millisecond,
		})
		sender := scheduler.SenderFunc(func(ctx context.Context, name string, msg *broker.Message) error {
			f.mu.Lock()
			f.sent = append(f.sent, msg)
			f.mu.Unlock()
			return f.ns.Send(ctx, name, msg)
		})
		return &transport{kind: "test", endpoint: q, sender: sender}, nil
	}
	t.Cleanup(func() {
		transportFactory = orig
		f.ns.Close()
	})
	return f
}

func (f *fakeTransport) messages() []*broker.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*broker.Message(nil), f.sent...)
}

// lockedBuffer is read by the test while a command writes to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
