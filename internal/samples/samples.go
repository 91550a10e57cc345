package samples

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
)

// Factory creates one handler value writing to out.
type Factory func(out io.Writer) dispatch.Handler

// Sample describes a named handler served by the listen command.
type Sample struct {
	Name string
	// PerMessage reports whether the host should create a handler per message.
	PerMessage bool
	New        Factory
}

var samples = map[string]Sample{
	"echo": {
		Name: "echo",
		New:  func(out io.Writer) dispatch.Handler { return &EchoService{Out: out} },
	},
	"session": {
		Name:       "session",
		PerMessage: true,
		New:        func(out io.Writer) dispatch.Handler { return NewSessionService(out) },
	},
	"async": {
		Name: "async",
		New: func(out io.Writer) dispatch.Handler {
			return &AsyncEchoService{Out: out, Delay: time.Second}
		},
	},
	"news": {
		Name: "news",
		New:  func(out io.Writer) dispatch.Handler { return &NewsService{Out: out} },
	},
	"poison": {
		Name: "poison",
		New:  func(out io.Writer) dispatch.Handler { return &PoisonService{Out: out} },
	},
}

// Lookup returns the sample handler registered under name.
func Lookup(name string) (Sample, error) {
	s, ok := samples[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Sample{}, fmt.Errorf("unknown handler %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names returns the registered sample names, sorted.
func Names() []string {
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
