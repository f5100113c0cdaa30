package logger

import (
	"log/slog"
	"testing"
)

// Domain packages log through the component loggers unconditionally, so they
// must be safe to call before InitLogger wires the real handler.
func TestComponentLoggersUsableWithoutInit(t *testing.T) {
	components := map[string]*slog.Logger{
		"L":      L,
		"DB":     DB,
		"TG":     TG,
		"MIG":    MIG,
		"TWire":  TWire,
		"Watch":  Watch,
		"Notify": Notify,
		"Setup":  Setup,
		"Chain":  Chain,
		"Store":  Store,
	}
	for name, lg := range components {
		if lg == nil {
			t.Fatalf("component logger %s is nil before InitLogger", name)
		}
	}

	// Must not panic; output goes to the discard handler.
	Setup.Info("session started", slog.String("event", "begin"))
	Watch.Warn("stream terminated upstream", slog.String("event", "stream.lost"))
}
