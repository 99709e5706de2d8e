package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevels(t *testing.T) {
	if got := New(false).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("default level = %v, want info", got)
	}
	if got := New(true).GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("verbose level = %v, want debug", got)
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("account", "wf-checking").Msg("import complete")

	out := buf.String()
	if !strings.Contains(out, "import complete") || !strings.Contains(out, "wf-checking") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)
	ctx := WithContext(context.Background(), log)

	got := FromContext(ctx)
	got.Info().Msg("from context")
	if buf.Len() == 0 {
		t.Error("logger from context produced no output")
	}
}

func TestFromContextDefault(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("default logger is disabled")
	}
}
