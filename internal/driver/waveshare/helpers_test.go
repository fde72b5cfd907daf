// internal/driver/waveshare/helpers_test.go
package waveshare

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/pkg/driver"
)

func fastTiming() driver.Timing {
	return driver.Timing{
		ProbeTimeout: 30 * time.Millisecond,
		ProbeSettle:  time.Millisecond,
		ReadTimeout:  30 * time.Millisecond,
		PollInterval: time.Millisecond,
		EscapeSettle: time.Millisecond,
		RestartDelay: time.Millisecond,
		SwitchRead:   30 * time.Millisecond,
	}
}

func openFake(t *testing.T, responder prototest.Responder) *prototest.FakeChannel {
	t.Helper()
	fake := prototest.NewFakeChannel(responder)
	if err := fake.Open(context.Background()); err != nil {
		t.Fatalf("open fake channel: %v", err)
	}
	return fake
}

func newTestEngine(t *testing.T, fake *prototest.FakeChannel, opts driver.Options) *Engine {
	t.Helper()
	if opts.Timing == (driver.Timing{}) {
		opts.Timing = fastTiming()
	}
	logger := zaptest.NewLogger(t)
	return NewEngine(NewExchanger(fake, opts.Timing.PollInterval, logger), opts, logger)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
