// internal/driver/waveshare/driver_test.go
package waveshare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/pkg/driver"
)

type recordingHandler struct {
	mu       sync.Mutex
	events   []string
	sections []driver.SectionResult
	errs     []error
}

func (h *recordingHandler) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) OnConnected(string)            { h.record("connected") }
func (h *recordingHandler) OnDisconnected(string, string) { h.record("disconnected") }
func (h *recordingHandler) OnModeChanged(_, _, newState string) {
	h.record("mode:" + newState)
}
func (h *recordingHandler) OnError(_ string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}
func (h *recordingHandler) OnSectionCompleted(_ string, section driver.SectionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sections = append(h.sections, section)
}

func newTestDriver(t *testing.T, fake *prototest.FakeChannel) (driver.BridgeDriver, *recordingHandler) {
	t.Helper()
	info := &model.SessionInfo{ID: uuid.New(), Brand: model.BrandWaveshare}
	d, err := NewWaveshareDriver(info, fake, driver.Options{Timing: fastTiming()}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWaveshareDriver() error = %v", err)
	}
	handler := &recordingHandler{}
	d.SetEventHandler(handler)
	return d, handler
}

func TestDriverLifecycle(t *testing.T) {
	fake := prototest.NewFakeChannel(prototest.Script(prototest.ConfigModeBridge()))
	d, handler := newTestDriver(t, fake)
	ctx := context.Background()

	if d.IsConnected() {
		t.Fatal("driver must start disconnected")
	}
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !d.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}

	result, err := d.ReadAll(ctx, model.DefaultSnapshot(time.Now()))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if result.SuccessCount != 6 {
		t.Errorf("SuccessCount = %d", result.SuccessCount)
	}
	if len(handler.sections) != 6 {
		t.Errorf("section events = %d, want 6", len(handler.sections))
	}

	metrics, err := d.GetHealthMetrics()
	if err != nil {
		t.Fatalf("GetHealthMetrics() error = %v", err)
	}
	if metrics.TotalOperations != 2 || metrics.HealthScore != 100 || metrics.BytesWritten == 0 {
		t.Errorf("metrics = %+v", metrics)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	want := []string{"connected", "mode:probing", "mode:responsive", "disconnected"}
	if !equalStrings(handler.events, want) {
		t.Errorf("events = %v, want %v", handler.events, want)
	}
}

func TestDriverConnectUnavailable(t *testing.T) {
	fake := prototest.NewFakeChannel(nil)
	fake.FailOpen(errors.New("no such port"))
	d, _ := newTestDriver(t, fake)

	err := d.Connect(context.Background())
	if !errors.Is(err, model.ErrChannelUnavailable) {
		t.Fatalf("Connect() error = %v, want ChannelUnavailable", err)
	}
}

func TestDriverRequiresConnection(t *testing.T) {
	fake := prototest.NewFakeChannel(nil)
	d, _ := newTestDriver(t, fake)

	_, err := d.ApplyAll(context.Background(), model.DefaultSnapshot(time.Now()))
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("ApplyAll() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
	if len(fake.Written()) != 0 {
		t.Error("nothing may be written on a closed session")
	}
}

func TestDriverReportsErrors(t *testing.T) {
	fake := prototest.NewFakeChannel(prototest.Silent)
	fake.FailWriteAt(0)
	d, handler := newTestDriver(t, fake)

	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := d.SendCommand(context.Background(), "AT"); err == nil {
		t.Fatal("SendCommand() should fail")
	}
	if len(handler.errs) != 1 {
		t.Errorf("error events = %d, want 1", len(handler.errs))
	}

	metrics, _ := d.GetHealthMetrics()
	if metrics.ErrorCount != 1 || metrics.LastErrorTime == nil {
		t.Errorf("metrics = %+v", metrics)
	}
}
