// internal/driver/waveshare/engine_test.go
package waveshare

import (
	"context"
	"strings"
	"testing"
	"time"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol/prototest"
	"can-bridge-service/pkg/driver"
)

func TestReadAllFromResponsiveBridge(t *testing.T) {
	fake := openFake(t, prototest.Script(prototest.ConfigModeBridge()))
	engine := newTestEngine(t, fake, driver.Options{})

	var sections []string
	engine.OnSection(func(r driver.SectionResult) {
		sections = append(sections, r.Name)
	})

	snap := model.DefaultSnapshot(time.Now().Add(-time.Hour))
	before := snap.Status.LastUpdate

	result, err := engine.ReadAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	if result.SuccessCount != 6 || result.Total != 6 || result.Degraded {
		t.Fatalf("result = %+v", result)
	}
	if !result.Succeeded() || result.Status() != model.OperationStatusSuccess {
		t.Error("a full read must succeed")
	}
	if result.Ratio().String() != "1" {
		t.Errorf("Ratio() = %s, want 1", result.Ratio())
	}
	if result.ModeState != "responsive" {
		t.Errorf("ModeState = %q", result.ModeState)
	}

	want := []string{
		"AT", "AT+UART?", "AT+CAN?", "AT+ID?", "AT+FILTER?",
		"AT+MODE?", "AT+PERF?", "AT+PROTO?", "AT+STATUS?", "AT+INFO?",
	}
	if got := fake.Written(); !equalStrings(got, want) {
		t.Errorf("written = %v, want %v", got, want)
	}
	if !equalStrings(sections, SectionNames()) {
		t.Errorf("observed sections = %v", sections)
	}

	if snap.DeviceInfo.SerialNumber != "SN123456" || snap.Status.FrameCount != 1234 {
		t.Errorf("snapshot not populated: %+v", snap)
	}
	if snap.Status.LastUpdate == before {
		t.Error("last_update must be refreshed after a successful section")
	}
	if snap.Status.Source != "" {
		t.Errorf("source = %q, want empty for a device read", snap.Status.Source)
	}
}

func TestReadAllFallsBackToHostDefaults(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	engine := newTestEngine(t, fake, driver.Options{
		Host: driver.HostDefaults{UARTBaudRate: 115200, CANBaudRate: 500000, Mode: model.ModeFormat},
	})

	snap := model.DefaultSnapshot(time.Now())
	result, err := engine.ReadAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	if !result.Degraded || result.SuccessCount != 0 {
		t.Fatalf("result = %+v, want degraded with no successes", result)
	}
	if result.Status() != model.OperationStatusDegraded || result.Succeeded() {
		t.Error("a degraded read is not a success")
	}
	if result.ModeState != "still_transparent" {
		t.Errorf("ModeState = %q", result.ModeState)
	}

	if snap.UartConfig.BaudRate != 115200 || snap.CanConfig.BaudRate != 500000 {
		t.Errorf("baud rates = %d/%d", snap.UartConfig.BaudRate, snap.CanConfig.BaudRate)
	}
	if snap.WorkingMode.Mode != model.ModeFormat || snap.WorkingMode.ModeID != 2 {
		t.Errorf("working_mode = %+v", snap.WorkingMode)
	}
	if snap.Performance.TargetRate != 83 || snap.Performance.Optimization != "transparent_mode" {
		t.Errorf("performance = %+v", snap.Performance)
	}
	if !snap.Status.Connected || snap.Status.Source != model.SourceInterfaceParameters {
		t.Errorf("status = %+v", snap.Status)
	}

	for _, cmd := range fake.Written() {
		if strings.HasSuffix(cmd, "?") {
			t.Errorf("no query may be sent to a silent device, sent %q", cmd)
		}
	}
}

func TestReadAllPartial(t *testing.T) {
	answers := map[string]string{
		"AT":       "OK\r\n",
		"AT+UART?": "+UART:115200,8,1,0,0\r\nOK\r\n",
		"AT+CAN?":  "+CAN:250000\r\nOK\r\n",
	}
	fake := openFake(t, prototest.Script(answers))
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	result, err := engine.ReadAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	if result.SuccessCount != 1 || len(result.Sections) != 6 {
		t.Fatalf("result = %+v, want 1 success across 6 attempted sections", result)
	}
	if result.Succeeded() || result.Status() != model.OperationStatusPartial {
		t.Error("1 of 6 sections must be reported as partial")
	}
	if result.Ratio().String() != "0.1667" {
		t.Errorf("Ratio() = %s, want 0.1667", result.Ratio())
	}

	can := result.Sections[1]
	if can.Name != "can" || can.Success || can.Error == "" {
		t.Errorf("can section = %+v", can)
	}
	if snap.CanConfig.BaudRate != 250000 {
		t.Error("queries answered before a failure in the same section are kept")
	}

	written := fake.Written()
	if !equalStrings(written[len(written)-2:], []string{"AT+STATUS?", "AT+INFO?"}) {
		t.Errorf("every section must be attempted, written = %v", written)
	}
}

func TestReadAllMalformedSection(t *testing.T) {
	answers := prototest.ConfigModeBridge()
	answers["AT+UART?"] = "+UART:fast,8,1,0,0\r\nOK\r\n"
	fake := openFake(t, prototest.Script(answers))
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	snap.UartConfig.BaudRate = 9600

	result, err := engine.ReadAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if result.SuccessCount != 5 || !result.Succeeded() {
		t.Errorf("result = %+v, want 5 successes", result)
	}
	if result.Sections[0].Success || !strings.Contains(result.Sections[0].Error, string(model.KindMalformedResponse)) {
		t.Errorf("uart section = %+v", result.Sections[0])
	}
	if snap.UartConfig.BaudRate != 9600 {
		t.Error("a malformed answer must not change the section")
	}
}

func TestReadAllRejectsOutOfRangeAnswers(t *testing.T) {
	answers := prototest.ConfigModeBridge()
	answers["AT+UART?"] = "+UART:12345,5,3,0,0\r\nOK\r\n"
	answers["AT+ID?"] = "+ID:0x18FEF100\r\nOK\r\n"
	fake := openFake(t, prototest.Script(answers))
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	want := snap.Clone()

	result, err := engine.ReadAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if result.SuccessCount != 4 {
		t.Errorf("success count = %d, want 4", result.SuccessCount)
	}
	for _, i := range []int{0, 1} {
		sec := result.Sections[i]
		if sec.Success || !strings.Contains(sec.Error, string(model.KindMalformedResponse)) {
			t.Errorf("section %s = %+v, want malformed failure", sec.Name, sec)
		}
	}
	if snap.UartConfig != want.UartConfig || snap.CanConfig.CanID != want.CanConfig.CanID {
		t.Errorf("rejected answers reached the snapshot: uart %+v can_id %s", snap.UartConfig, snap.CanConfig.CanID)
	}
	if err := snap.Validate(); err != nil {
		t.Errorf("snapshot invalid after read: %v", err)
	}
}

func TestReadAllChannelFailure(t *testing.T) {
	fake := openFake(t, prototest.Script(prototest.ConfigModeBridge()))
	fake.FailWriteAt(3)
	engine := newTestEngine(t, fake, driver.Options{})

	_, err := engine.ReadAll(context.Background(), model.DefaultSnapshot(time.Now()))
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("ReadAll() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
}

func TestApplyAllCommandSequence(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	snap.UartConfig.Parity = "E"
	snap.CanConfig.CanID = "0x7E0"
	snap.WorkingMode.SetMode(model.ModeModbus)

	result, err := engine.ApplyAll(context.Background(), snap)
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}

	want := []string{
		"AT+UART=115200,8,1,1,0",
		"AT+CAN=500000",
		"AT+ID=7E0",
		"AT+FILTER=0x000,0x000",
		"AT+MODE=3",
		"AT+PERF=83",
		"AT+SAVE",
	}
	if got := fake.Written(); !equalStrings(got, want) {
		t.Errorf("written = %v, want %v", got, want)
	}
	if !equalStrings(result.Applied, want) || !result.Complete() || result.Total != 7 {
		t.Errorf("result = %+v", result)
	}
}

func TestApplyAllAbortsOnWriteFailure(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	fake.FailWriteAt(1)
	engine := newTestEngine(t, fake, driver.Options{})

	result, err := engine.ApplyAll(context.Background(), model.DefaultSnapshot(time.Now()))
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("ApplyAll() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
	if result == nil || !equalStrings(result.Applied, []string{"AT+UART=115200,8,1,0,0"}) {
		t.Errorf("applied = %+v, want only the UART command", result)
	}
	if result.Complete() {
		t.Error("an aborted apply is not complete")
	}
	if got := fake.Written(); len(got) != 1 {
		t.Errorf("no command may be sent after the failure, written = %v", got)
	}
}

func TestApplyAllRejectsInvalidSnapshot(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	snap.UartConfig.BaudRate = 12345

	if _, err := engine.ApplyAll(context.Background(), snap); model.KindOf(err) != model.KindValidation {
		t.Fatalf("ApplyAll() kind = %q, want %q", model.KindOf(err), model.KindValidation)
	}
	if len(fake.Written()) != 0 {
		t.Error("nothing may be sent for an invalid snapshot")
	}
}

func TestApplyAllWithConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		responder prototest.Responder
		wantKind  model.ErrorKind
		wantCount int
	}{
		{"acknowledged", func(string) string { return "OK\r\n" }, "", 7},
		{"silent", prototest.Silent, model.KindTimeout, 0},
		{"rejected", func(cmd string) string {
			if strings.HasPrefix(cmd, "AT+CAN=") {
				return "ERROR\r\n"
			}
			return "OK\r\n"
		}, model.KindMalformedResponse, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := openFake(t, tt.responder)
			engine := newTestEngine(t, fake, driver.Options{RequireConfirmation: true})

			result, err := engine.ApplyAll(context.Background(), model.DefaultSnapshot(time.Now()))
			if model.KindOf(err) != tt.wantKind {
				t.Fatalf("ApplyAll() kind = %q, want %q (err %v)", model.KindOf(err), tt.wantKind, err)
			}
			if len(result.Applied) != tt.wantCount {
				t.Errorf("applied = %v, want %d commands", result.Applied, tt.wantCount)
			}
			if !result.Confirmed {
				t.Error("result must record that confirmation was required")
			}
		})
	}
}

func TestApplyAdvanced(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	engine := newTestEngine(t, fake, driver.Options{})

	snap := model.DefaultSnapshot(time.Now())
	if err := snap.CanConfig.ApplyPreset("j1939"); err != nil {
		t.Fatalf("ApplyPreset() error = %v", err)
	}
	snap.CanConfig.CanID = "0x18FEF100"
	snap.WorkingMode.Direction = model.DirectionTX
	snap.WorkingMode.FrameLength = 6

	if _, err := engine.ApplyAdvanced(context.Background(), snap); err != nil {
		t.Fatalf("ApplyAdvanced() error = %v", err)
	}

	want := []string{
		"AT+FRAME=EXT",
		"AT+ID=18FEF100",
		"AT+FILTER=0x18F00000",
		"AT+MASK=0x1FFF0000",
		"AT+MODE=0",
		"AT+DIR=TX",
		"AT+LEN=6",
		"AT+PERF=83",
		"AT+SAVE",
	}
	if got := fake.Written(); !equalStrings(got, want) {
		t.Errorf("written = %v, want %v", got, want)
	}
}

func TestApplyAdvancedWithoutFilters(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	engine := newTestEngine(t, fake, driver.Options{})

	if _, err := engine.ApplyAdvanced(context.Background(), model.DefaultSnapshot(time.Now())); err != nil {
		t.Fatalf("ApplyAdvanced() error = %v", err)
	}
	for _, cmd := range fake.Written() {
		if strings.HasPrefix(cmd, "AT+FILTER") || strings.HasPrefix(cmd, "AT+MASK") {
			t.Errorf("filter commands must be skipped when filters are disabled, sent %q", cmd)
		}
	}
}

func TestResetAndSendRaw(t *testing.T) {
	fake := openFake(t, prototest.Script(map[string]string{"AT+VER?": "+VER:1.2\r\nOK\r\n"}))
	engine := newTestEngine(t, fake, driver.Options{})

	if err := engine.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if engine.State() != ModeUnknown {
		t.Errorf("state after reset = %s", engine.State())
	}

	resp, err := engine.SendRaw(context.Background(), "  AT+VER?  ")
	if err != nil {
		t.Fatalf("SendRaw() error = %v", err)
	}
	if resp != "+VER:1.2\r\nOK\r\n" {
		t.Errorf("SendRaw() = %q", resp)
	}

	if _, err := engine.SendRaw(context.Background(), "   "); model.KindOf(err) != model.KindValidation {
		t.Errorf("empty command kind = %q, want %q", model.KindOf(err), model.KindValidation)
	}

	if got := fake.Written(); !equalStrings(got, []string{"AT+RST", "AT+VER?"}) {
		t.Errorf("written = %v", got)
	}
}

func TestProbeReportsModeChanges(t *testing.T) {
	fake := openFake(t, prototest.Script(map[string]string{"AT+ENTM": "OK\r\n"}))
	engine := newTestEngine(t, fake, driver.Options{})

	var transitions []string
	engine.OnModeChange(func(_, newState ModeState) {
		transitions = append(transitions, newState.String())
	})

	result, err := engine.Probe(context.Background(), true)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !result.Responsive || result.SwitchStrategy != "enter_at_mode" {
		t.Errorf("result = %+v", result)
	}

	want := []string{"probing", "transparent", "switch_attempt", "config_mode"}
	if !equalStrings(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}
