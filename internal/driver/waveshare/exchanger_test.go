// internal/driver/waveshare/exchanger_test.go
package waveshare

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/internal/protocol/prototest"
)

func TestExchangeStopsAtTerminator(t *testing.T) {
	fake := openFake(t, prototest.Script(map[string]string{"AT": "OK\r\n"}))
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	resp, err := ex.Exchange(context.Background(), "AT", time.Second)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if resp != "OK\r\n" {
		t.Errorf("Exchange() = %q, want OK", resp)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Exchange() waited %v after the terminator arrived", elapsed)
	}
	if got := fake.Written(); !equalStrings(got, []string{"AT"}) {
		t.Errorf("written = %v, want [AT]", got)
	}
}

func TestReceiveSilenceIsNotAnError(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	resp, err := ex.Receive(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if resp != "" {
		t.Errorf("Receive() = %q, want empty", resp)
	}
}

func TestReceiveStopsWhenResponseIsLong(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	fake.Inject(strings.Repeat("x", 150))
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	resp, err := ex.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(resp) != 150 {
		t.Errorf("len(Receive()) = %d, want 150", len(resp))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Receive() should stop once more than 100 bytes arrived")
	}
}

func TestSendOnClosedChannel(t *testing.T) {
	fake := prototest.NewFakeChannel(nil)
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	err := ex.Send(context.Background(), "AT")
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("Send() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
}

func TestReceiveOnBrokenChannel(t *testing.T) {
	fake := openFake(t, prototest.Silent)
	fake.Inject("UA")
	fake.Break()
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	resp, err := ex.Receive(context.Background(), time.Second)
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("Receive() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
	if resp != "UA" {
		t.Errorf("partial response = %q, want UA", resp)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Receive() must not wait out the timeout on a closed channel")
	}
}

func TestExchangeWhenDeviceVanishesBeforeAnswer(t *testing.T) {
	fake := openFake(t, prototest.Script(prototest.ConfigModeBridge()))
	fake.BreakOn("AT+INFO?")
	ex := NewExchanger(fake, time.Millisecond, zaptest.NewLogger(t))

	resp, err := ex.Exchange(context.Background(), "AT+INFO?", time.Second)
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("Exchange() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
	if resp != "" {
		t.Errorf("Exchange() = %q, want empty", resp)
	}
}

func TestReceiveOnTCPPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		bufio.NewReader(conn).ReadString('\n')
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	channel := protocol.NewTCPConnection(&protocol.TCPConfig{
		Host:         addr.IP.String(),
		Port:         addr.Port,
		Timeout:      time.Second,
		ReadTimeout:  20 * time.Millisecond,
		WriteTimeout: time.Second,
	}, zaptest.NewLogger(t))
	if err := channel.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer channel.Close()

	ex := NewExchanger(channel, 5*time.Millisecond, zaptest.NewLogger(t))
	start := time.Now()
	_, err = ex.Exchange(context.Background(), "AT+INFO?", 2*time.Second)
	if model.KindOf(err) != model.KindChannelIO {
		t.Fatalf("Exchange() kind = %q, want %q", model.KindOf(err), model.KindChannelIO)
	}
	if time.Since(start) > time.Second {
		t.Error("Exchange() must notice the closed link before its timeout")
	}
}
