// internal/driver/waveshare/exchanger.go
package waveshare

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
)

// Receive stops early once this many bytes have accumulated
const maxResponseLength = 100

// Exchanger performs one AT command/response round trip at a time
type Exchanger struct {
	channel      protocol.ByteChannel
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewExchanger creates an exchanger over an open channel
func NewExchanger(channel protocol.ByteChannel, pollInterval time.Duration, logger *zap.Logger) *Exchanger {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &Exchanger{
		channel:      channel,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Send writes command followed by CRLF
func (e *Exchanger) Send(ctx context.Context, command string) error {
	if !e.channel.IsOpen() {
		return model.Errorf(model.KindChannelIO, "send", "channel is not open")
	}

	if err := e.channel.Write(ctx, []byte(command+lineEnding)); err != nil {
		if model.KindOf(err) == "" {
			return model.NewError(model.KindChannelIO, "send", err)
		}
		return err
	}

	e.logger.Debug("AT command sent", zap.String("command", command))
	return nil
}

// Receive collects response text until a terminator token appears, the
// text grows past maxResponseLength, or timeout elapses. An empty string
// is a valid result. A channel that closes while nothing is buffered is a
// ChannelIOError.
func (e *Exchanger) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	var response strings.Builder
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if e.channel.BytesAvailable() > 0 {
			data, err := e.channel.Read(ctx, 0)
			if len(data) > 0 {
				response.Write(data)
			}
			if err != nil {
				if model.KindOf(err) == "" {
					err = model.NewError(model.KindChannelIO, "receive", err)
				}
				return response.String(), err
			}

			text := response.String()
			if isComplete(text) {
				return text, nil
			}
		} else if !e.channel.IsOpen() {
			return response.String(), model.Errorf(model.KindChannelIO, "receive", "channel closed while waiting for response")
		}

		if err := sleep(ctx, e.pollInterval); err != nil {
			return response.String(), err
		}
	}

	return response.String(), nil
}

// Exchange sends command and waits up to timeout for its response
func (e *Exchanger) Exchange(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := e.Send(ctx, command); err != nil {
		return "", err
	}

	response, err := e.Receive(ctx, timeout)
	e.logger.Debug("AT exchange",
		zap.String("command", command),
		zap.Int("response_length", len(response)),
		zap.String("response", strings.TrimSpace(response)),
	)
	return response, err
}

// Drain discards stale input
func (e *Exchanger) Drain() {
	e.channel.Drain()
}

func isComplete(text string) bool {
	return strings.Contains(text, tokenOK) ||
		strings.Contains(text, tokenError) ||
		strings.Contains(text, tokenData) ||
		len(text) > maxResponseLength
}

func hasAck(response string) bool {
	return strings.Contains(response, tokenOK) || strings.Contains(response, tokenError)
}

// sleep waits for d; it returns early only when ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
