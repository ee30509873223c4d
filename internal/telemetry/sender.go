package telemetry

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/event"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/internal/transport"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// Sender delivers payloads over UDP with bounded retries.
type Sender struct {
	dialer  transport.Dialer
	clock   timectrl.Clock
	timing  config.Timing
	feed    func()
	metrics *observability.ConnectivityCollector
	log     logging.Logger
}

// NewSender returns a Sender. feed runs between backoff chunks and may be nil.
func NewSender(dialer transport.Dialer, clock timectrl.Clock, timing config.Timing, feed func(),
	metrics *observability.ConnectivityCollector, log logging.Logger) *Sender {
	if dialer == nil {
		dialer = transport.NetDialer{Timeout: timing.CommandTimeout}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Sender{
		dialer:  dialer,
		clock:   clock,
		timing:  timing,
		feed:    feed,
		metrics: metrics,
		log:     log.With(logging.String("component", "sender")),
	}
}

// Send transmits payload to server, making up to Timing.SendAttempts
// attempts with Timing.SendBackoff between them. Every attempt uses a fresh
// socket that is closed before the attempt ends. After the last failure it
// returns model.ErrDeliveryExhausted.
func (s *Sender) Send(ctx context.Context, server model.ServerEndpoint, payload []byte) error {
	addr := transport.Address(server.Host, server.Port)
	attempts := s.timing.SendAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.attempt(ctx, addr, payload)
		if lastErr == nil {
			s.metrics.ObserveSendAttempt("ok")
			s.log.Info(ctx, "telemetry delivered",
				logging.String("server", addr), logging.Int("attempt", attempt))
			return nil
		}
		s.metrics.ObserveSendAttempt("error")
		s.log.Warn(ctx, "telemetry send failed",
			logging.String("server", addr),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Err(lastErr))

		if attempt == attempts {
			break
		}
		if err := event.Sleep(ctx, s.clock, s.timing.SendBackoff, s.timing.FeedInterval, s.feed); err != nil {
			return err
		}
	}
	return fmt.Errorf("send telemetry to %s: %w: %v", addr, model.ErrDeliveryExhausted, lastErr)
}

func (s *Sender) attempt(ctx context.Context, addr string, payload []byte) error {
	conn, err := s.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("open socket: %w", err)
	}
	defer conn.Close()

	n, err := conn.Write(payload)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(payload))
	}
	return nil
}
