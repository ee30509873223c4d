package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
)

var (
	// ErrCommandFailed is returned when the modem answers ERROR or +CME ERROR.
	ErrCommandFailed = errors.New("modem command failed")
	// ErrCommandTimeout is returned when no final result code arrives in time.
	ErrCommandTimeout = errors.New("modem command timed out")
	// ErrPortClosed is returned once the serial reader has stopped.
	ErrPortClosed = errors.New("modem port closed")
)

const ceregPrefix = "+CEREG:"

// ATModem drives a modem over its AT command port. A reader goroutine splits
// the stream into command responses and unsolicited +CEREG reports; command
// execution is serialised by mu.
type ATModem struct {
	mu      sync.Mutex
	port    io.ReadWriter
	timeout time.Duration
	log     logging.Logger

	lines chan string
	done  chan struct{}

	handlerMu sync.RWMutex
	onReg     func(RegistrationStatus)
}

// NewATModem wraps port. Call Start before Execute.
func NewATModem(port io.ReadWriter, commandTimeout time.Duration, log logging.Logger) *ATModem {
	if log == nil {
		log = logging.Noop()
	}
	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}
	return &ATModem{
		port:    port,
		timeout: commandTimeout,
		log:     log.With(logging.String("component", "modem")),
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// OnRegistration installs the handler called from the reader goroutine for
// every +CEREG report. The handler must not block.
func (m *ATModem) OnRegistration(fn func(RegistrationStatus)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onReg = fn
}

// Start launches the reader goroutine. It exits when the port returns an
// error, typically when it is closed.
func (m *ATModem) Start(ctx context.Context) {
	go m.readLoop(ctx)
}

func (m *ATModem) readLoop(ctx context.Context) {
	defer close(m.done)
	scanner := bufio.NewScanner(m.port)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ceregPrefix) {
			m.handleRegistration(ctx, line)
			continue
		}
		select {
		case m.lines <- line:
		default:
			m.log.Warn(ctx, "dropping modem line, no reader", logging.String("line", line))
		}
	}
	if err := scanner.Err(); err != nil {
		m.log.Warn(ctx, "modem reader stopped", logging.Err(err))
	}
}

func (m *ATModem) handleRegistration(ctx context.Context, line string) {
	stat, err := ParseRegistration(line)
	if err != nil {
		m.log.Warn(ctx, "unparseable registration report", logging.String("line", line), logging.Err(err))
		return
	}
	m.log.Debug(ctx, "registration report", logging.String("status", stat.String()))

	m.handlerMu.RLock()
	fn := m.onReg
	m.handlerMu.RUnlock()
	if fn != nil {
		fn(stat)
	}
}

// ParseRegistration extracts <stat> from a +CEREG line. It accepts the
// unsolicited form "+CEREG: <stat>[,<tac>,...]" and the read response
// "+CEREG: <n>,<stat>[,...]", told apart by whether the second field is a
// bare number.
func ParseRegistration(line string) (RegistrationStatus, error) {
	body := strings.TrimSpace(strings.TrimPrefix(line, ceregPrefix))
	if body == "" {
		return 0, fmt.Errorf("empty report")
	}
	fields := strings.Split(body, ",")
	idx := 0
	if len(fields) >= 2 {
		second := strings.TrimSpace(fields[1])
		if second != "" && !strings.HasPrefix(second, `"`) {
			idx = 1
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[idx]))
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", fields[idx], err)
	}
	return RegistrationStatus(n), nil
}

// Execute sends d and waits for its final result code.
func (m *ATModem) Execute(ctx context.Context, d Directive) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return "", ErrPortClosed
	default:
	}
	m.drainLocked()

	if _, err := io.WriteString(m.port, d.Command+"\r"); err != nil {
		return "", fmt.Errorf("write %s: %w", d.Name, err)
	}

	resp, err := m.readResponseLocked(ctx, d)
	if err != nil {
		m.log.Warn(ctx, "modem directive failed",
			logging.String("directive", d.Name), logging.String("response", resp), logging.Err(err))
		return resp, err
	}
	m.log.Debug(ctx, "modem directive ok", logging.String("directive", d.Name))
	return resp, nil
}

// drainLocked discards stale lines left over from an earlier command.
func (m *ATModem) drainLocked() {
	for {
		select {
		case <-m.lines:
		default:
			return
		}
	}
}

func (m *ATModem) readResponseLocked(ctx context.Context, d Directive) (string, error) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var body []string
	for {
		select {
		case line := <-m.lines:
			switch {
			case line == d.Command || strings.HasPrefix(line, "AT"):
				// echo
			case line == "OK":
				return strings.Join(body, "\n"), nil
			case line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR"):
				body = append(body, line)
				return strings.Join(body, "\n"), fmt.Errorf("%s: %w: %s", d.Name, ErrCommandFailed, line)
			default:
				body = append(body, line)
			}
		case <-m.done:
			return strings.Join(body, "\n"), fmt.Errorf("%s: %w", d.Name, ErrPortClosed)
		case <-ctx.Done():
			return strings.Join(body, "\n"), ctx.Err()
		case <-timer.C:
			return strings.Join(body, "\n"), fmt.Errorf("%s: %w", d.Name, ErrCommandTimeout)
		}
	}
}

// scanCRLF splits on either CR or LF so responses terminated with a bare CR
// are still delivered as lines.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
