package guideport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// SerialMaxPulse is the longest pulse an LX200 pulse guide command can carry.
const SerialMaxPulse = 9999 * time.Millisecond

// SerialPort guides a mount over an LX200 compatible serial link using
// pulse guide commands (":Mgn0500#" guides north for 500 ms).
type SerialPort struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewSerialPort wraps an already open link.
func NewSerialPort(w io.Writer) *SerialPort {
	p := &SerialPort{w: w}
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// OpenSerial opens the named serial device (e.g. /dev/ttyUSB0).
func OpenSerial(name string, baud int) (*SerialPort, error) {
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	debug.Info("Guide port: LX200 on %s (%d baud)", name, baud)
	return NewSerialPort(port), nil
}

// direction letters of the LX200 guide commands per line
var lx200Direction = [numLines]byte{
	RAPlus:   'w',
	RAMinus:  'e',
	DECPlus:  'n',
	DECMinus: 's',
}

// Command returns the pulse guide command for one line. d must not
// exceed SerialMaxPulse.
func Command(l Line, d time.Duration) string {
	return fmt.Sprintf(":Mg%c%04d#", lx200Direction[l], d.Milliseconds())
}

// MaxPulse implements Limited.
func (p *SerialPort) MaxPulse() time.Duration {
	return SerialMaxPulse
}

// Activate implements GuidePort. Lines with a zero duration are not sent.
// Pulses longer than SerialMaxPulse are rejected with ErrBadParameter, see
// Pulse for splitting them.
func (p *SerialPort) Activate(raPlus, raMinus, decPlus, decMinus time.Duration) error {
	if err := Validate(raPlus, raMinus, decPlus, decMinus); err != nil {
		return err
	}
	for l, d := range [numLines]time.Duration{raPlus, raMinus, decPlus, decMinus} {
		if d > SerialMaxPulse {
			return fmt.Errorf("%v pulse %v longer than %v: %w", Line(l), d, SerialMaxPulse, guideerr.ErrBadParameter)
		}
	}
	debug.Pulse(raPlus.Seconds(), raMinus.Seconds(), decPlus.Seconds(), decMinus.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	for l, d := range [numLines]time.Duration{raPlus, raMinus, decPlus, decMinus} {
		if d < time.Millisecond {
			continue
		}
		cmd := Command(Line(l), d)
		debug.Trace("LX200: %s", cmd)
		if _, err := io.WriteString(p.w, cmd); err != nil {
			return fmt.Errorf("write %s: %w", cmd, err)
		}
	}
	return nil
}

// Close closes the underlying link if it can be closed.
func (p *SerialPort) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
