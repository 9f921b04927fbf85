package guideport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu       sync.Mutex
	calls    []gpioCall
	writeErr error
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return d.writeErr
}

func (d *recordingDriver) failWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

var testPins = GPIOConfig{RAPlusPin: 5, RAMinusPin: 6, DECPlusPin: 13, DECMinusPin: 19}

func TestValidate(t *testing.T) {
	ms := time.Millisecond
	cases := []struct {
		name    string
		rp, rm  time.Duration
		dp, dm  time.Duration
		wantErr bool
	}{
		{"all_zero", 0, 0, 0, 0, false},
		{"ra_plus_dec_minus", ms, 0, 0, ms, false},
		{"negative", -ms, 0, 0, 0, true},
		{"both_ra", ms, ms, 0, 0, true},
		{"both_dec", 0, 0, ms, ms, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rp, tc.rm, tc.dp, tc.dm)
			if tc.wantErr && !errors.Is(err, guideerr.ErrBadParameter) {
				t.Errorf("err = %v, want ErrBadParameter", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestGPIOPort_PinsInitializedInactive(t *testing.T) {
	drv := &recordingDriver{}
	p, err := NewGPIOPort(drv, GPIOConfig{RAPlusPin: 5, RAMinusPin: 6, DECPlusPin: 13, DECMinusPin: 19, ActiveLow: true})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	writes := drv.writeCalls()
	if len(writes) < 4 {
		t.Fatalf("expected 4 initial writes, got %d", len(writes))
	}
	for _, c := range writes[:4] {
		if c.level != gpio.High {
			t.Errorf("pin %d should start High (inactive, active low)", c.pin)
		}
	}
}

func TestGPIOPort_PulseSwitchesLineOff(t *testing.T) {
	drv := gpio.NewMockDriver()
	p, err := NewGPIOPort(drv, testPins)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Activate(30*time.Millisecond, 0, 0, 0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	deadline := time.After(time.Second)
	for drv.Level(testPins.RAPlusPin) != gpio.High {
		select {
		case <-deadline:
			t.Fatal("RA+ never switched on")
		case <-time.After(time.Millisecond):
		}
	}
	for drv.Level(testPins.RAPlusPin) != gpio.Low {
		select {
		case <-deadline:
			t.Fatal("RA+ never switched off")
		case <-time.After(time.Millisecond):
		}
	}
	if p.Active() != 0 {
		t.Errorf("Active = %b, want 0", p.Active())
	}
}

func TestGPIOPort_ReversalNeverOverlaps(t *testing.T) {
	drv := &recordingDriver{}
	p, err := NewGPIOPort(drv, testPins)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			_ = p.Activate(5*time.Millisecond, 0, 0, 3*time.Millisecond)
		} else {
			_ = p.Activate(0, 5*time.Millisecond, 3*time.Millisecond, 0)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// replay the writes and check opposite lines
	level := map[int]gpio.Level{}
	for i, c := range drv.writeCalls() {
		level[c.pin] = c.level
		if level[testPins.RAPlusPin] == gpio.High && level[testPins.RAMinusPin] == gpio.High {
			t.Fatalf("write %d: RA+ and RA- active together", i)
		}
		if level[testPins.DECPlusPin] == gpio.High && level[testPins.DECMinusPin] == gpio.High {
			t.Fatalf("write %d: DEC+ and DEC- active together", i)
		}
	}
	for _, pin := range []int{testPins.RAPlusPin, testPins.RAMinusPin, testPins.DECPlusPin, testPins.DECMinusPin} {
		if level[pin] != gpio.Low {
			t.Errorf("pin %d still active after Close", pin)
		}
	}
}

func TestGPIOPort_RejectsInvalid(t *testing.T) {
	p, _ := NewGPIOPort(gpio.NewMockDriver(), testPins)
	defer p.Close()
	if err := p.Activate(time.Second, time.Second, 0, 0); !errors.Is(err, guideerr.ErrBadParameter) {
		t.Errorf("err = %v, want ErrBadParameter", err)
	}
}

func TestCommand(t *testing.T) {
	cases := []struct {
		line Line
		d    time.Duration
		want string
	}{
		{RAPlus, 500 * time.Millisecond, ":Mgw0500#"},
		{RAMinus, 1250 * time.Millisecond, ":Mge1250#"},
		{DECPlus, 20 * time.Millisecond, ":Mgn0020#"},
		{DECMinus, SerialMaxPulse, ":Mgs9999#"},
	}
	for _, tc := range cases {
		if got := Command(tc.line, tc.d); got != tc.want {
			t.Errorf("Command(%v, %v) = %q, want %q", tc.line, tc.d, got, tc.want)
		}
	}
}

func TestSerialPort_Activate(t *testing.T) {
	var buf bytes.Buffer
	p := NewSerialPort(&buf)
	if err := p.Activate(0, 200*time.Millisecond, 100*time.Millisecond, 0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got, want := buf.String(), ":Mge0200#:Mgn0100#"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
	if err := p.Activate(time.Second, 0, -time.Second, 0); !errors.Is(err, guideerr.ErrBadParameter) {
		t.Errorf("err = %v, want ErrBadParameter", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestGPIOPort_WriteFailureReported(t *testing.T) {
	drv := &recordingDriver{}
	p, err := NewGPIOPort(drv, testPins)
	if err != nil {
		t.Fatalf("NewGPIOPort: %v", err)
	}
	stuck := errors.New("gpio write failed")
	drv.failWrites(stuck)

	// the line driver fails asynchronously on the first write
	_ = p.Activate(10*time.Millisecond, 0, 0, 0)
	if !p.w.Wait(time.Second) {
		t.Fatal("line driver kept running after a write failure")
	}
	if err := p.Activate(10*time.Millisecond, 0, 0, 0); !errors.Is(err, stuck) {
		t.Errorf("Activate after failure = %v, want %v", err, stuck)
	}
	if err := p.Close(); !errors.Is(err, stuck) {
		t.Errorf("Close = %v, want %v", err, stuck)
	}
}

func TestGPIOPort_ActivateAfterClose(t *testing.T) {
	p, err := NewGPIOPort(&recordingDriver{}, testPins)
	if err != nil {
		t.Fatalf("NewGPIOPort: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Activate(time.Millisecond, 0, 0, 0); !errors.Is(err, guideerr.ErrBadState) {
		t.Errorf("Activate after Close = %v, want ErrBadState", err)
	}
}

func TestSerialPort_RejectsLongPulse(t *testing.T) {
	var buf bytes.Buffer
	p := NewSerialPort(&buf)
	if err := p.Activate(45*time.Second, 0, 0, 0); !errors.Is(err, guideerr.ErrBadParameter) {
		t.Errorf("45s pulse: err = %v, want ErrBadParameter", err)
	}
	if buf.Len() != 0 {
		t.Errorf("written %q for a rejected pulse", buf.String())
	}
	if got := MaxPulse(p); got != SerialMaxPulse {
		t.Errorf("MaxPulse = %v, want %v", got, SerialMaxPulse)
	}
}

// limitedPort records activations and accepts pulses up to max.
type limitedPort struct {
	max   time.Duration
	calls [][4]time.Duration
}

func (p *limitedPort) Activate(rp, rm, dp, dm time.Duration) error {
	for _, d := range []time.Duration{rp, rm, dp, dm} {
		if d > p.max {
			return guideerr.ErrBadParameter
		}
	}
	p.calls = append(p.calls, [4]time.Duration{rp, rm, dp, dm})
	return nil
}

func (p *limitedPort) MaxPulse() time.Duration { return p.max }

func TestPulse_SplitsLongPulses(t *testing.T) {
	p := &limitedPort{max: 10 * time.Millisecond}
	start := time.Now()
	if err := Pulse(context.Background(), p, DECMinus, 25*time.Millisecond); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Pulse returned after %v, before the pulse was over", elapsed)
	}
	want := [][4]time.Duration{
		{0, 0, 0, 10 * time.Millisecond},
		{0, 0, 0, 10 * time.Millisecond},
		{0, 0, 0, 5 * time.Millisecond},
	}
	if len(p.calls) != len(want) {
		t.Fatalf("activations = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("activation %d = %v, want %v", i, p.calls[i], want[i])
		}
	}
}

func TestPulse_Unlimited(t *testing.T) {
	var buf bytes.Buffer
	drv := &recordingDriver{}
	p, err := NewGPIOPort(drv, testPins)
	if err != nil {
		t.Fatalf("NewGPIOPort: %v", err)
	}
	defer p.Close()
	if MaxPulse(p) != 0 {
		t.Errorf("MaxPulse(GPIOPort) = %v, want unlimited", MaxPulse(p))
	}
	if err := Pulse(context.Background(), p, RAPlus, 5*time.Millisecond); err != nil {
		t.Errorf("Pulse: %v", err)
	}
	if err := Pulse(context.Background(), NewSerialPort(&buf), Line(7), time.Millisecond); !errors.Is(err, guideerr.ErrBadParameter) {
		t.Errorf("unknown line: err = %v, want ErrBadParameter", err)
	}
}

func TestPulse_Cancelled(t *testing.T) {
	p := &limitedPort{max: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Pulse(ctx, p, RAMinus, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
