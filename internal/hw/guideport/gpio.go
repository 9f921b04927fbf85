package guideport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/gpio"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// GPIOConfig holds the pin assignment of an ST-4 style guide port.
type GPIOConfig struct {
	RAPlusPin   int
	RAMinusPin  int
	DECPlusPin  int
	DECMinusPin int
	ActiveLow   bool // opto-coupled ST-4 inputs are usually pulled low to activate
}

// GPIOPort drives an ST-4 guide port through four GPIO lines.
// A background goroutine switches each line off when its deadline passes,
// so Activate returns immediately.
type GPIOPort struct {
	gpio      gpio.Driver
	pins      [numLines]int
	activeLow bool

	mu       sync.Mutex
	deadline [numLines]time.Time
	active   [numLines]bool

	wake chan struct{}
	w    *worker.Worker
}

// NewGPIOPort configures the pins as outputs, switches all lines off and
// starts the line driver.
func NewGPIOPort(g gpio.Driver, cfg GPIOConfig) (*GPIOPort, error) {
	p := &GPIOPort{
		gpio:      g,
		pins:      [numLines]int{cfg.RAPlusPin, cfg.RAMinusPin, cfg.DECPlusPin, cfg.DECMinusPin},
		activeLow: cfg.ActiveLow,
		wake:      make(chan struct{}, 1),
	}
	for l, pin := range p.pins {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.WritePin(pin, p.level(false)); err != nil {
			return nil, err
		}
		debug.Verbose("Guide port: %s on pin %d", Line(l), pin)
	}
	p.w = worker.Start(context.Background(), "gpio-guideport", p.run)
	return p, nil
}

func (p *GPIOPort) level(on bool) gpio.Level {
	if p.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// Activate implements GuidePort. Once the line driver has stopped, on a
// GPIO failure or after Close, it returns an error.
func (p *GPIOPort) Activate(raPlus, raMinus, decPlus, decMinus time.Duration) error {
	if err := Validate(raPlus, raMinus, decPlus, decMinus); err != nil {
		return err
	}
	if !p.w.Running() {
		if err := p.w.Err(); err != nil {
			return fmt.Errorf("guide port: %w", err)
		}
		return fmt.Errorf("guide port closed: %w", guideerr.ErrBadState)
	}
	debug.Pulse(raPlus.Seconds(), raMinus.Seconds(), decPlus.Seconds(), decMinus.Seconds())

	now := time.Now()
	p.mu.Lock()
	for l, d := range [numLines]time.Duration{raPlus, raMinus, decPlus, decMinus} {
		p.deadline[l] = now.Add(d)
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Active returns the set of lines currently switched on, as a bit mask
// indexed by Line.
func (p *GPIOPort) Active() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var mask uint8
	for l, on := range p.active {
		if on {
			mask |= 1 << l
		}
	}
	return mask
}

// Close stops the line driver and switches all lines off.
func (p *GPIOPort) Close() error {
	p.w.Stop()
	p.w.Wait(-1)
	return p.w.Err()
}

func (p *GPIOPort) run(ctx context.Context) error {
	for {
		next, err := p.update(time.Now())
		if err != nil {
			p.release()
			return err
		}
		if _, err := worker.SleepUntil(ctx, next, p.wake); err != nil {
			return p.release()
		}
	}
}

// update brings the lines in line with their deadlines and returns when
// it needs to run again. Lines are switched off before others are
// switched on, so opposite lines never overlap.
func (p *GPIOPort) update(now time.Time) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := now.Add(time.Hour)
	for _, turnOn := range []bool{false, true} {
		for l := Line(0); l < numLines; l++ {
			want := now.Before(p.deadline[l])
			if want != turnOn || want == p.active[l] {
				continue
			}
			if err := p.gpio.WritePin(p.pins[l], p.level(want)); err != nil {
				return now, err
			}
			p.active[l] = want
			debug.Trace("Guide port: %s %v", l, want)
		}
	}
	for l := Line(0); l < numLines; l++ {
		if p.active[l] && p.deadline[l].Before(next) {
			next = p.deadline[l]
		}
	}
	return next, nil
}

func (p *GPIOPort) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for l := Line(0); l < numLines; l++ {
		p.deadline[l] = time.Time{}
		if err := p.gpio.WritePin(p.pins[l], p.level(false)); err != nil && firstErr == nil {
			firstErr = err
		}
		p.active[l] = false
	}
	return firstErr
}
