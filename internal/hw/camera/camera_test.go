package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// scriptedCamera reports Exposing for a number of polls before Exposed.
type scriptedCamera struct {
	mu         sync.Mutex
	status     Status
	pollsLeft  int
	starts     int
	img        *Image
	failStatus bool
}

func (c *scriptedCamera) StartExposure(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Exposing {
		return guideerr.ErrBadState
	}
	c.starts++
	c.status = Exposing
	return nil
}

func (c *scriptedCamera) ExposureStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Exposing {
		if c.failStatus {
			c.status = Failed
		} else if c.pollsLeft <= 0 {
			c.status = Exposed
		}
		c.pollsLeft--
	}
	return c.status
}

func (c *scriptedCamera) GetImage() (*Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Exposed {
		return nil, guideerr.ErrBadState
	}
	c.status = Idle
	return c.img, nil
}

func TestAcquire_WaitsForExposure(t *testing.T) {
	cam := &scriptedCamera{pollsLeft: 2, img: NewImage(4, 3)}
	img, err := Acquire(context.Background(), cam, time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if img != cam.img {
		t.Error("Acquire returned a different image")
	}
	if cam.starts != 1 {
		t.Errorf("starts = %d, want 1", cam.starts)
	}
}

func TestAcquire_Failed(t *testing.T) {
	cam := &scriptedCamera{failStatus: true}
	if _, err := Acquire(context.Background(), cam, time.Millisecond); err == nil {
		t.Error("expected error for failed exposure")
	}
}

func TestAcquire_Cancelled(t *testing.T) {
	cam := &scriptedCamera{pollsLeft: 1 << 30}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Acquire(ctx, cam, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAcquire_Busy(t *testing.T) {
	cam := &scriptedCamera{status: Exposing}
	_, err := Acquire(context.Background(), cam, time.Millisecond)
	if !errors.Is(err, guideerr.ErrBadState) {
		t.Errorf("err = %v, want ErrBadState", err)
	}
}

func TestImage_AtSet(t *testing.T) {
	m := NewImage(3, 2)
	m.Set(2, 1, 7)
	m.Set(5, 5, 1) // ignored
	if m.At(2, 1) != 7 {
		t.Errorf("At(2,1) = %v, want 7", m.At(2, 1))
	}
	if m.At(-1, 0) != 0 {
		t.Error("out of bounds read should return 0")
	}
}

func TestFromImage_FlipsRows(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 2, 2))
	src.SetGray16(1, 0, color.Gray16{Y: 1000}) // top right in image coordinates
	m := FromImage(src)
	if m.At(1, 1) != 1000 {
		t.Errorf("top right pixel should land on row 1, got %v", m.At(1, 1))
	}
	if m.At(1, 0) != 0 {
		t.Errorf("bottom right pixel should be black, got %v", m.At(1, 0))
	}
}
