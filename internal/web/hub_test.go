package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/guiding"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	ts := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) TrackingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg TrackingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestHub_ForwardsTrackingPoints(t *testing.T) {
	hub, conn := startHub(t)

	hub.Publish(guiding.ProgressUpdate{Activity: guiding.ActivityCalibration, Fraction: 0.5})
	hub.Publish(guiding.Tracking{Point: guiding.TrackingPoint{Offset: geometry.Point{X: 1.5, Y: -0.5}, RA: 0.2}})

	msg := readMessage(t, conn)
	if msg.Type != "tracking" || msg.Point == nil {
		t.Fatalf("message = %+v, want tracking point", msg)
	}
	if msg.Point.Offset != (geometry.Point{X: 1.5, Y: -0.5}) || msg.Point.RA != 0.2 {
		t.Errorf("point = %+v", msg.Point)
	}
}

func TestHub_EndOfGuiding(t *testing.T) {
	hub, conn := startHub(t)

	hub.Publish(guiding.Complete{Activity: guiding.ActivityCalibration})
	hub.Publish(guiding.Failed{Activity: guiding.ActivityGuiding, Err: errors.New("camera gone")})

	msg := readMessage(t, conn)
	if msg.Type != "end" || msg.Event != "camera gone" {
		t.Errorf("message = %+v, want end with error", msg)
	}
}

func TestHub_ClientLeaves(t *testing.T) {
	hub, conn := startHub(t)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*sendBufferSize; i++ {
			hub.Publish(guiding.Tracking{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}
