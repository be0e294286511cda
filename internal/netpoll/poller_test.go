package netpoll_test

import (
	"os"
	"testing"
	"time"

	"gotorrent/internal/netpoll"
)

func TestWaitReportsReadableOnPipeWrite(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p := netpoll.New()
	p.Add(int(r.Fd()), netpoll.Readable)

	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err := p.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || !ready[0].Readable || ready[0].Fd != int(r.Fd()) {
		t.Fatalf("unexpected ready set: %+v", ready)
	}
}

func TestWaitTimesOutWithNothingReady(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p := netpoll.New()
	p.Add(int(r.Fd()), netpoll.Readable)

	start := time.Now()
	ready, err := p.Wait(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready fds, got %+v", ready)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("Wait returned suspiciously early")
	}
}

func TestAddModifyRemove(t *testing.T) {
	p := netpoll.New()
	p.Add(3, netpoll.Readable)
	p.Add(4, netpoll.Writable)
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
	p.Modify(3, netpoll.Readable|netpoll.Writable)
	if p.Len() != 2 {
		t.Fatalf("Len() after Modify = %d, want 2", p.Len())
	}
	p.Remove(3)
	if p.Len() != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", p.Len())
	}
	p.Remove(999) // no-op
	if p.Len() != 1 {
		t.Fatalf("Len() after removing unknown fd changed: %d", p.Len())
	}
}
