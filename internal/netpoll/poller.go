// Package netpoll gives the session a single-threaded, cooperative
// readiness mechanism over non-blocking sockets, per spec.md §5: "driven by
// a non-blocking I/O readiness mechanism (select/poll or equivalent)...
// there are no kernel threads spawned by the core". It wraps raw file
// descriptors and golang.org/x/sys/unix's poll(2) binding directly, rather
// than going through net.Conn, so that exactly one goroutine ever touches
// peer sockets.
package netpoll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Interest is the set of readiness events a registered fd is waiting for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Ready reports which events fired for a registered fd.
type Ready struct {
	Fd       int
	Readable bool
	Writable bool
	Err      bool
	Hup      bool
}

// Poller multiplexes readiness across a set of non-blocking file
// descriptors using poll(2). It is not safe for concurrent use: spec.md §5
// intends exactly one goroutine to own it.
type Poller struct {
	fds   []unix.PollFd
	index map[int]int // fd -> position in fds
}

func New() *Poller {
	return &Poller{index: make(map[int]int)}
}

// Add registers fd with the given interest. Re-adding an already-registered
// fd is equivalent to Modify.
func (p *Poller) Add(fd int, interest Interest) {
	if pos, ok := p.index[fd]; ok {
		p.fds[pos].Events = toPollEvents(interest)
		return
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(interest)})
}

// Modify changes the interest set for an already-registered fd.
func (p *Poller) Modify(fd int, interest Interest) {
	p.Add(fd, interest)
}

// Remove unregisters fd. It is a no-op if fd was never registered.
func (p *Poller) Remove(fd int) {
	pos, ok := p.index[fd]
	if !ok {
		return
	}
	last := len(p.fds) - 1
	p.fds[pos] = p.fds[last]
	p.fds = p.fds[:last]
	delete(p.index, fd)
	if pos != last {
		p.index[int(p.fds[pos].Fd)] = pos
	}
}

func toPollEvents(interest Interest) int16 {
	var ev int16
	if interest&Readable != 0 {
		ev |= unix.POLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

// Wait blocks (the one and only blocking point in the session's tick, per
// spec.md §5's "suspension points... only at the readiness-wait boundary
// between ticks") until at least one registered fd is ready or timeout
// elapses, then returns the ready set. A non-positive timeout waits
// indefinitely, except when no fd is registered: Wait then sleeps for a
// positive timeout and returns at once for a non-positive one.
func (p *Poller) Wait(timeout time.Duration) ([]Ready, error) {
	if len(p.fds) == 0 {
		// Nothing registered; still honor the timeout so callers that also
		// need to poll a channel (e.g. tracker results) get a tick.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}

	ms := -1
	if timeout > 0 {
		ms = int(timeout.Milliseconds())
	}

	n, err := unix.Poll(p.fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("netpoll: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]Ready, 0, n)
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		ready = append(ready, Ready{
			Fd:       int(pfd.Fd),
			Readable: pfd.Revents&unix.POLLIN != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Err:      pfd.Revents&unix.POLLERR != 0,
			Hup:      pfd.Revents&(unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	return ready, nil
}

// Len reports how many fds are currently registered.
func (p *Poller) Len() int { return len(p.fds) }
