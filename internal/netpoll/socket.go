package netpoll

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrConnectInProgress is returned by DialNonblock when the connect has
// been initiated but not yet completed; the caller registers the fd for
// Writable interest and calls ConnectError once the poller reports it
// ready.
var ErrConnectInProgress = errors.New("netpoll: connect in progress")

// ErrWouldBlock wraps EAGAIN/EWOULDBLOCK from Read/Write so callers can
// treat it as "try again once the poller says this fd is ready" rather
// than a real I/O error.
var ErrWouldBlock = errors.New("netpoll: would block")

// DialNonblock creates a non-blocking TCP socket and begins connecting to
// addr (must be IPv4; spec.md scopes IPv6 out). It returns the raw file
// descriptor immediately; the connect itself completes asynchronously and
// is observed via the poller reporting the fd Writable, followed by
// ConnectError.
func DialNonblock(ip net.IP, port uint16) (fd int, err error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return -1, fmt.Errorf("netpoll: only IPv4 peer addresses are supported")
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netpoll: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netpoll: set nonblocking: %w", err)
	}

	var addr [4]byte
	copy(addr[:], ip4)
	sa := &unix.SockaddrInet4{Port: int(port), Addr: addr}

	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, nil // connected synchronously (rare, e.g. loopback)
	}
	if err == unix.EINPROGRESS {
		return fd, ErrConnectInProgress
	}

	unix.Close(fd)
	return -1, fmt.Errorf("netpoll: connect: %w", err)
}

// ConnectError checks whether a previously-EINPROGRESS connect succeeded,
// once the poller reports fd Writable. A nil return means the connection is
// established.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netpoll: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("netpoll: connect failed: %w", unix.Errno(errno))
	}
	return nil
}

// Read performs a single non-blocking read. A zero-length, nil-error result
// means the peer closed the connection (EOF).
func Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Write performs a single non-blocking write, returning the number of bytes
// actually written (which may be less than len(buf); callers must track
// partial writes themselves, e.g. via a per-connection outbound queue).
func Write(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close closes the raw file descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}
