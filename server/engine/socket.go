// listener setup and accept, all sockets non-blocking
package engine

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

const backlog = 128

// Listen creates a non-blocking TCP listener bound to an IPv4 address.
func Listen(addr string, port uint16) (int, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return -1, fmt.Errorf("engine: %q is not an IPv4 address", addr)
	}
	var a4 [4]byte
	copy(a4[:], ip.To4())

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("engine: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("engine: nonblock: %w", err)
	}
	unix.CloseOnExec(fd)
	// rebinding after restart should not wait out TIME_WAIT
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("engine: setsockopt: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port), Addr: a4}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("engine: bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("engine: listen %s:%d: %w", addr, port, err)
	}
	return fd, nil
}

// acceptOne takes a single pending connection off the listener and makes
// it non-blocking. readiness will re-trigger for the rest of the queue.
func acceptOne(lfd int) (int, string, error) {
	nfd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, "", err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, "", err
	}
	unix.CloseOnExec(nfd)
	return nfd, sockaddrString(sa), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String() + ":" + strconv.Itoa(a.Port)
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}
