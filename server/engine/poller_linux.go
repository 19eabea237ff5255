//go:build linux

package engine

import (
	"golang.org/x/sys/unix"
)

// Poller wraps a level-triggered epoll instance (no EPOLLET). the set map
// mirrors kernel registrations so duplicate Adds and blind Modifies fail
// fast instead of surfacing as EEXIST/ENOENT later.
type Poller struct {
	epfd int
	set  map[int]Interest
	evs  []unix.EpollEvent
}

func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd: epfd,
		set:  make(map[int]Interest),
		evs:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollMask(in Interest) uint32 {
	var m uint32
	if in&Read != 0 {
		m |= unix.EPOLLIN
	}
	if in&Write != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func (p *Poller) Add(fd int, in Interest) error {
	if _, ok := p.set[fd]; ok {
		return ErrAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.set[fd] = in
	return nil
}

func (p *Poller) Modify(fd int, in Interest) error {
	if _, ok := p.set[fd]; !ok {
		return ErrNotRegistered
	}
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.set[fd] = in
	return nil
}

// Remove is idempotent: ENOENT from the kernel is swallowed.
func (p *Poller) Remove(fd int) error {
	delete(p.set, fd)
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// Wait blocks until readiness or timeout. empty slice on timeout,
// ErrInterrupted on EINTR (caller retries).
func (p *Poller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.evs, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, err
	}
	out := make([]Event, n)
	for i := range n {
		e := &p.evs[i]
		out[i] = Event{
			FD:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Err:      e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
	}
	return out, nil
}

func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
