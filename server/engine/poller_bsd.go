//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package engine

import (
	"golang.org/x/sys/unix"
)

// Poller wraps a kqueue. read and write interest are separate filters, so
// Modify deletes the one that went away and adds the one that appeared.
// default kqueue behavior is level-triggered, matching the epoll side.
type Poller struct {
	kq  int
	set map[int]Interest
	evs []unix.Kevent_t
}

func NewPoller() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &Poller{
		kq:  kq,
		set: make(map[int]Interest),
		evs: make([]unix.Kevent_t, maxEvents),
	}, nil
}

func (p *Poller) change(fd int, filter int16, flags uint16) error {
	kev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}}
	_, err := unix.Kevent(p.kq, kev, nil, nil)
	return err
}

func (p *Poller) apply(fd int, have, want Interest) error {
	if want&Read != 0 && have&Read == 0 {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
	}
	if want&Read == 0 && have&Read != 0 {
		if err := p.change(fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return err
		}
	}
	if want&Write != 0 && have&Write == 0 {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
	}
	if want&Write == 0 && have&Write != 0 {
		if err := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

func (p *Poller) Add(fd int, in Interest) error {
	if _, ok := p.set[fd]; ok {
		return ErrAlreadyRegistered
	}
	if err := p.apply(fd, 0, in); err != nil {
		return err
	}
	p.set[fd] = in
	return nil
}

func (p *Poller) Modify(fd int, in Interest) error {
	have, ok := p.set[fd]
	if !ok {
		return ErrNotRegistered
	}
	if err := p.apply(fd, have, in); err != nil {
		return err
	}
	p.set[fd] = in
	return nil
}

// Remove is idempotent: ENOENT from the kernel is swallowed.
func (p *Poller) Remove(fd int) error {
	have, ok := p.set[fd]
	if !ok {
		have = ReadWrite
	}
	delete(p.set, fd)
	if err := p.apply(fd, have, 0); err != nil && err != unix.EBADF {
		return err
	}
	return nil
}

// Wait blocks until readiness or timeout. empty slice on timeout,
// ErrInterrupted on EINTR (caller retries).
func (p *Poller) Wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.evs, ts)
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
			FD:       int(e.Ident),
			Readable: e.Filter == unix.EVFILT_READ,
			Writable: e.Filter == unix.EVFILT_WRITE,
			Err:      e.Flags&unix.EV_ERROR != 0,
		}
	}
	return out, nil
}

func (p *Poller) Close() error {
	return unix.Close(p.kq)
}
