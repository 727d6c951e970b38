//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/momentics/wsloop/api"
)

// wakeToken routes eventfd interrupts; it never collides with driver
// tokens because those are allocated from a small free list.
const wakeToken api.Token = ^api.Token(1)

// linuxReactor is a level-triggered epoll reactor with an eventfd wake
// channel.
type linuxReactor struct {
	epfd   int
	wakefd int
}

// NewReactor constructs the platform reactor.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r := &linuxReactor{epfd: epfd, wakefd: wakefd}
	if err := r.Add(uintptr(wakefd), api.Readable, wakeToken); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// epollEvent packs the interest set and token into the kernel event.
// The token occupies the Fd and Pad fields, which together overlay the
// epoll_data union.
func epollEvent(interest api.Interest, token api.Token) unix.EpollEvent {
	var bits uint32
	if interest.IsReadable() {
		bits |= unix.EPOLLIN
	}
	if interest.IsWritable() {
		bits |= unix.EPOLLOUT
	}
	return unix.EpollEvent{
		Events: bits,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

func eventToken(ev *unix.EpollEvent) api.Token {
	return api.Token(uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32)
}

func (r *linuxReactor) Add(fd uintptr, interest api.Interest, token api.Token) error {
	ev := epollEvent(interest, token)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev)
}

// Modify updates the interest set. A descriptor the kernel does not
// know yet is registered instead; that happens after a connection
// swaps its socket for a fresh one.
func (r *linuxReactor) Modify(fd uintptr, interest api.Interest, token api.Token) error {
	ev := epollEvent(interest, token)
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
	if err == unix.ENOENT {
		return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev)
	}
	return err
}

func (r *linuxReactor) Remove(fd uintptr) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// Wait blocks until readiness arrives. Wake interrupts surface as a
// zero count so the caller can re-check its run state.
func (r *linuxReactor) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(r.epfd, raw, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}

		out := 0
		for i := 0; i < n; i++ {
			token := eventToken(&raw[i])
			if token == wakeToken {
				r.drainWake()
				continue
			}
			events[out] = Event{
				Token:    token,
				Readable: raw[i].Events&unix.EPOLLIN != 0,
				Writable: raw[i].Events&unix.EPOLLOUT != 0,
				Err:      raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
			}
			out++
		}
		return out, nil
	}
}

// Wake bumps the eventfd counter, forcing a concurrent Wait to return.
func (r *linuxReactor) Wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(r.wakefd, one[:])
	if err == unix.EAGAIN {
		// counter saturated; the wait is waking up anyway
		return nil
	}
	return err
}

func (r *linuxReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (r *linuxReactor) Close() error {
	unix.Close(r.wakefd)
	return unix.Close(r.epfd)
}
