//go:build linux
// +build linux

// File: transport/transport_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation over raw non-blocking sockets. Dialing follows
// the EINPROGRESS protocol: the socket joins the reactor immediately
// and the first readiness-driven operation collects SO_ERROR.

package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/wsloop/api"
)

const listenBacklog = 128

// TCPStream is one non-blocking socket.
type TCPStream struct {
	fd      int
	remote  string
	opts    Options
	pending bool
}

var _ api.Stream = (*TCPStream)(nil)

// TCPListener is a non-blocking accepting socket.
type TCPListener struct {
	fd   int
	addr string
	opts Options
}

var _ Listener = (*TCPListener)(nil)

// Listen binds a non-blocking listener to addr ("host:port"; port 0
// picks an ephemeral one).
func Listen(addr string, opts Options) (Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	sa, family, err := toSockaddr(ta)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &TCPListener{fd: fd, addr: sockaddrString(bound), opts: opts}, nil
}

// Accept pulls one pending connection off the backlog.
func (l *TCPListener) Accept() (api.Stream, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			s := &TCPStream{fd: fd, remote: sockaddrString(sa), opts: l.opts}
			s.applyOptions()
			return s, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil, api.ErrWouldBlock
		case unix.ECONNABORTED:
			// the peer gave up while queued; take the next one
			continue
		default:
			return nil, os.NewSyscallError("accept4", err)
		}
	}
}

func (l *TCPListener) Fd() uintptr { return uintptr(l.fd) }

func (l *TCPListener) Addr() string { return l.addr }

func (l *TCPListener) Close() error { return unix.Close(l.fd) }

// Dial starts a non-blocking connect to addr. The returned stream is
// usually still connecting; the first read or write after a readiness
// event reports the outcome.
func Dial(addr string, opts Options) (api.Stream, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	sa, family, err := toSockaddr(ta)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	s := &TCPStream{fd: fd, remote: ta.String(), opts: opts}
	s.applyOptions()

	switch err := unix.Connect(fd, sa); err {
	case nil:
	case unix.EINPROGRESS:
		s.pending = true
	default:
		unix.Close(fd)
		return nil, os.NewSyscallError("connect", err)
	}
	return s, nil
}

func (s *TCPStream) applyOptions() {
	if s.opts.NoDelay {
		_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
}

// finishConnect resolves an in-progress connect by reading SO_ERROR.
func (s *TCPStream) finishConnect() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if errno != 0 {
		return os.NewSyscallError("connect", unix.Errno(errno))
	}
	s.pending = false
	return nil
}

// TryRead fills p with whatever is available. It reports
// api.ErrWouldBlock when the socket has nothing and io.EOF at end of
// stream.
func (s *TCPStream) TryRead(p []byte) (int, error) {
	if s.pending {
		if err := s.finishConnect(); err != nil {
			return 0, err
		}
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, api.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// TryWrite pushes as much of p as the socket accepts.
func (s *TCPStream) TryWrite(p []byte) (int, error) {
	if s.pending {
		if err := s.finishConnect(); err != nil {
			return 0, err
		}
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, api.ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		default:
			return n, nil
		}
	}
}

// Negotiating reports false: plain TCP has no security negotiation.
// The hook exists for TLS stream implementations.
func (s *TCPStream) Negotiating() bool { return false }

// ClearNegotiating is a no-op for plain TCP.
func (s *TCPStream) ClearNegotiating() error { return nil }

func (s *TCPStream) Fd() uintptr { return uintptr(s.fd) }

func (s *TCPStream) RemoteAddr() string { return s.remote }

func (s *TCPStream) Close() error { return unix.Close(s.fd) }

func toSockaddr(a *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := a.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], v4)
		return sa, unix.AF_INET, nil
	}
	if v6 := ip.To16(); v6 != nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], v6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("transport: unsupported address %s", a)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(s.Addr[:]).String(), strconv.Itoa(s.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(s.Addr[:]).String(), strconv.Itoa(s.Port))
	default:
		return ""
	}
}
