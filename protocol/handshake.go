// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RFC 6455 opening handshake over buffered bytes. The server side runs
// the gobwas upgrader for validation and response generation; the
// client side builds its request by hand because the exchange is split
// across separate readiness events.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/ws"

	"github.com/momentics/wsloop/api"
)

// maxHandshakeSize bounds the head an endpoint may send before
// completing the exchange.
const maxHandshakeSize = 8192

// acceptGUID is the fixed key suffix from RFC 6455 section 1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var headTerminator = []byte("\r\n\r\n")

// acceptKey computes the Sec-WebSocket-Accept value for a nonce.
func acceptKey(nonce string) string {
	h := sha1.New()
	h.Write([]byte(nonce + acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ServerHandshake upgrades inbound HTTP requests.
type ServerHandshake struct {
	// Protocols lists acceptable subprotocols. Empty accepts none.
	Protocols []string
}

var _ api.Handshake = (*ServerHandshake)(nil)

// splitRW adapts the upgrader's single-stream view onto the separate
// request and response buffers the state machine keeps.
type splitRW struct {
	r *bytes.Reader
	w bytes.Buffer
}

func (s *splitRW) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *splitRW) Write(p []byte) (int, error) { return s.w.Write(p) }

// ReadRequest parses a buffered request head. It returns the upgrade
// response to queue and the byte count consumed; n stays zero while the
// head is incomplete.
func (h *ServerHandshake) ReadRequest(p []byte) ([]byte, int, error) {
	idx := bytes.Index(p, headTerminator)
	if idx < 0 {
		if len(p) > maxHandshakeSize {
			return nil, 0, api.NewError(api.KindCapacity, "handshake request head too large")
		}
		return nil, 0, nil
	}
	head := p[:idx+len(headTerminator)]

	rw := &splitRW{r: bytes.NewReader(head)}
	up := ws.Upgrader{
		ReadBufferSize: len(head),
		Protocol:       h.protocolSelector(),
	}
	if _, err := up.Upgrade(rw); err != nil {
		// the upgrader wrote its own refusal into rw; the caller sends
		// the engine's rejection instead
		return nil, 0, api.WrapError(api.KindProtocol, "websocket upgrade failed", err)
	}
	return rw.w.Bytes(), idx + len(headTerminator), nil
}

func (h *ServerHandshake) protocolSelector() func([]byte) bool {
	if len(h.Protocols) == 0 {
		return nil
	}
	return func(offered []byte) bool {
		for _, p := range h.Protocols {
			if strings.EqualFold(p, string(offered)) {
				return true
			}
		}
		return false
	}
}

// BuildRequest is a client operation.
func (h *ServerHandshake) BuildRequest(*url.URL) ([]byte, error) {
	return nil, api.NewError(api.KindInternal, "server handshake cannot build a request")
}

// ReadResponse is a client operation.
func (h *ServerHandshake) ReadResponse([]byte) (int, error) {
	return 0, api.NewError(api.KindInternal, "server handshake cannot read a response")
}

// ClientHandshake drives the requesting side of the upgrade. One
// instance serves one connection; the nonce persists between
// BuildRequest and ReadResponse so the accept key can be verified.
type ClientHandshake struct {
	// Protocols lists subprotocols to offer.
	Protocols []string
	// Header carries extra request headers, such as cookies.
	Header http.Header

	nonce string
}

var _ api.Handshake = (*ClientHandshake)(nil)

// BuildRequest serializes the upgrade request for target.
func (h *ClientHandshake) BuildRequest(target *url.URL) ([]byte, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, api.WrapError(api.KindInternal, "nonce generation failed", err)
	}
	h.nonce = base64.StdEncoding.EncodeToString(key[:])

	path := target.RequestURI()
	if path == "" {
		path = "/"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", target.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", h.nonce)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if len(h.Protocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(h.Protocols, ", "))
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

// ReadResponse validates a buffered response head. n stays zero while
// the head is incomplete.
func (h *ClientHandshake) ReadResponse(p []byte) (int, error) {
	idx := bytes.Index(p, headTerminator)
	if idx < 0 {
		if len(p) > maxHandshakeSize {
			return 0, api.NewError(api.KindCapacity, "handshake response head too large")
		}
		return 0, nil
	}
	head := p[:idx+len(headTerminator)]

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return 0, api.WrapError(api.KindProtocol, "malformed handshake response", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusSwitchingProtocols {
		return 0, api.NewError(api.KindProtocol, fmt.Sprintf("handshake refused with status %s", res.Status))
	}
	if !headerContainsToken(res.Header, "Upgrade", "websocket") ||
		!headerContainsToken(res.Header, "Connection", "Upgrade") {
		return 0, api.NewError(api.KindProtocol, "response is missing the upgrade headers")
	}
	if accept := res.Header.Get("Sec-WebSocket-Accept"); accept != acceptKey(h.nonce) {
		return 0, api.NewError(api.KindProtocol, "sec-websocket-accept mismatch")
	}
	return idx + len(headTerminator), nil
}

// ReadRequest is a server operation.
func (h *ClientHandshake) ReadRequest([]byte) ([]byte, int, error) {
	return nil, 0, api.NewError(api.KindInternal, "client handshake cannot read a request")
}

// headerContainsToken reports whether the named header carries token in
// its comma-separated value list, case-insensitive.
func headerContainsToken(hdr http.Header, name, token string) bool {
	for _, v := range hdr[http.CanonicalHeaderKey(name)] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
