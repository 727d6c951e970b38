// File: protocol/codec_test.go
// Author: momentics <momentics@gmail.com>

package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gobwas/ws"

	"github.com/momentics/wsloop/api"
)

func TestCodec_ClientToServerRoundTrip(t *testing.T) {
	settings := api.DefaultSettings()
	client := NewClientCodec(settings)
	server := NewServerCodec(settings)

	raw, err := client.EncodeMessage(api.TextMessage("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, n, err := server.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d of %d bytes", n, len(raw))
	}
	if f.Op != api.OpText || string(f.Payload) != "hello" {
		t.Fatalf("round trip produced %v %q", f.Op, f.Payload)
	}
}

func TestCodec_ServerToClientRoundTrip(t *testing.T) {
	settings := api.DefaultSettings()
	client := NewClientCodec(settings)
	server := NewServerCodec(settings)

	raw, err := server.EncodeMessage(api.BinaryMessage([]byte{0, 1, 2, 255}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, n, err := client.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(raw) || f.Op != api.OpBinary || !bytes.Equal(f.Payload, []byte{0, 1, 2, 255}) {
		t.Fatalf("round trip produced op=%v n=%d payload=%v", f.Op, n, f.Payload)
	}
}

func TestCodec_DecodeIncompleteFrame(t *testing.T) {
	settings := api.DefaultSettings()
	raw, err := NewClientCodec(settings).EncodeMessage(api.TextMessage("hello"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	server := NewServerCodec(settings)
	for cut := 0; cut < len(raw); cut++ {
		_, n, err := server.Decode(raw[:cut])
		if err != nil {
			t.Fatalf("cut at %d: %v", cut, err)
		}
		if n != 0 {
			t.Fatalf("cut at %d consumed %d bytes of an incomplete frame", cut, n)
		}
	}
}

func TestCodec_OutgoingFragmentation(t *testing.T) {
	settings := api.DefaultSettings()
	settings.FragmentSize = 4

	raw, err := NewClientCodec(settings).EncodeMessage(api.TextMessage("abcdefghij"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	server := NewServerCodec(settings)
	rest := raw
	var frames []api.Frame
	for len(rest) > 0 {
		f, n, err := server.Decode(rest)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n == 0 {
			t.Fatalf("decoder stalled with %d bytes left", len(rest))
		}
		frames = append(frames, f)
		rest = rest[n:]
	}

	if len(frames) != 3 {
		t.Fatalf("expected 3 wire frames, got %d", len(frames))
	}
	for _, f := range frames[:2] {
		if f.Op != api.OpContinuation {
			t.Fatalf("fragment leaked as deliverable frame: %v", f.Op)
		}
	}
	last := frames[2]
	if last.Op != api.OpText || string(last.Payload) != "abcdefghij" {
		t.Fatalf("reassembled message wrong: %v %q", last.Op, last.Payload)
	}
}

func TestCodec_ControlFrameBetweenFragments(t *testing.T) {
	raw := ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpText, false, []byte("he"))))
	raw = append(raw, ws.MustCompileFrame(ws.MaskFrame(ws.NewPingFrame([]byte("p"))))...)
	raw = append(raw, ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpContinuation, true, []byte("llo"))))...)

	server := NewServerCodec(api.DefaultSettings())
	var got []api.Frame
	rest := raw
	for len(rest) > 0 {
		f, n, err := server.Decode(rest)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, f)
		rest = rest[n:]
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Op != api.OpContinuation {
		t.Fatalf("first fragment must be absorbed, got %v", got[0].Op)
	}
	if got[1].Op != api.OpPing || string(got[1].Payload) != "p" {
		t.Fatalf("interleaved ping lost: %v %q", got[1].Op, got[1].Payload)
	}
	if got[2].Op != api.OpText || string(got[2].Payload) != "hello" {
		t.Fatalf("reassembly across the ping failed: %v %q", got[2].Op, got[2].Payload)
	}
}

func TestCodec_ContinuationWithoutStartFails(t *testing.T) {
	raw := ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpContinuation, true, []byte("x"))))
	_, _, err := NewServerCodec(api.DefaultSettings()).Decode(raw)
	if api.KindOf(err) != api.KindProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestCodec_DataFrameDuringFragmentsFails(t *testing.T) {
	server := NewServerCodec(api.DefaultSettings())

	first := ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpText, false, []byte("a"))))
	if _, _, err := server.Decode(first); err != nil {
		t.Fatalf("first fragment: %v", err)
	}

	second := ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpText, true, []byte("b"))))
	_, _, err := server.Decode(second)
	if api.KindOf(err) != api.KindProtocol {
		t.Fatalf("expected protocol error for a new data frame mid-message, got %v", err)
	}
}

func TestCodec_FragmentCapacityEnforced(t *testing.T) {
	settings := api.DefaultSettings()
	settings.FragmentsCapacity = 2
	settings.FragmentsGrow = false
	server := NewServerCodec(settings)

	frags := [][]byte{
		ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpText, false, []byte("a")))),
		ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpContinuation, false, []byte("b")))),
		ws.MustCompileFrame(ws.MaskFrame(ws.NewFrame(ws.OpContinuation, false, []byte("c")))),
	}
	for i, raw := range frags[:2] {
		if _, _, err := server.Decode(raw); err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
	}
	_, _, err := server.Decode(frags[2])
	if api.KindOf(err) != api.KindCapacity {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestCodec_MaskPolicyEnforced(t *testing.T) {
	unmasked := ws.MustCompileFrame(ws.NewTextFrame([]byte("hi")))
	if _, _, err := NewServerCodec(api.DefaultSettings()).Decode(unmasked); api.KindOf(err) != api.KindProtocol {
		t.Fatalf("server must reject unmasked frames, got %v", err)
	}

	masked := ws.MustCompileFrame(ws.MaskFrame(ws.NewTextFrame([]byte("hi"))))
	if _, _, err := NewClientCodec(api.DefaultSettings()).Decode(masked); api.KindOf(err) != api.KindProtocol {
		t.Fatalf("client must reject masked frames, got %v", err)
	}
}

func TestCodec_InvalidUTF8TextFails(t *testing.T) {
	raw := ws.MustCompileFrame(ws.MaskFrame(ws.NewTextFrame([]byte{0xff, 0xfe, 0xfd})))
	_, _, err := NewServerCodec(api.DefaultSettings()).Decode(raw)
	if api.KindOf(err) != api.KindEncoding {
		t.Fatalf("expected encoding error, got %v", err)
	}
}

func TestCodec_CloseFrameParsing(t *testing.T) {
	server := NewServerCodec(api.DefaultSettings())

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "done")
	raw := ws.MustCompileFrame(ws.MaskFrame(ws.NewCloseFrame(body)))
	f, _, err := server.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Op != api.OpClose || f.Code != api.CloseNormal || f.Reason != "done" {
		t.Fatalf("close frame parsed as %+v", f)
	}

	empty := ws.MustCompileFrame(ws.MaskFrame(ws.NewCloseFrame(nil)))
	f, _, err = server.Decode(empty)
	if err != nil {
		t.Fatalf("decode empty close: %v", err)
	}
	if f.Code != api.CloseStatus {
		t.Fatalf("empty close must map to the no-status code, got %v", f.Code)
	}

	oneByte := ws.MustCompileFrame(ws.MaskFrame(ws.NewCloseFrame([]byte{0x03})))
	if _, _, err = server.Decode(oneByte); api.KindOf(err) != api.KindProtocol {
		t.Fatalf("one-byte close body must fail, got %v", err)
	}

	reserved := ws.NewCloseFrameBody(ws.StatusAbnormalClosure, "")
	rawReserved := ws.MustCompileFrame(ws.MaskFrame(ws.NewCloseFrame(reserved)))
	if _, _, err = server.Decode(rawReserved); api.KindOf(err) != api.KindProtocol {
		t.Fatalf("reserved close code on the wire must fail, got %v", err)
	}
}

func TestCodec_CloseReasonTruncatedToControlLimit(t *testing.T) {
	settings := api.DefaultSettings()
	raw, err := NewServerCodec(settings).EncodeClose(api.ClosePolicy, strings.Repeat("r", 300))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, _, err := NewClientCodec(settings).Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Code != api.ClosePolicy {
		t.Fatalf("code lost in truncation: %v", f.Code)
	}
	if len(f.Reason) > maxControlPayload-2 {
		t.Fatalf("reason still %d bytes", len(f.Reason))
	}
}

func TestCodec_NoStatusCloseHasEmptyBody(t *testing.T) {
	raw, err := NewServerCodec(api.DefaultSettings()).EncodeClose(api.CloseStatus, "ignored")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, _, err := NewClientCodec(api.DefaultSettings()).Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Code != api.CloseStatus || f.Reason != "" {
		t.Fatalf("no-status close round-tripped as %+v", f)
	}
}

func TestCodec_ControlPayloadLimit(t *testing.T) {
	_, err := NewServerCodec(api.DefaultSettings()).EncodeControl(api.OpPing, make([]byte, maxControlPayload+1))
	if api.KindOf(err) != api.KindProtocol {
		t.Fatalf("oversized control payload must fail, got %v", err)
	}
}

func TestCodec_EncodeRejectsInvalidText(t *testing.T) {
	_, err := NewClientCodec(api.DefaultSettings()).EncodeMessage(api.Message{Op: api.OpText, Payload: []byte{0xff}})
	if api.KindOf(err) != api.KindEncoding {
		t.Fatalf("expected encoding error, got %v", err)
	}
}
