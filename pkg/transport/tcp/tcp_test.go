package tcp

import (
    "bytes"
    "context"
    "encoding/binary"
    "errors"
    "testing"
    "time"

    "mcpbridge/pkg/transport"
)

func TestFramesRoundTrip(t *testing.T) {
    tr := New()
    ctx := context.Background()
    ln, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    defer ln.Close()
    s, err := tr.Dial(ctx, ln.Addr().String())
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    defer s.Close()
    for _, msg := range []string{"one", "", "three"} {
        if err := s.Send([]byte(msg)); err != nil {
            t.Fatalf("send %q: %v", msg, err)
        }
    }
    rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    for _, want := range []string{"one", "", "three"} {
        pkt, err := ln.Recv(rctx)
        if err != nil {
            t.Fatalf("recv: %v", err)
        }
        if string(pkt.Data) != want {
            t.Fatalf("got %q, want %q", pkt.Data, want)
        }
    }
}

func TestReadFrameLimits(t *testing.T) {
    var hdr [4]byte
    binary.BigEndian.PutUint32(hdr[:], MaxFrame+1)
    if _, err := readFrame(bytes.NewReader(hdr[:])); !errors.Is(err, ErrFrameTooLarge) {
        t.Fatalf("err = %v", err)
    }
    binary.BigEndian.PutUint32(hdr[:], 8)
    if _, err := readFrame(bytes.NewReader(append(hdr[:], 1, 2))); err == nil {
        t.Fatalf("expected short read error")
    }
}

func TestClosedListenerAndSender(t *testing.T) {
    tr := New()
    ln, err := tr.Listen(context.Background(), "127.0.0.1:0")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    s, err := tr.Dial(context.Background(), ln.Addr().String())
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    _ = ln.Close()
    if _, err := ln.Recv(context.Background()); !errors.Is(err, transport.ErrClosed) {
        t.Fatalf("recv err = %v", err)
    }
    _ = s.Close()
    if err := s.Send([]byte("x")); !errors.Is(err, transport.ErrClosed) {
        t.Fatalf("send err = %v", err)
    }
}
