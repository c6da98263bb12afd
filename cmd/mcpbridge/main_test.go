package main

import (
    "bytes"
    "net"
    "strings"
    "testing"
    "time"

    "mcpbridge/pkg/osc"
)

func execute(t *testing.T, args ...string) string {
    t.Helper()
    var out bytes.Buffer
    rootCmd.SetOut(&out)
    rootCmd.SetErr(&out)
    rootCmd.SetArgs(args)
    if err := rootCmd.Execute(); err != nil {
        t.Fatalf("%v: %v (%s)", args, err, out.String())
    }
    return out.String()
}

func TestVersion(t *testing.T) {
    if got := execute(t, "version"); !strings.Contains(got, "mcpbridge "+version) {
        t.Fatalf("version = %q", got)
    }
}

func TestSendWritesTypedMessage(t *testing.T) {
    pc, err := net.ListenPacket("udp", "127.0.0.1:0")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    defer pc.Close()

    out := execute(t, "send", "--to", pc.LocalAddr().String(), "-o", "json", "/test/x", "42", "3.5", "s", "true")
    if !strings.Contains(out, `"tags": ",ifsT"`) {
        t.Fatalf("output = %s", out)
    }

    _ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
    buf := make([]byte, 1024)
    n, _, err := pc.ReadFrom(buf)
    if err != nil {
        t.Fatalf("read: %v", err)
    }
    m, err := osc.Decode(buf[:n])
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    want := osc.Message{Address: "/test/x", Args: []osc.Arg{osc.Int32(42), osc.Float32(3.5), osc.String("s"), osc.Bool(true)}}
    if !m.Equal(want) {
        t.Fatalf("got %v, want %v", m, want)
    }
}
