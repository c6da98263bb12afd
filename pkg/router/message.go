package router

import (
    "strconv"
    "time"

    "mcpbridge/pkg/osc"
    "mcpbridge/pkg/protocol"
)

// Message is the internal routed command. It lives from Route until the
// worker that dequeued it finishes dispatch; it is never retried after that.
type Message struct {
    ID          uint64
    Source      protocol.Channel
    Destination protocol.Channel
    Command     string
    Args        []osc.Arg
    Priority    int
    CreatedAt   time.Time
    // Address and Client are set for messages that arrived over the wire.
    Address string
    Client  string
}

// Flatten renders m for the external boundary: the dispatch address plus
// source, destination, command, priority and timestamp key/value pairs,
// followed by the original arguments.
func Flatten(m *Message, root string) osc.Message {
    args := make([]osc.Arg, 0, 10+len(m.Args))
    args = append(args,
        osc.String("source"), osc.String(m.Source.String()),
        osc.String("destination"), osc.String(m.Destination.String()),
        osc.String("command"), osc.String(m.Command),
        osc.String("priority"), osc.Int32(int32(m.Priority)),
        osc.String("timestamp"), osc.String(formatMillis(m.CreatedAt)),
    )
    args = append(args, m.Args...)
    return osc.Message{Address: root + "/dispatch/" + m.Destination.String(), Args: args}
}

// timestamps travel as strings: unix millis overflow int32
func formatMillis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }
