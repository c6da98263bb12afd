package protocol

import (
    "errors"
    "fmt"
    "strconv"
    "strings"
)

// Content types for structured payloads carried inside blob arguments.
const (
    ContentUnknown = "application/octet-stream"
    ContentCBOR    = "application/cbor"
    ContentJSON    = "application/json"
    ContentProto   = "application/x-protobuf"
)

// Channel is one of the four logical actors a message travels between.
type Channel uint8

const (
    Intelligence Channel = iota
    Execution
    Interaction
    System
    numChannels
)

// ErrInvalidChannel is returned for values outside the four channels.
var ErrInvalidChannel = errors.New("invalid channel")

// Channels lists every channel in numeric order.
func Channels() []Channel { return []Channel{Intelligence, Execution, Interaction, System} }

func (c Channel) Valid() bool { return c < numChannels }

func (c Channel) String() string {
    switch c {
    case Intelligence:
        return "intelligence"
    case Execution:
        return "execution"
    case Interaction:
        return "interaction"
    case System:
        return "system"
    default:
        return "channel(" + strconv.Itoa(int(c)) + ")"
    }
}

// MarshalText encodes the channel by name.
func (c Channel) MarshalText() ([]byte, error) {
    if !c.Valid() { return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, c) }
    return []byte(c.String()), nil
}

// UnmarshalText accepts a name or a number.
func (c *Channel) UnmarshalText(b []byte) error {
    ch, err := ParseChannel(string(b))
    if err != nil { return err }
    *c = ch
    return nil
}

// ParseChannel accepts a channel name ("execution") or its number ("1").
func ParseChannel(s string) (Channel, error) {
    s = strings.ToLower(strings.TrimSpace(s))
    for _, c := range Channels() {
        if s == c.String() { return c, nil }
    }
    n, err := strconv.Atoi(s)
    if err != nil { return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s) }
    return ChannelOf(n)
}

// ChannelOf validates a numeric channel.
func ChannelOf(n int) (Channel, error) {
    if n < 0 || n >= int(numChannels) { return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, n) }
    return Channel(n), nil
}
