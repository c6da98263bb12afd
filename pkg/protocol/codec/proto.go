package codec

import (
    "fmt"

    "google.golang.org/protobuf/proto"
    "google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a deterministic Protocol Buffers codec. Besides proto
// messages it carries map[string]any as a google.protobuf.Struct, and
// decodes a Struct back into *map[string]any.
func Proto() Codec {
    return protoCodec{
        mo: proto.MarshalOptions{Deterministic: true},
        uo: proto.UnmarshalOptions{DiscardUnknown: true},
    }
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    switch msg := v.(type) {
    case proto.Message:
        return p.mo.Marshal(msg)
    case map[string]any:
        s, err := structpb.NewStruct(msg)
        if err != nil { return nil, fmt.Errorf("protobuf: %w", err) }
        return p.mo.Marshal(s)
    default:
        return nil, fmt.Errorf("protobuf: cannot marshal %T", v)
    }
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    switch target := v.(type) {
    case proto.Message:
        return p.uo.Unmarshal(data, target)
    case *map[string]any:
        var s structpb.Struct
        if err := p.uo.Unmarshal(data, &s); err != nil { return err }
        *target = s.AsMap()
        return nil
    default:
        return fmt.Errorf("protobuf: cannot unmarshal into %T", v)
    }
}
