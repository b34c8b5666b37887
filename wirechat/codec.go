package wirechat

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec turns frames into websocket message bodies and back.
type Codec interface {
	Name() string
	// Binary reports whether encoded frames go out as binary messages.
	Binary() bool
	Marshal(f Frame) ([]byte, error)
	Unmarshal(data []byte) (Frame, error)
}

// CodecByName returns the codec registered under name. An empty name means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecProtobuf:
		return ProtoCodec{}, nil
	default:
		return nil, NewError(ErrorInvalidConfig, fmt.Sprintf("unknown codec %q", name))
	}
}

// JSONCodec encodes frames as JSON text messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "encode frame", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, WrapError(ErrorSerialization, "decode frame", err)
	}
	return f, nil
}

// ProtoCodec encodes frames as a binary google.protobuf.Struct with the
// fields type, data and timestamp.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return CodecProtobuf }
func (ProtoCodec) Binary() bool { return true }

func (ProtoCodec) Marshal(f Frame) ([]byte, error) {
	m := map[string]any{
		"type":      f.Type,
		"timestamp": f.Timestamp,
	}
	if len(f.Data) > 0 {
		var data any
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return nil, WrapError(ErrorSerialization, "decode frame data", err)
		}
		m["data"] = data
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "build frame struct", err)
	}
	out, err := proto.Marshal(s)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "encode frame", err)
	}
	return out, nil
}

func (ProtoCodec) Unmarshal(data []byte) (Frame, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Frame{}, WrapError(ErrorSerialization, "decode frame", err)
	}
	m := s.AsMap()
	f := Frame{}
	f.Type, _ = m["type"].(string)
	if ts, ok := m["timestamp"].(float64); ok {
		f.Timestamp = int64(ts)
	}
	if v, ok := m["data"]; ok && v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return Frame{}, WrapError(ErrorSerialization, "encode frame data", err)
		}
		f.Data = raw
	}
	return f, nil
}
