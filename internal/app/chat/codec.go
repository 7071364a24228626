package chat

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec is the wire format of chat messages on the data channel. Both ends of a room must agree on it.
type Codec interface {
	Name() string
	Marshal(msg domain.ChatMessage) ([]byte, error)
	Unmarshal(data []byte, msg *domain.ChatMessage) error
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg domain.ChatMessage) ([]byte, error) { return json.Marshal(msg) }

func (JSONCodec) Unmarshal(data []byte, msg *domain.ChatMessage) error {
	return json.Unmarshal(data, msg)
}

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(msg domain.ChatMessage) ([]byte, error) { return msgpack.Marshal(msg) }

func (MsgpackCodec) Unmarshal(data []byte, msg *domain.ChatMessage) error {
	return msgpack.Unmarshal(data, msg)
}

// CodecByName resolves the configured codec; an empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown chat codec %q", name)
}
