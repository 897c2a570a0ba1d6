package codec

import (
	"encoding/json"

	"mq-rpc/protocol"
)

// JSONCodec uses encoding/json. Envelopes are UTF-8 JSON on the wire so that
// peers written in other languages can take part.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) ContentType() string {
	return protocol.ContentTypeJSON
}
