// Package codec serializes request and reply envelopes and coerces decoded
// JSON values into the Go types declared by a procedure.
package codec

import (
	"strings"

	"github.com/pkg/errors"

	"mq-rpc/protocol"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	ContentType() string
}

// GetCodec returns the codec for a message content type. An empty content type
// is treated as JSON.
func GetCodec(contentType string) (Codec, error) {
	if contentType == "" || strings.HasPrefix(contentType, protocol.ContentTypeJSON) {
		return &JSONCodec{}, nil
	}
	return nil, errors.Errorf("no codec for content type %q", contentType)
}
