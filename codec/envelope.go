package codec

import (
	"encoding/json"

	"github.com/pkg/errors"

	"mq-rpc/message"
	"mq-rpc/protocol"
)

// EncodeRequest builds and serializes a request envelope. The method id is
// dropped for reserved system methods.
func EncodeRequest(c Codec, method string, args []any, methodID *int) ([]byte, error) {
	msg := message.RabbitMessage{
		Method: method,
		Args:   make([]json.RawMessage, 0, len(args)),
	}
	if !protocol.IsSystem(method) {
		msg.MethodID = methodID
	}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding argument %d of %s", i, method)
		}
		msg.Args = append(msg.Args, raw)
	}
	return c.Encode(&msg)
}

// DecodeRequest parses a request envelope. Failures are MalformedRequest
// errors.
func DecodeRequest(c Codec, body []byte) (*message.RabbitMessage, error) {
	var msg message.RabbitMessage
	if err := c.Decode(body, &msg); err != nil {
		return nil, message.Wrap(message.KindMalformedRequest, err, "undecodable request")
	}
	if msg.Method == "" {
		return nil, message.Errorf(message.KindMalformedRequest, "request has no method")
	}
	return &msg, nil
}

// EncodeReply serializes a reply envelope.
func EncodeReply(c Codec, reply *message.InvokeReply) ([]byte, error) {
	return c.Encode(reply)
}

// DecodeReply parses a reply envelope and checks that exactly the payload named
// by its reply type is present.
func DecodeReply(c Codec, body []byte) (*message.InvokeReply, error) {
	var reply message.InvokeReply
	if err := c.Decode(body, &reply); err != nil {
		return nil, message.Wrap(message.KindMalformedRequest, err, "undecodable reply")
	}
	hasError := reply.Error != nil
	hasDesc := reply.ServiceDescriptor != nil
	hasResult := len(reply.Result) > 0 && string(reply.Result) != "null"

	ok := false
	switch reply.ReplyType {
	case message.ReplyError:
		ok = hasError && !hasDesc && !hasResult
	case message.ReplyServiceDescriptor:
		ok = hasDesc && !hasError && !hasResult
	case message.ReplyResult:
		// A null result is a legitimate value, so only the other payloads
		// are checked.
		ok = !hasError && !hasDesc
	}
	if !ok {
		return nil, message.Errorf(message.KindMalformedRequest, "reply of type %q has inconsistent payload", reply.ReplyType)
	}
	return &reply, nil
}
