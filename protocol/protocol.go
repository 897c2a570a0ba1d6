// Package protocol holds the conventions both ends of a call agree on outside
// the JSON body: reserved method names, the protocol version and the broker
// message properties used for reply addressing.
//
// A request travels as a broker message with these properties:
//
//	correlation-id  client-assigned token, echoed unchanged on the reply
//	reply-to        queue the server publishes the reply to
//	content-type    application/json
//	x-rpc-version   protocol version header
package protocol

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	Version         = "1"
	VersionHeader   = "x-rpc-version"
	ContentTypeJSON = "application/json"

	// SystemPrefix marks methods reserved for the protocol itself.
	SystemPrefix = "system."
	// DescribeMethod asks a server for its service descriptor. It is the only
	// system method a server answers.
	DescribeMethod = SystemPrefix + "describe"
)

// Properties are the broker message properties of a request or reply.
type Properties struct {
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Version       string
}

// RequestProperties returns the properties of a client request.
func RequestProperties(correlationID, replyTo string) Properties {
	return Properties{
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		ContentType:   ContentTypeJSON,
		Version:       Version,
	}
}

// ReplyProperties returns the properties of the reply to a request carrying
// req. Only the correlation id is echoed; the reply-to of the request is the
// destination, not a property of the reply.
func ReplyProperties(req Properties) Properties {
	return Properties{
		CorrelationID: req.CorrelationID,
		ContentType:   ContentTypeJSON,
		Version:       Version,
	}
}

// Validate checks the protocol version of an incoming message. An empty
// version is accepted so that peers which do not set it still interoperate.
// The content type is checked when a codec is chosen for the body.
func (p Properties) Validate() error {
	if p.Version != "" && p.Version != Version {
		return errors.Errorf("unsupported protocol version: %q", p.Version)
	}
	return nil
}

// IsSystem reports whether method is in the reserved namespace.
func IsSystem(method string) bool {
	return strings.HasPrefix(method, SystemPrefix)
}
