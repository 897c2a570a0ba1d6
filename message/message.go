// Package message defines the envelopes exchanged between call proxies, client
// engines and server dispatch engines.
//
// Invoke is the in-process call intent produced by a proxy. RabbitMessage is
// the request that travels over the broker:
//
//	{"method": "Add", "args": [1, 2], "methodId": 0}
//
// InvokeReply is the reply, a tagged union with exactly one payload set:
//
//	{"replyType": "RESULT", "result": 3}
//	{"replyType": "SERVICE_DESCRIPTOR", "serviceDescriptor": {...}}
//	{"replyType": "ERROR", "error": {"kind": "ProcedureNotFound", "message": "..."}}
package message

import (
	"encoding/json"
	"fmt"

	"mq-rpc/descriptor"
)

// Invoke is a call intent: a method name and positional arguments. It is
// never serialized directly.
type Invoke struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

func (i Invoke) String() string {
	return fmt.Sprintf("%s%v", i.Method, i.Args)
}

// RabbitMessage is the request envelope. MethodID is nil only for reserved
// system calls.
type RabbitMessage struct {
	Method   string            `json:"method"`
	Args     []json.RawMessage `json:"args"`
	MethodID *int              `json:"methodId,omitempty"`
}

// ReplyType tags which payload of an InvokeReply is set.
type ReplyType string

const (
	ReplyError             ReplyType = "ERROR"
	ReplyServiceDescriptor ReplyType = "SERVICE_DESCRIPTOR"
	ReplyResult            ReplyType = "RESULT"
)

// InvokeReply is the reply envelope.
type InvokeReply struct {
	Invoke            *Invoke                       `json:"invoke,omitempty"`
	ReplyType         ReplyType                     `json:"replyType"`
	Error             *Error                        `json:"error,omitempty"`
	ServiceDescriptor *descriptor.ServiceDescriptor `json:"serviceDescriptor,omitempty"`
	Result            json.RawMessage               `json:"result,omitempty"`
}

// NullObject is the decoded value of a successful call that returns nothing.
// It lets a receiver tell "no value" apart from "no reply yet".
type NullObject struct{}

// ErrorReply builds an ERROR reply.
func ErrorReply(err *Error) *InvokeReply {
	return &InvokeReply{ReplyType: ReplyError, Error: err}
}

// DescriptorReply builds a SERVICE_DESCRIPTOR reply.
func DescriptorReply(desc *descriptor.ServiceDescriptor) *InvokeReply {
	return &InvokeReply{ReplyType: ReplyServiceDescriptor, ServiceDescriptor: desc}
}

// ResultReply builds a RESULT reply around an already encoded value. A nil
// value is sent as JSON null.
func ResultReply(value json.RawMessage) *InvokeReply {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return &InvokeReply{ReplyType: ReplyResult, Result: value}
}
