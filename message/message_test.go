package message

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq-rpc/descriptor"
)

func TestRequestOmitsAbsentMethodID(t *testing.T) {
	data, err := json.Marshal(RabbitMessage{Method: "system.describe", Args: []json.RawMessage{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"system.describe","args":[]}`, string(data))

	id := 3
	data, err = json.Marshal(RabbitMessage{Method: "Add", Args: []json.RawMessage{json.RawMessage("1")}, MethodID: &id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"Add","args":[1],"methodId":3}`, string(data))
}

func TestRepliesPopulateOnePayload(t *testing.T) {
	cases := []struct {
		reply *InvokeReply
		want  string
	}{
		{ResultReply(nil), `{"replyType":"RESULT","result":null}`},
		{ResultReply(json.RawMessage(`[1,2]`)), `{"replyType":"RESULT","result":[1,2]}`},
		{ErrorReply(Errorf(KindProcedureNotFound, "method %d not found", 9)),
			`{"replyType":"ERROR","error":{"kind":"ProcedureNotFound","message":"method 9 not found"}}`},
		{DescriptorReply(&descriptor.ServiceDescriptor{ClassName: "Calc", Procedures: []*descriptor.Procedure{}}),
			`{"replyType":"SERVICE_DESCRIPTOR","serviceDescriptor":{"className":"Calc","procedures":[]}}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.reply)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))
	}
}

func TestErrorKinds(t *testing.T) {
	err := errors.Wrap(Errorf(KindCallTimeout, "call 7 timed out"), "calling Add")
	assert.Equal(t, KindCallTimeout, KindOf(err))
	assert.True(t, IsKind(err, KindCallTimeout))
	assert.False(t, IsKind(nil, KindCallTimeout))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestWrapCarriesStackDetail(t *testing.T) {
	e := Wrap(KindInternalInvocation, errors.New("division by zero"), "internal error")
	assert.Equal(t, "internal error: division by zero", e.Message)
	assert.Contains(t, e.Detail, "division by zero")
	assert.Contains(t, e.Detail, "message_test.go")
	assert.Equal(t, "InternalInvocationError: internal error: division by zero", e.Error())
}
