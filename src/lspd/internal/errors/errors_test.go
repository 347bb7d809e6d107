package errors

import (
	stderr "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  E(KindNotFound, "no such path: %s", "/tmp/x"),
			want: "not_found: no such path: /tmp/x",
		},
		{
			name: "message and cause",
			err:  Wrap(KindProtocol, New("broken pipe"), "connection lost"),
			want: "protocol: connection lost: broken pipe",
		},
		{
			name: "cause only",
			err:  &Error{Kind: KindTimeout, Cause: New("deadline exceeded")},
			want: "timeout: deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInvalidRequest, KindOf(E(KindInvalidRequest, "bad")))
	assert.Equal(t, Kind(""), KindOf(New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := E(KindClientSpawn, "exec failed")
	outer := Wrap(KindProtocol, inner, "handshake")

	// The outermost classification wins.
	assert.Equal(t, KindProtocol, KindOf(outer))
	assert.True(t, stderr.Is(outer, outer))

	var classified *Error
	assert.True(t, stderr.As(outer, &classified))
}

func TestIsKind(t *testing.T) {
	err := E(KindCancelled, "shutting down")
	assert.True(t, IsKind(err, KindCancelled))
	assert.False(t, IsKind(err, KindTimeout))
	assert.False(t, IsKind(nil, KindCancelled))
}

func TestUnwrap(t *testing.T) {
	cause := New("root cause")
	err := Wrap(KindNotFound, cause, "lookup")
	assert.Equal(t, cause, stderr.Unwrap(err))
}
