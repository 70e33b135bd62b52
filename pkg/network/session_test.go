package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
	"github.com/ZentaChain/zentalk-relay/pkg/transport"
)

func TestSessionPushIsBounded(t *testing.T) {
	_, st := pipe(t)
	sess := newSession(st, 2)

	first := &protocol.Envelope{Key: []byte("1")}
	second := &protocol.Envelope{Key: []byte("2")}
	require.NoError(t, sess.Push(first))
	require.NoError(t, sess.Push(second))
	assert.ErrorIs(t, sess.Push(&protocol.Envelope{Key: []byte("3")}), ErrSendQueueFull)

	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Push(&protocol.Envelope{Key: []byte("4")}), transport.ErrConnectionClosed)
	assert.Equal(t, []*protocol.Envelope{first, second}, sess.unsent())
	assert.Empty(t, sess.unsent())
	assert.Equal(t, SessionClosed, sess.State())
}
