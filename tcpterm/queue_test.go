package tcpterm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteQueueAppendAndGather(t *testing.T) {
	var q byteQueue
	q.append([]byte("hello"))
	q.append([]byte(" world"))
	require.Equal(t, 11, q.size)
	require.False(t, q.isEmpty())

	require.Equal(t, []byte("hello worl"), q.gather(10))
	require.Equal(t, 11, q.size, "gather must not consume")
}

func TestByteQueueConsumeFrontSpansSegments(t *testing.T) {
	var q byteQueue
	q.append([]byte("abc"))
	q.append([]byte("defg"))
	q.append([]byte("hi"))

	q.consumeFront(5)
	require.Equal(t, 4, q.size)
	require.Equal(t, []byte("fghi"), q.gather(100))
}

func TestByteQueueConsumeFrontPartialFirstSegment(t *testing.T) {
	var q byteQueue
	q.append([]byte("abcdef"))
	q.consumeFront(2)
	require.Equal(t, []byte("cdef"), q.first())
	require.Equal(t, 4, q.size)
}

func TestByteQueueClear(t *testing.T) {
	var q byteQueue
	q.append([]byte("x"))
	q.clear()
	require.True(t, q.isEmpty())
	require.Nil(t, q.first())
}

func TestByteQueueGatherEmpty(t *testing.T) {
	var q byteQueue
	require.Nil(t, q.gather(10))
}
