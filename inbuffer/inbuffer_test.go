package inbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureCapacityClampsToMinimum(t *testing.T) {
	b := New(16)
	require.GreaterOrEqual(t, b.Cap(), minCapacity)
}

func TestProduceAndConsume(t *testing.T) {
	b := New(64)
	copy(b.WriteSlice(), "hello")
	b.Produced(5)

	require.Equal(t, 5, b.RecvSize())
	require.Equal(t, "hello", string(b.Unread()))
	require.Equal(t, byte(0), b.data[5])

	b.Advance(3)
	require.Equal(t, "lo", string(b.Unread()))
}

func TestShiftCompactsUnreadBytes(t *testing.T) {
	b := New(64)
	copy(b.WriteSlice(), "0123456789")
	b.Produced(10)
	b.Advance(7)

	require.Equal(t, "789", string(b.Unread()))
	b.Shift()
	require.Equal(t, "789", string(b.Unread()))
	require.Equal(t, 0, b.readPtr)
	require.Equal(t, 3, b.writePtr)
}

func TestFullReportsNoRoomLeft(t *testing.T) {
	b := New(minCapacity)
	require.False(t, b.Full())
	b.Produced(b.WriteSize())
	require.True(t, b.Full())
}

func TestResetEmptiesBuffer(t *testing.T) {
	b := New(64)
	copy(b.WriteSlice(), "abc")
	b.Produced(3)
	b.Reset()

	require.Equal(t, 0, b.RecvSize())
}
