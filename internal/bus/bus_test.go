package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPublishDelivers(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, b.Publish(context.Background(), "topic", "msg"))

	select {
	case got := <-sub.C():
		require.Equal(t, "msg", got)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryPublishBlockedSubscriberRespectsContext(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	// Fill subscriber channel to capacity so the next publish blocks.
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "topic", "overflow")
	require.Error(t, err)
}

func TestMemoryCloseUnsubscribes(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	require.NoError(t, b.Publish(context.Background(), "topic", "msg"))
}
