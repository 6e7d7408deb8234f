package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReportsFailuresByName(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", func(context.Context) error { return nil })
	boom := errors.New("boom")
	r.Register("bad", func(context.Context) error { return boom })

	failures := r.Check(context.Background())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures["bad"], boom)
}

func TestCheckEmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Check(context.Background()))
}

func TestReadinessLatch(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Ready())
	r.SetReady(true)
	assert.True(t, r.Ready())
	r.SetReady(false)
	assert.False(t, r.Ready())
}

func TestRegisterReplacesProbe(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(context.Context) error { return errors.New("down") })
	r.Register("db", func(context.Context) error { return nil })
	assert.Empty(t, r.Check(context.Background()))
}
