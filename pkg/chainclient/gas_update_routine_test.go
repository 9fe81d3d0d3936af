package chainclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGasUpdateRoutineLifecycle(t *testing.T) {
	client := &Client{ChainID: 8453}
	routine := NewGasUpdateRoutine(client, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, routine.IsRunning())

	routine.Start(ctx)
	assert.True(t, routine.IsRunning())

	// starting twice is a no-op
	routine.Start(ctx)
	assert.True(t, routine.IsRunning())

	routine.Stop()
	assert.False(t, routine.IsRunning())

	// stopping twice is a no-op
	routine.Stop()
	assert.False(t, routine.IsRunning())
}

func TestGasUpdateRoutineSurvivesDisconnectedClient(t *testing.T) {
	// no RPC connection: every update fails and is retried on the next tick
	client := &Client{ChainID: 8453}
	routine := NewGasUpdateRoutine(client, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routine.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	routine.Stop()

	assert.False(t, routine.IsRunning())
}
