package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdexec "github.com/noneback/mdexec"
)

func runCountdown(t *testing.T, start, maxParallelIterations int) (int, error) {
	t.Helper()
	tf, enterID := CountdownLoop(maxParallelIterations)
	gview, frameInfos := tf.Build()
	impl := mdexec.NewExecutorImpl(gview, frameInfos)

	done := make(chan struct{})
	var outputs map[string]*mdexec.Tensor
	var runErr error

	impl.RunAsync(context.Background(), mdexec.Args{
		DeviceManager: mdexec.NewStaticDeviceManager(mdexec.NewCPUDevice(0)),
		Feed:          map[int]*mdexec.Tensor{enterID: mdexec.NewTensor("int", nil, start, 8)},
		Concurrency:   4,
	}, func(outs map[string]*mdexec.Tensor, err error) {
		outputs, runErr = outs, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("countdown loop did not finish")
	}
	if runErr != nil {
		return 0, runErr
	}
	out, ok := outputs["exit_counter"]
	require.True(t, ok, "exit_counter must produce an output")
	n, _ := out.Data.(int)
	return n, nil
}

func TestCountdownLoop_RunsToZero(t *testing.T) {
	n, err := runCountdown(t, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountdownLoop_AlreadyZero_ExitsImmediately(t *testing.T) {
	n, err := runCountdown(t, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountdownLoop_ParallelIterationsAllowed(t *testing.T) {
	n, err := runCountdown(t, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
