package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunWaitsForAllTasks(t *testing.T) {
	js, err := NewJobSystem(3, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var done, completed, failed atomic.Int32
	boom := errors.New("boom")
	var tasks []JobTask
	for i := 0; i < 20; i++ {
		i := i
		tasks = append(tasks, JobTask{
			Name: "task",
			OnStart: func() error {
				done.Add(1)
				if i == 7 {
					return boom
				}
				return nil
			},
			OnComplete: func() { completed.Add(1) },
			OnFailure:  func(error) { failed.Add(1) },
		})
	}
	err = js.Run(tasks)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(20), done.Load())
	assert.Equal(t, int32(19), completed.Load())
	assert.Equal(t, int32(1), failed.Load())
}

func TestJobSystemRejectsWorkAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	err = js.Submit(JobTask{Name: "late"})
	assert.ErrorIs(t, err, core.ErrShutdown)
}
