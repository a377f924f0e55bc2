package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-render/engine/core"
)

// JobTask is one unit of work for the job system workers.
type JobTask struct {
	Name    string
	OnStart func() error
	// OnComplete runs on the worker after OnStart succeeded.
	OnComplete func()
	// OnFailure runs on the worker after OnStart failed.
	OnFailure func(err error)
	// OnCompletionCallback always runs last.
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	core.LogDebug("job system started with %d workers", numWorkers)
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	if job.OnCompletionCallback != nil {
		defer job.OnCompletionCallback()
	}
	var err error
	if job.OnStart != nil {
		err = job.OnStart()
	}
	if err != nil {
		core.LogError("job %s failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// Workers is the number of worker goroutines.
func (js *JobSystem) Workers() int {
	return js.numWorkers
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

// AddWorkNonBlocking queues the job from a new goroutine and returns
// immediately.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) {
	go func() {
		if err := js.Submit(jt); err != nil {
			core.LogWarn("job %s dropped: %s", jt.Name, err)
		}
	}()
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return fmt.Errorf("job %s: %w", jt.Name, core.ErrShutdown)
	}
	js.jobQueue <- jt
	return nil
}

// Run executes the tasks on the workers and waits for all of them. The
// returned error joins every task failure.
func (js *JobSystem) Run(tasks []JobTask) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range tasks {
		t := t
		onFailure := t.OnFailure
		t.OnFailure = func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			if onFailure != nil {
				onFailure(err)
			}
		}
		callback := t.OnCompletionCallback
		t.OnCompletionCallback = func() {
			if callback != nil {
				callback()
			}
			wg.Done()
		}
		wg.Add(1)
		if err := js.Submit(t); err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
