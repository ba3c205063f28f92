package task

import (
	"context"
	"fmt"
	"log"

	"downly/config"

	"github.com/lithammer/shortuuid/v4"
)

// Pipeline drives one job from pending to a terminal state, writing every
// transition into the store. Implementations must not panic across this
// boundary, but the manager guards with a recover anyway so one bad job can
// never take down the scheduler or its siblings.
type Pipeline interface {
	Run(ctx context.Context, job Job)
}

// Manager accepts jobs and runs each one's pipeline as an independent
// goroutine. A semaphore bounds how many pipelines supervise external
// processes at once; jobs have no ordering relationship between them.
type Manager struct {
	cfg      *config.Config
	store    *Store
	pipeline Pipeline
	workers  chan struct{}

	baseCtx context.Context
}

func NewManager(cfg *config.Config, store *Store, p Pipeline) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		pipeline: p,
		workers:  make(chan struct{}, cfg.MaxWorkers),
		baseCtx:  context.Background(),
	}
}

// Start binds the manager to ctx; pipelines launched afterwards stop when
// ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
	log.Println("Task manager started. Worker limit:", m.cfg.MaxWorkers)
}

// Submit registers a new job and launches its pipeline. The returned job
// carries the generated identifier; the caller polls Get with it. The
// pipeline runs to a terminal state whether or not anyone keeps polling.
func (m *Manager) Submit(job Job) (Job, error) {
	if job.URL == "" {
		return Job{}, fmt.Errorf("job URL must not be empty")
	}

	job.ID = shortuuid.New()
	m.store.Put(job.ID, Status{
		State:    StatePending,
		Progress: 0,
		Message:  "Task queued",
	})

	go func() {
		m.workers <- struct{}{}
		defer func() { <-m.workers }()
		defer m.recoverJob(job.ID)

		m.pipeline.Run(m.baseCtx, job)
	}()

	log.Printf("Task %s submitted (%s, %s)", job.ID, job.Kind, job.Format)
	return job, nil
}

// Get returns the current status snapshot for a job identifier.
func (m *Manager) Get(id string) (Status, bool) {
	return m.store.Get(id)
}

// recoverJob is the outermost error boundary of one job. A panic anywhere
// in the pipeline becomes a failed record; the detail is logged, the caller
// sees only a short description.
func (m *Manager) recoverJob(id string) {
	if r := recover(); r != nil {
		log.Printf("Task %s panicked: %v", id, r)
		m.store.Put(id, Status{
			State:    StateFailed,
			Progress: 0,
			Message:  "Processing failed",
			Error:    fmt.Sprintf("%v", r),
		})
	}
}
