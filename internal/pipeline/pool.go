package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-review-go/internal/logger"
	"call-review-go/internal/metrics"
	"call-review-go/internal/types"
)

var ErrPoolClosed = errors.New("pipeline: pool closed")

// Handle tracks one submitted job.
type Handle struct {
	ID  string
	Job Job

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	report types.Report
	err    error
}

// Done is closed once the job has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the run to stop at its next stage boundary.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the job finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (types.Report, error) {
	select {
	case <-h.done:
		return h.report, h.err
	case <-ctx.Done():
		return types.Report{}, ctx.Err()
	}
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
// Submit blocks while the queue is full; jobs are never dropped.
type Pool struct {
	orch    *Orchestrator
	queue   chan *Handle
	metrics *metrics.Metrics
	log     *logrus.Entry

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*Handle
}

func NewPool(orch *Orchestrator, workers, queueSize int, m *metrics.Metrics, log *logrus.Entry) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		orch:    orch,
		queue:   make(chan *Handle, queueSize),
		metrics: m,
		log:     logger.Component(log, "pool"),
		pending: map[string]*Handle{},
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	p.log.WithField("workers", workers).WithField("queue_size", queueSize).Info("pool started")
	return p
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for h := range p.queue {
		if p.metrics != nil {
			p.metrics.QueueDepth.Dec()
		}
		p.log.WithField("worker", n).WithField("job_id", h.ID).Debug("job started")
		h.report, h.err = p.orch.Run(h.ctx, h.Job)
		p.forget(h)
		close(h.done)
	}
}

// Submit queues job, blocking while the queue is full. The job's context is
// independent of ctx, which only bounds the wait for queue space.
func (p *Pool) Submit(ctx context.Context, job Job) (*Handle, error) {
	jobCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{ID: uuid.NewString(), Job: job, ctx: jobCtx, cancel: cancel, done: make(chan struct{})}
	p.track(h)

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		p.forget(h)
		return nil, ErrPoolClosed
	}
	if p.metrics != nil {
		p.metrics.QueueDepth.Inc()
	}
	select {
	case p.queue <- h:
		return h, nil
	case <-ctx.Done():
		if p.metrics != nil {
			p.metrics.QueueDepth.Dec()
		}
		p.forget(h)
		return nil, ctx.Err()
	}
}

func (p *Pool) track(h *Handle) {
	p.mu.Lock()
	p.pending[h.ID] = h
	p.mu.Unlock()
}

func (p *Pool) forget(h *Handle) {
	h.cancel()
	p.mu.Lock()
	delete(p.pending, h.ID)
	p.mu.Unlock()
}

// Cancel cancels a queued or running job by id.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	h, ok := p.pending[id]
	p.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Outcome is the result of one batch job.
type Outcome struct {
	Job    Job
	Report types.Report
	Err    error
}

// RunAll submits jobs in order and waits for all of them. Cancelling ctx
// cancels every job still queued or running. Outcomes are in job order.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []Outcome {
	out := make([]Outcome, len(jobs))
	handles := make([]*Handle, 0, len(jobs))
	index := make(map[*Handle]int, len(jobs))
	for i, j := range jobs {
		h, err := p.Submit(ctx, j)
		if err != nil {
			out[i] = Outcome{Job: j, Err: err}
			continue
		}
		handles = append(handles, h)
		index[h] = i
	}

	stop := context.AfterFunc(ctx, func() {
		for _, h := range handles {
			h.Cancel()
		}
	})
	defer stop()

	for _, h := range handles {
		<-h.Done()
		rep, err := h.Wait(context.Background())
		out[index[h]] = Outcome{Job: h.Job, Report: rep, Err: err}
	}
	return out
}

// Process submits job and waits for its report. Cancelling ctx cancels the
// job, which still returns its (cancelled) report once it stops.
func (p *Pool) Process(ctx context.Context, job Job) (types.Report, error) {
	h, err := p.Submit(ctx, job)
	if err != nil {
		return types.Report{}, err
	}
	stop := context.AfterFunc(ctx, h.Cancel)
	defer stop()
	<-h.Done()
	return h.report, h.err
}
