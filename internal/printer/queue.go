package printer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thereceipt/label-engine/internal/logging"
)

// Job statuses
const (
	StatusQueued    = "queued"
	StatusPrinting  = "printing"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
)

// Sender delivers a raw job; *Manager is the usual implementation
type Sender interface {
	SendRaw(ctx context.Context, name string, data []byte) (Result, error)
}

// PrintJob represents a print job
type PrintJob struct {
	ID        string    `json:"id"`
	Printer   string    `json:"printer"`
	Data      []byte    `json:"-"`
	Retries   int       `json:"retries"`
	Status    string    `json:"status"` // queued, printing, failed, completed
	Error     string    `json:"error,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	notBefore time.Time
}

// PrintQueue manages print jobs with retry logic
type PrintQueue struct {
	jobs       []*PrintJob
	mu         sync.Mutex
	sender     Sender
	maxRetries int
	retryDelay time.Duration
	onStatus   func(PrintJob)
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPrintQueue creates a new print queue and starts its worker
func NewPrintQueue(sender Sender, maxRetries int) *PrintQueue {
	ctx, cancel := context.WithCancel(context.Background())

	if maxRetries < 1 {
		maxRetries = 1
	}

	q := &PrintQueue{
		jobs:       make([]*PrintJob, 0),
		sender:     sender,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		ctx:        ctx,
		cancel:     cancel,
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// SetRetryDelay sets the wait before a failed job is attempted again
func (q *PrintQueue) SetRetryDelay(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryDelay = d
}

// OnStatus sets a callback invoked after every status change
func (q *PrintQueue) OnStatus(callback func(PrintJob)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStatus = callback
}

// Enqueue adds a print job to the queue
func (q *PrintQueue) Enqueue(printer string, data []byte) string {
	q.mu.Lock()

	now := time.Now()
	job := &PrintJob{
		ID:        uuid.New().String(),
		Printer:   printer,
		Data:      data,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs = append(q.jobs, job)
	snapshot, notify := *job, q.onStatus

	q.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return job.ID
}

// worker processes print jobs
func (q *PrintQueue) worker() {
	defer q.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			for q.processNextJob() {
				if q.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processNextJob runs one due job and reports whether it found one
func (q *PrintQueue) processNextJob() bool {
	q.mu.Lock()

	var job *PrintJob
	now := time.Now()
	for _, j := range q.jobs {
		if j.Status == StatusQueued && !now.Before(j.notBefore) {
			job = j
			job.Status = StatusPrinting
			job.UpdatedAt = now
			break
		}
	}
	if job == nil {
		q.mu.Unlock()
		return false
	}
	snapshot, notify := *job, q.onStatus

	q.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}

	result, err := q.sender.SendRaw(q.ctx, job.Printer, job.Data)

	q.mu.Lock()
	log := logging.Logger()
	job.UpdatedAt = time.Now()

	if err != nil {
		job.Retries++
		job.Error = err.Error()

		if job.Retries >= q.maxRetries {
			job.Status = StatusFailed
			log.Error("print job failed", "job", job.ID, "printer", job.Printer, "retries", job.Retries, "error", err)
		} else {
			job.Status = StatusQueued
			job.notBefore = job.UpdatedAt.Add(q.retryDelay)
			log.Warn("print job failed, retrying", "job", job.ID, "attempt", job.Retries, "max", q.maxRetries, "error", err)
		}
	} else {
		job.Status = StatusCompleted
		job.Error = ""
		job.Result = &result
		log.Info("print job completed", "job", job.ID, "printer", job.Printer)
	}
	snapshot, notify = *job, q.onStatus

	q.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return true
}

// GetJob returns a copy of a job by ID
func (q *PrintQueue) GetJob(jobID string) *PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == jobID {
			jobCopy := *job
			return &jobCopy
		}
	}

	return nil
}

// GetAllJobs returns copies of all jobs
func (q *PrintQueue) GetAllJobs() []*PrintJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*PrintJob, len(q.jobs))
	for i, job := range q.jobs {
		jobCopy := *job
		jobs[i] = &jobCopy
	}

	return jobs
}

// ClearCompleted removes completed jobs from the queue
func (q *PrintQueue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := make([]*PrintJob, 0)
	for _, job := range q.jobs {
		if job.Status != StatusCompleted {
			filtered = append(filtered, job)
		}
	}

	q.jobs = filtered
}

// Stop stops the print queue worker
func (q *PrintQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
