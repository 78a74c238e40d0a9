// Package workertest provides an in-memory broker channel and job store for
// exercising queues without RabbitMQ or PostgreSQL.
package workertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is an in-memory channel. A delivery nacked with requeue is delivered again.
type Broker struct {
	mu       sync.Mutex
	queues   map[string]chan amqp.Delivery
	declared []string
	prefetch []int
	nextTag  uint64
	acks     int
	nacks    int

	// ConsumeErr is returned by Consume when set
	ConsumeErr error
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{queues: make(map[string]chan amqp.Delivery)}
}

func (b *Broker) queue(name string) chan amqp.Delivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 64)
		b.queues[name] = q
	}
	return q
}

// QueueDeclare records the declaration
func (b *Broker) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !durable {
		return amqp.Queue{}, fmt.Errorf("queue %s must be durable", name)
	}
	b.declared = append(b.declared, name)
	b.queue(name)
	return amqp.Queue{Name: name}, nil
}

// Qos records the prefetch count
func (b *Broker) Qos(prefetchCount, _ int, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefetch = append(b.prefetch, prefetchCount)
	return nil
}

// Consume returns the delivery stream of queue
func (b *Broker) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ConsumeErr != nil {
		return nil, b.ConsumeErr
	}
	if autoAck {
		return nil, fmt.Errorf("auto-ack is not supported")
	}
	return b.queue(queue), nil
}

// Publish enqueues a raw body
func (b *Broker) Publish(queue string, body []byte) uint64 {
	return b.PublishDelivery(queue, amqp.Delivery{Body: body})
}

// PublishJSON marshals v and enqueues it
func (b *Broker) PublishJSON(queue string, v any) (uint64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return b.Publish(queue, body), nil
}

// PublishDelivery enqueues d, assigning its delivery tag and acknowledger
func (b *Broker) PublishDelivery(queue string, d amqp.Delivery) uint64 {
	b.mu.Lock()
	b.nextTag++
	d.DeliveryTag = b.nextTag
	d.RoutingKey = queue
	d.Acknowledger = &acknowledger{broker: b, queue: queue, delivery: d}
	q := b.queue(queue)
	b.mu.Unlock()

	q <- d
	return d.DeliveryTag
}

// CloseQueue closes the delivery stream of queue
func (b *Broker) CloseQueue(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.queue(queue))
}

// Acks returns the number of acknowledged deliveries
func (b *Broker) Acks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

// Nacks returns the number of negatively acknowledged deliveries
func (b *Broker) Nacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacks
}

// Declared returns the declared queue names
func (b *Broker) Declared() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.declared...)
}

// Prefetch returns the prefetch counts set with Qos
func (b *Broker) Prefetch() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.prefetch...)
}

type acknowledger struct {
	broker   *Broker
	queue    string
	delivery amqp.Delivery
}

func (a *acknowledger) Ack(uint64, bool) error {
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	a.broker.acks++
	return nil
}

func (a *acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.broker.mu.Lock()
	a.broker.nacks++
	a.broker.mu.Unlock()

	if requeue {
		d := a.delivery
		d.Redelivered = true
		d.Acknowledger = nil
		a.broker.PublishDelivery(a.queue, d)
	}
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Store is an in-memory job store
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	progress map[string][]float64
	errored  []domain.ErroredJob

	// RecordAttemptErr is returned by RecordAttempt when set
	RecordAttemptErr error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*domain.Job),
		progress: make(map[string][]float64),
	}
}

// RecordAttempt inserts the job on first sight and increments its attempt
func (s *Store) RecordAttempt(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RecordAttemptErr != nil {
		return nil, s.RecordAttemptErr
	}

	stored, ok := s.jobs[job.ID]
	if !ok {
		cp := *job
		cp.Attempt = 0
		cp.Log = []byte("[]")
		stored = &cp
		s.jobs[job.ID] = stored
	}
	stored.Attempt++

	out := *stored
	return &out, nil
}

// UpdateProgress sets progress and, when given, the label
func (s *Store) UpdateProgress(_ context.Context, jobID string, progress float64, label *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Progress = progress
	if label != nil {
		job.ProgressLabel = label
	}
	s.progress[jobID] = append(s.progress[jobID], progress)
	return nil
}

// AppendLog appends entry to the job's activity log
func (s *Store) AppendLog(_ context.Context, jobID string, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}

	entries, err := job.Entries()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	job.Log = raw
	return nil
}

// InsertErroredJob archives an unusable message
func (s *Store) InsertErroredJob(_ context.Context, errored *domain.ErroredJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errored.ID = int64(len(s.errored) + 1)
	s.errored = append(s.errored, *errored)
	return nil
}

// Job returns a copy of the stored job
func (s *Store) Job(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// JobIDs returns the IDs of the stored jobs, sorted
func (s *Store) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProgressHistory returns every persisted progress value of a job, in order
func (s *Store) ProgressHistory(id string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.progress[id]...)
}

// Errored returns the archived messages
func (s *Store) Errored() []domain.ErroredJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ErroredJob(nil), s.errored...)
}
