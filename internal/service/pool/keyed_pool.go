// Package pool содержит пул воркеров с привязкой ключа к воркеру.
package pool

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/metrics"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 64
)

var (
	// ErrPoolSaturated возвращается, если очередь воркера для ключа заполнена.
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolClosed возвращается после Stop.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task: единица работы пула.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Options задает параметры пула.
type Options struct {
	Logger    *log.Entry
	Workers   int
	QueueSize int
	Metrics   *metrics.PoolMetrics
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithWorkers задает количество воркеров.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithQueueSize задает ёмкость очереди одного воркера.
func WithQueueSize(size int) Option {
	return func(opts *Options) {
		opts.QueueSize = size
	}
}

func WithMetrics(m *metrics.PoolMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// KeyedPool направляет задачи с одинаковым ключом одному воркеру,
// поэтому они выполняются строго по порядку. Разные ключи обрабатываются параллельно.
type KeyedPool struct {
	queues  []chan job
	logger  *log.Entry
	metrics *metrics.PoolMetrics

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New создаёт пул. Воркеры запускаются в Start.
func New(options ...Option) *KeyedPool {
	opts := Options{Workers: defaultWorkers, QueueSize: defaultQueueSize}
	for _, option := range options {
		option(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "keyed-pool")
	}

	queues := make([]chan job, opts.Workers)
	for i := range queues {
		queues[i] = make(chan job, opts.QueueSize)
	}

	return &KeyedPool{
		queues:  queues,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Workers возвращает количество воркеров.
func (p *KeyedPool) Workers() int {
	return len(p.queues)
}

// Start запускает воркеры. Повторный вызов ничего не делает.
func (p *KeyedPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.wg.Add(len(p.queues))
	for i, queue := range p.queues {
		go p.work(i, queue)
	}
	p.logger.WithField("workers", len(p.queues)).Info("keyed pool started")
}

// Stop перестаёт принимать задачи, дожидается выполнения уже поставленных.
func (p *KeyedPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	if !started {
		for _, queue := range p.queues {
			for j := range queue {
				j.done <- ErrPoolClosed
			}
		}
		return
	}
	p.wg.Wait()
	p.logger.Info("keyed pool stopped")
}

// Submit ставит задачу в очередь воркера fnv32(key) % workers и не блокируется.
// Результат выполнения приходит в возвращённый канал ровно один раз.
func (p *KeyedPool) Submit(ctx context.Context, key string, task Task) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	idx := p.route(key)
	j := job{ctx: ctx, task: task, done: make(chan error, 1)}

	select {
	case p.queues[idx] <- j:
		p.metrics.SetQueueDepth(idx, len(p.queues[idx]))
		return j.done, nil
	default:
		p.metrics.RecordTask("saturated")
		return nil, fmt.Errorf("%w: worker %d queue is full", ErrPoolSaturated, idx)
	}
}

func (p *KeyedPool) route(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *KeyedPool) work(idx int, queue <-chan job) {
	defer p.wg.Done()
	for j := range queue {
		p.metrics.SetQueueDepth(idx, len(queue))
		err := p.run(j)
		if err != nil {
			p.metrics.RecordTask("error")
		} else {
			p.metrics.RecordTask("ok")
		}
		j.done <- err
	}
}

func (p *KeyedPool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if ctxErr := j.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return j.task(j.ctx)
}
