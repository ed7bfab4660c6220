package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"nathanbeddoewebdev/vpsd/internal/monitor"
)

const (
	// DefaultStream is the JetStream stream holding pending jobs.
	DefaultStream = "VPSD_JOBS"

	// DefaultDurable is the consumer shared by all workers.
	DefaultDurable = "vpsd-workers"

	subjectPrefix = "vpsd.jobs."
)

// Subject returns the subject jobs of kind are published on.
func Subject(kind string) string { return subjectPrefix + kind }

// envelope is the wire form of a job. RunAt carries the delay: a worker
// that receives the message early puts it back for the remaining time.
type envelope struct {
	RunAt time.Time   `json:"run_at"`
	Job   monitor.Job `json:"job"`
}

func encode(job monitor.Job, runAt time.Time) ([]byte, error) {
	return json.Marshal(envelope{RunAt: runAt.UTC(), Job: job})
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("queue: malformed job: %w", err)
	}
	if env.Job.Kind == "" {
		return envelope{}, errors.New("queue: malformed job: missing kind")
	}
	return env, nil
}

// NATSConfig configures a NATS queue.
type NATSConfig struct {
	Stream          string
	Durable         string
	Workers         int
	RedeliveryDelay time.Duration

	// FetchWait bounds each pull request. Defaults to 5s.
	FetchWait time.Duration
}

// NATS is a JetStream-backed queue. The stream uses work-queue retention,
// so each job is removed once a worker acknowledges it.
type NATS struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	cfg  NATSConfig
	now  func() time.Time
}

// NewNATS connects to url and ensures the job stream exists.
func NewNATS(url string, cfg NATSConfig, opts ...nats.Option) (*NATS, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Durable == "" {
		cfg.Durable = DefaultDurable
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = DefaultRedeliveryDelay
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}
	cfg.Workers = workersOrDefault(cfg.Workers)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue: jetstream: %w", err)
	}

	q := &NATS{conn: nc, js: js, cfg: cfg, now: time.Now}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *NATS) ensureStream() error {
	_, err := q.js.StreamInfo(q.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("queue: stream info: %w", err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("queue: add stream: %w", err)
	}
	return nil
}

// Enqueue publishes job to run after delay.
func (q *NATS) Enqueue(ctx context.Context, job monitor.Job, delay time.Duration) error {
	data, err := encode(job, q.now().Add(delay))
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(Subject(job.Kind), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Run pulls jobs and hands them to h until ctx is cancelled.
func (q *NATS) Run(ctx context.Context, h Handler) error {
	sub, err := q.js.PullSubscribe(subjectPrefix+">", q.cfg.Durable,
		nats.BindStream(q.cfg.Stream),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("queue: subscribe: %w", err)
	}
	defer func() { _ = sub.Drain() }()

	var g errgroup.Group
	g.SetLimit(q.cfg.Workers)

	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, q.cfg.FetchWait)
		msgs, err := sub.Fetch(q.cfg.Workers, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			_ = g.Wait()
			return fmt.Errorf("queue: fetch: %w", err)
		}

		for _, msg := range msgs {
			g.Go(func() error {
				q.deliver(ctx, msg, h)
				return nil
			})
		}
	}
	return g.Wait()
}

// deliver acknowledges msg according to the handler's result. Malformed
// messages are terminated so they are never redelivered.
func (q *NATS) deliver(ctx context.Context, msg *nats.Msg, h Handler) {
	env, err := decode(msg.Data)
	if err != nil {
		_ = msg.Term()
		return
	}
	if wait := env.RunAt.Sub(q.now()); wait > 0 {
		_ = msg.NakWithDelay(wait)
		return
	}
	if err := h(ctx, env.Job); err != nil {
		_ = msg.NakWithDelay(q.cfg.RedeliveryDelay)
		return
	}
	_ = msg.Ack()
}

// Close drains the connection.
func (q *NATS) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
	}
	return nil
}
