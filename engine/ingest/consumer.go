package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/vanfleet/pkg/fn"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
	"github.com/WessleyAI/vanfleet/pkg/natsutil"
)

// MaxRetries is how many attempts a message gets before it is dead-lettered.
const MaxRetries = 3

// Consumer feeds NATS messages into a Service. Failed messages are
// republished with an incremented retry header; permanent failures and
// messages out of attempts go to SubjectDLQ.
type Consumer struct {
	nc         *nats.Conn
	svc        *Service
	queue      string
	maxRetries int
	metrics    *metrics.Fleet
	log        *slog.Logger
	subs       []*nats.Subscription
}

// ConsumerOpts configures a Consumer.
type ConsumerOpts struct {
	Queue      string
	MaxRetries int
	Metrics    *metrics.Fleet
	Logger     *slog.Logger
}

// NewConsumer creates a consumer for svc. Call Start to subscribe.
func NewConsumer(nc *nats.Conn, svc *Service, opts ConsumerOpts) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	if opts.Metrics == nil {
		opts.Metrics = svc.metrics
	}
	if opts.Logger == nil {
		opts.Logger = svc.log
	}
	return &Consumer{
		nc:         nc,
		svc:        svc,
		queue:      opts.Queue,
		maxRetries: opts.MaxRetries,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}
}

// Start subscribes to the mention and image subjects.
func (c *Consumer) Start() error {
	handlers := []struct {
		subject string
		process func(context.Context, *nats.Msg) error
	}{
		{SubjectMention, c.mention},
		{SubjectImage, c.image},
	}
	for _, h := range handlers {
		sub, err := natsutil.Handle(c.nc, h.subject, c.queue, c.handler(h.process))
		if err != nil {
			_ = c.Stop()
			return err
		}
		c.subs = append(c.subs, sub)
	}
	c.log.Info("ingest: consumer started", "subjects", []string{SubjectMention, SubjectImage}, "queue", c.queue)
	return nil
}

// Stop drains the subscriptions.
func (c *Consumer) Stop() error {
	var errs []error
	for _, sub := range c.subs {
		errs = append(errs, sub.Drain())
	}
	c.subs = nil
	return errors.Join(errs...)
}

func (c *Consumer) mention(ctx context.Context, msg *nats.Msg) error {
	m, err := natsutil.Decode[Mention](msg)
	if err != nil {
		return fn.Permanent(err)
	}
	_, err = c.svc.Mention(ctx, m)
	return err
}

func (c *Consumer) image(ctx context.Context, msg *nats.Msg) error {
	img, err := natsutil.Decode[Image](msg)
	if err != nil {
		return fn.Permanent(err)
	}
	res, err := c.svc.Image(ctx, img)
	if err == nil && res.Duplicate {
		c.log.Info("ingest: duplicate image", "key", res.Record.Key, "fingerprint", res.Fingerprint)
	}
	return err
}

func (c *Consumer) handler(process func(context.Context, *nats.Msg) error) func(context.Context, *nats.Msg) {
	return func(ctx context.Context, msg *nats.Msg) {
		if err := process(ctx, msg); err != nil {
			c.fail(ctx, msg, err)
		}
	}
}

func (c *Consumer) fail(ctx context.Context, msg *nats.Msg, err error) {
	attempts := natsutil.RetryCount(msg) + 1
	c.log.Error("ingest: processing failed",
		"subject", msg.Subject,
		"error", err,
		"attempt", attempts,
		"permanent", fn.IsPermanent(err),
	)

	if fn.IsPermanent(err) || attempts >= c.maxRetries {
		dl := DeadLetter{Subject: msg.Subject, Payload: msg.Data, Error: err.Error(), Attempts: attempts}
		if err := natsutil.Publish(ctx, c.nc, SubjectDLQ, dl); err != nil {
			c.log.Error("ingest: DLQ publish failed", "error", err)
			return
		}
		c.metrics.DeadLetter(msg.Subject)
		return
	}

	if err := natsutil.PublishMsg(ctx, c.nc, natsutil.Redelivery(msg, msg.Subject, attempts)); err != nil {
		c.log.Error("ingest: retry publish failed", "error", err)
		return
	}
	c.metrics.Retry(msg.Subject)
}
