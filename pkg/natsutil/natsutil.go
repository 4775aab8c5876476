// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation and redelivery bookkeeping.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has been republished after failing.
const RetryHeader = "X-Retry-Count"

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Connect dials url with reconnects enabled and connection events logged.
func Connect(url, name string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats: reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsutil: connect %s: %w", url, err)
	}
	return nc, nil
}

// PublishMsg injects the trace context from ctx into msg and publishes it.
func PublishMsg(ctx context.Context, nc *nats.Conn, msg *nats.Msg) error {
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	return PublishMsg(ctx, nc, &nats.Msg{Subject: subject, Data: data})
}

// Handle subscribes h to subject, joining queue when it is not empty.
// The handler context carries the trace extracted from the message headers.
func Handle(nc *nats.Conn, subject, queue string, h func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		h(ctx, msg)
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}

// Subscribe registers a handler for JSON messages of type T. Messages that
// do not decode are passed to onBad, or dropped when onBad is nil.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T), onBad func(*nats.Msg, error)) (*nats.Subscription, error) {
	return Handle(nc, subject, "", func(ctx context.Context, msg *nats.Msg) {
		v, err := Decode[T](msg)
		if err != nil {
			if onBad != nil {
				onBad(msg, err)
			}
			return
		}
		handler(ctx, v)
	})
}

// Decode unmarshals the JSON body of msg.
func Decode[T any](msg *nats.Msg) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	return v, nil
}

// RetryCount returns the RetryHeader value of msg, 0 when absent or malformed.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Redelivery returns a copy of msg for subject with RetryHeader set to retries.
func Redelivery(msg *nats.Msg, subject string, retries int) *nats.Msg {
	out := nats.NewMsg(subject)
	out.Data = msg.Data
	for k, vs := range msg.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	out.Header.Set(RetryHeader, strconv.Itoa(retries))
	return out
}
