package natsutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/vanfleet/pkg/natsutil"
	"github.com/WessleyAI/vanfleet/pkg/natsutil/natstest"
)

type event struct {
	Key      string `json:"key"`
	Severity int    `json:"severity"`
}

func TestPublishSubscribe(t *testing.T) {
	nc := natstest.Run(t)
	got := make(chan event, 1)
	bad := make(chan error, 1)
	sub, err := natsutil.Subscribe(nc, "fleet.test", func(_ context.Context, e event) { got <- e },
		func(_ *nats.Msg, err error) { bad <- err })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := natsutil.Publish(context.Background(), nc, "fleet.test", event{Key: "van_01", Severity: 2}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-got:
		if e.Key != "van_01" || e.Severity != 2 {
			t.Fatalf("got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := nc.Publish("fleet.test", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-bad:
		if err == nil {
			t.Fatal("expected decode error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed message not reported")
	}
}

func TestHandleQueueGroup(t *testing.T) {
	nc := natstest.Run(t)
	count := make(chan struct{}, 10)
	for range 2 {
		sub, err := natsutil.Handle(nc, "fleet.q", "workers", func(context.Context, *nats.Msg) { count <- struct{}{} })
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Unsubscribe()
	}
	if err := nc.Publish("fleet.q", []byte("x")); err != nil {
		t.Fatal(err)
	}
	nc.Flush()
	<-count
	select {
	case <-count:
		t.Fatal("queue group delivered twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRetryCountAndRedelivery(t *testing.T) {
	msg := &nats.Msg{Subject: "fleet.image", Data: []byte("{}")}
	if natsutil.RetryCount(msg) != 0 {
		t.Fatal("missing header must read as 0")
	}
	msg.Header = nats.Header{}
	msg.Header.Set(natsutil.RetryHeader, "abc")
	msg.Header.Set("traceparent", "00-1-2-01")
	if natsutil.RetryCount(msg) != 0 {
		t.Fatal("malformed header must read as 0")
	}

	re := natsutil.Redelivery(msg, "fleet.image", 2)
	if natsutil.RetryCount(re) != 2 || re.Subject != "fleet.image" || string(re.Data) != "{}" {
		t.Fatalf("redelivery = %+v", re)
	}
	if re.Header.Get("traceparent") != "00-1-2-01" {
		t.Fatal("headers must be carried over")
	}
	if natsutil.RetryCount(msg) != 0 {
		t.Fatal("original must be untouched")
	}
}

func TestDecode(t *testing.T) {
	e, err := natsutil.Decode[event](&nats.Msg{Data: []byte(`{"key":"van_02","severity":1}`)})
	if err != nil || e.Key != "van_02" {
		t.Fatalf("Decode = %+v, %v", e, err)
	}
	if _, err := natsutil.Decode[event](&nats.Msg{Subject: "s", Data: []byte("nope")}); err == nil {
		t.Fatal("expected error")
	}
}
