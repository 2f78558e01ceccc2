package worker_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"buildrelay.app/relay/internal/notify"
	"buildrelay.app/relay/internal/queue"
	"buildrelay.app/relay/internal/worker"
)

const (
	stream    = "relay:notifications"
	dlqStream = "relay:notifications:dlq"
	group     = "relay-workers"
)

var _ = Describe("RedisReclaimer", func() {
	var (
		ctx       context.Context
		client    *redis.Client
		consumer  *queue.RedisConsumer
		producer  queue.Producer
		processor *fakeProcessor
		runs      atomic.Int32
	)

	newReclaimer := func(w *worker.Worker, minIdle time.Duration) *worker.RedisReclaimer {
		return worker.NewRedisReclaimer(client, worker.RedisReclaimerConfig{
			Stream:    stream,
			Group:     group,
			Consumer:  "w1-reclaimer",
			MinIdle:   minIdle,
			Interval:  time.Hour,
			BatchSize: 10,
		}, consumer, w.Handle)
	}

	// abandon delivers the newest entry to a consumer that never settles it.
	abandon := func() string {
		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: "crashed",
			Streams:  []string{stream, ">"},
			Count:    1,
		}).Result()
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(1))
		Expect(res[0].Messages).To(HaveLen(1))
		return res[0].Messages[0].ID
	}

	pendingCount := func() int64 {
		return client.XPending(ctx, stream, group).Val().Count
	}

	BeforeEach(func() {
		ctx = context.Background()
		mr, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)

		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)

		consumer, err = queue.NewRedisConsumer(client, queue.ConsumerConfig{
			Stream:      stream,
			Group:       group,
			Consumer:    "w1",
			DLQStream:   dlqStream,
			BatchSize:   4,
			Block:       10 * time.Millisecond,
			MaxAttempts: 3,
		})
		Expect(err).NotTo(HaveOccurred())

		producer = queue.NewRedisProducer(client, stream, nil)
		runs.Store(0)
		processor = &fakeProcessor{fn: func(notify.Event) (notify.Result, error) {
			runs.Add(1)
			return notify.Result{Outcome: notify.OutcomeDelivered}, nil
		}}
	})

	It("re-drives a message left pending by a consumer that died", func() {
		Expect(producer.Dispatch(ctx, notify.Event{JobName: "app/ci", BuildNumber: 42, Status: "SUCCESS", RequestID: "r1"})).To(Succeed())
		abandon()

		w := worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
		r := newReclaimer(w, 50*time.Millisecond)

		Eventually(func() int32 {
			Expect(r.ReclaimOnce(ctx)).To(Succeed())
			return runs.Load()
		}).Should(BeEquivalentTo(1))
		Expect(pendingCount()).To(BeZero())
	})

	It("moves an unreadable reclaimed entry to the DLQ", func() {
		Expect(client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{"job_name": "app/ci"},
		}).Err()).To(Succeed())
		abandon()

		w := worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
		r := newReclaimer(w, 50*time.Millisecond)

		Eventually(func() int64 {
			Expect(r.ReclaimOnce(ctx)).To(Succeed())
			return client.XLen(ctx, dlqStream).Val()
		}).Should(BeEquivalentTo(1))

		entries := client.XRange(ctx, dlqStream, "-", "+").Val()
		Expect(entries[0].Values).To(HaveKeyWithValue("error", ContainSubstring("build_number")))
		Expect(pendingCount()).To(BeZero())
		Expect(runs.Load()).To(BeZero())
	})

	It("skips a message another consumer claimed in the meantime", func() {
		Expect(producer.Dispatch(ctx, notify.Event{JobName: "app/ci", BuildNumber: 42, Status: "SUCCESS"})).To(Succeed())
		id := abandon()

		w := worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
		r := newReclaimer(w, time.Hour)

		Expect(r.ReclaimMessage(ctx, redis.XPendingExt{ID: id, Consumer: "crashed"})).To(Succeed())

		Expect(runs.Load()).To(BeZero())
		pending := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: group, Start: "-", End: "+", Count: 10,
		}).Val()
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].Consumer).To(Equal("crashed"))
	})

	It("leaves a slow upload to the worker that is still running it", func() {
		release := make(chan struct{})
		processor.fn = func(notify.Event) (notify.Result, error) {
			runs.Add(1)
			<-release
			return notify.Result{Outcome: notify.OutcomeDelivered}, nil
		}

		w := worker.New(consumer, processor, worker.Config{
			MaxAttempts:       3,
			HeartbeatInterval: 20 * time.Millisecond,
		})
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()
		DeferCleanup(func() {
			w.Stop()
			Eventually(done).Should(Receive())
		})

		r := newReclaimer(w, 100*time.Millisecond)

		Expect(producer.Dispatch(ctx, notify.Event{JobName: "app/ci", BuildNumber: 42, Status: "SUCCESS", RequestID: "r1"})).To(Succeed())
		Eventually(runs.Load).Should(BeEquivalentTo(1))

		Consistently(func() int32 {
			Expect(r.ReclaimOnce(ctx)).To(Succeed())
			return runs.Load()
		}, 400*time.Millisecond, 20*time.Millisecond).Should(BeEquivalentTo(1))

		close(release)
		Eventually(pendingCount).Should(BeZero())
		Expect(runs.Load()).To(BeEquivalentTo(1))
	})

	It("reclaims on each tick of its clock", func() {
		Expect(producer.Dispatch(ctx, notify.Event{JobName: "app/ci", BuildNumber: 42, Status: "SUCCESS"})).To(Succeed())
		abandon()

		clock := clockwork.NewFakeClock()
		w := worker.New(consumer, processor, worker.Config{MaxAttempts: 3})
		r := worker.NewRedisReclaimer(client, worker.RedisReclaimerConfig{
			Stream:   stream,
			Group:    group,
			Consumer: "w1-reclaimer",
			MinIdle:  20 * time.Millisecond,
			Interval: time.Minute,
			Clock:    clock,
		}, consumer, w.Handle)
		go r.Run(ctx)
		DeferCleanup(r.Stop)

		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(clock.BlockUntilContext(waitCtx, 1)).To(Succeed())
		Consistently(runs.Load, 50*time.Millisecond).Should(BeZero())

		Eventually(func() int32 {
			clock.Advance(time.Minute)
			return runs.Load()
		}).Should(BeEquivalentTo(1))
		Expect(pendingCount()).To(BeZero())
	})
})
