package timeout_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/timeout"
)

type edit struct {
	ChatID    int64
	MessageID int
	Text      chat.Text
}

type fakeEditor struct {
	mu    sync.Mutex
	edits []edit
	err   error
}

func (f *fakeEditor) Edit(_ context.Context, chatID int64, messageID int, msg chat.Text) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit{ChatID: chatID, MessageID: messageID, Text: msg})
	return f.err
}

func (f *fakeEditor) Edits() []edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]edit(nil), f.edits...)
}

type fakeListener struct {
	mu      sync.Mutex
	expired []timeout.Entry
}

func (f *fakeListener) PromptExpired(_ context.Context, e timeout.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, e)
}

func (f *fakeListener) Expired() []timeout.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]timeout.Entry(nil), f.expired...)
}

var _ = Describe("Registry", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		clock    *clockwork.FakeClock
		editor   *fakeEditor
		listener *fakeListener
		reg      *timeout.Registry
		key      timeout.Key
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		clock = clockwork.NewFakeClock()
		editor = &fakeEditor{}
		listener = &fakeListener{}
		reg = timeout.New(editor, timeout.Config{SweepInterval: 30 * time.Second, Clock: clock})
		reg.SetListener(listener)
		go reg.Run(ctx)
		key = timeout.Key{ChatID: -100, MessageID: 7}
	})

	AfterEach(func() {
		reg.Stop()
		cancel()
	})

	It("edits and evicts an expired prompt, then does no further I/O", func() {
		reg.Register(key, timeout.KindSetup, 300*time.Second)

		Expect(reg.Sweep(ctx, clock.Now().Add(301*time.Second))).To(Equal(1))

		edits := editor.Edits()
		Expect(edits).To(HaveLen(1))
		Expect(edits[0].ChatID).To(Equal(int64(-100)))
		Expect(edits[0].MessageID).To(Equal(7))
		Expect(edits[0].Text.Body).To(ContainSubstring("Setup timed out due to inactivity"))
		Expect(edits[0].Text.Keyboard).To(BeNil())
		Expect(reg.Len()).To(BeZero())
		Expect(listener.Expired()).To(HaveLen(1))

		Expect(reg.Sweep(ctx, clock.Now().Add(time.Hour))).To(BeZero())
		Expect(editor.Edits()).To(HaveLen(1))
	})

	It("leaves entries that have not reached their deadline", func() {
		reg.Register(key, timeout.KindBuild, 600*time.Second)

		Expect(reg.Sweep(ctx, clock.Now().Add(599*time.Second))).To(BeZero())
		Expect(editor.Edits()).To(BeEmpty())
		Expect(reg.Len()).To(Equal(1))
	})

	It("evicts even when the edit fails", func() {
		editor.err = errors.New("message to edit not found")
		reg.Register(key, timeout.KindBuild, time.Second)

		Expect(reg.Sweep(ctx, clock.Now().Add(2*time.Second))).To(Equal(1))
		Expect(reg.Len()).To(BeZero())
		Expect(listener.Expired()).To(HaveLen(1))
	})

	It("lets exactly one of unregister and sweep win", func() {
		reg.Register(key, timeout.KindSetup, time.Second)

		Expect(reg.Sweep(ctx, clock.Now().Add(2*time.Second))).To(Equal(1))
		Expect(reg.Unregister(key)).To(BeFalse())

		reg.Register(key, timeout.KindSetup, time.Second)
		Expect(reg.Unregister(key)).To(BeTrue())
		Expect(reg.Sweep(ctx, clock.Now().Add(2*time.Second))).To(BeZero())
		Expect(editor.Edits()).To(HaveLen(1))
	})

	It("refreshes only live entries", func() {
		Expect(reg.Touch(key, time.Minute)).To(BeFalse())

		reg.Register(key, timeout.KindBuild, 10*time.Second)
		Expect(reg.Touch(key, 10*time.Minute)).To(BeTrue())

		Expect(reg.Sweep(ctx, clock.Now().Add(time.Minute))).To(BeZero())
		e, ok := reg.Get(key)
		Expect(ok).To(BeTrue())
		Expect(e.Deadline).To(Equal(clock.Now().Add(10 * time.Minute)))
	})

	It("stops the sweep when empty and restarts it on register", func() {
		Expect(reg.Active()).To(BeFalse())

		reg.Register(key, timeout.KindSetup, time.Minute)
		Expect(reg.Active()).To(BeTrue())

		Expect(reg.Unregister(key)).To(BeTrue())
		Expect(reg.Active()).To(BeFalse())

		reg.Register(key, timeout.KindSetup, time.Minute)
		Expect(reg.Active()).To(BeTrue())
	})

	It("sweeps on the ticker", func() {
		reg.Register(key, timeout.KindBuild, 10*time.Second)

		clock.Advance(30 * time.Second)

		Eventually(editor.Edits).Should(HaveLen(1))
		Eventually(reg.Active).Should(BeFalse())
		Expect(listener.Expired()).To(ConsistOf(HaveField("Key", key)))
	})

	It("handles concurrent completions and sweeps without double edits", func() {
		keys := make([]timeout.Key, 50)
		for i := range keys {
			keys[i] = timeout.Key{ChatID: 1, MessageID: i}
			reg.Register(keys[i], timeout.KindBuild, time.Second)
		}

		var (
			wg   sync.WaitGroup
			wins int
			mu   sync.Mutex
		)
		for _, k := range keys {
			wg.Add(1)
			go func(k timeout.Key) {
				defer wg.Done()
				defer GinkgoRecover()
				if reg.Unregister(k) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(k)
		}
		swept := reg.Sweep(ctx, clock.Now().Add(2*time.Second))
		wg.Wait()

		Expect(wins + swept).To(Equal(len(keys)))
		Expect(editor.Edits()).To(HaveLen(swept))
		Expect(reg.Len()).To(BeZero())
	})
})
