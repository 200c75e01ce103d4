package scanner

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scheduler", func() {
	var sched *Scheduler

	BeforeEach(func() {
		sched = NewScheduler(discardLogger())
		DeferCleanup(sched.Close)
	})

	It("fires after the delay", func() {
		var fired atomic.Bool
		sched.Schedule(20*time.Millisecond, func() { fired.Store(true) })
		Expect(sched.Pending()).To(Equal(1))
		Eventually(fired.Load).Should(BeTrue())
		Eventually(sched.Pending).Should(BeZero())
	})

	It("does not fire a stopped timer", func() {
		var fired atomic.Bool
		tm := sched.Schedule(20*time.Millisecond, func() { fired.Store(true) })
		Expect(tm.Stop()).To(BeTrue())
		Expect(tm.Stop()).To(BeFalse())
		Consistently(fired.Load, 80*time.Millisecond).Should(BeFalse())
		Expect(sched.Pending()).To(BeZero())
	})

	It("keeps running after a callback panics", func() {
		var fired atomic.Bool
		sched.Schedule(time.Millisecond, func() { panic("boom") })
		sched.Schedule(10*time.Millisecond, func() { fired.Store(true) })
		Eventually(fired.Load).Should(BeTrue())
	})

	It("runs callbacks one at a time", func() {
		var running, overlap atomic.Int32
		for i := 0; i < 5; i++ {
			sched.Schedule(time.Millisecond, func() {
				if running.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
			})
		}
		Eventually(sched.Pending).Should(BeZero())
		Eventually(running.Load).Should(BeZero())
		Expect(overlap.Load()).To(BeZero())
	})

	It("cancels pending timers on close", func() {
		var fired atomic.Bool
		sched.Schedule(30*time.Millisecond, func() { fired.Store(true) })
		sched.Close()
		sched.Close()

		Expect(sched.Pending()).To(BeZero())
		Consistently(fired.Load, 80*time.Millisecond).Should(BeFalse())

		tm := sched.Schedule(time.Millisecond, func() { fired.Store(true) })
		Expect(tm.Stop()).To(BeFalse())
		Consistently(fired.Load, 30*time.Millisecond).Should(BeFalse())
	})

	It("treats a nil timer as stopped", func() {
		var tm *Timer
		Expect(tm.Stop()).To(BeFalse())
	})
})
