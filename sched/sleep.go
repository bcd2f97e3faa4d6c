package sched

import "time"

// Sleep suspends cur for at least d, the realization of spec.md §5's
// "sleeps are absolute-time alarms": a dedicated condition plus a one-shot
// timer that broadcasts it, rather than a busy-wait. d <= 0 degrades to a
// plain Yield.
func (s *Scheduler) Sleep(cur *Thread, d time.Duration) {
	if d <= 0 {
		s.Yield(cur)
		return
	}
	c := NewCondition("sleep")
	time.AfterFunc(d, func() { s.Broadcast(c) })
	s.Wait(cur, c)
}
