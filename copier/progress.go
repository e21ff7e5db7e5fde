package copier

// Percent converts copied/total bytes into an integer percentage clamped to 0..100.
// An empty total counts as complete.
func Percent(copied, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(copied * 100 / total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// tracker counts bytes as an io.Writer and reports only when the percentage moves.
type tracker struct {
	total  int64
	copied int64
	last   int
	report ProgressFunc
}

func newTracker(total int64, report ProgressFunc) *tracker {
	return &tracker{total: total, last: -1, report: report}
}

func (t *tracker) Write(p []byte) (int, error) {
	t.copied += int64(len(p))
	if t.total > 0 {
		t.emit(Percent(t.copied, t.total))
	}
	return len(p), nil
}

func (t *tracker) emit(percent int) {
	if percent == t.last {
		return
	}
	t.last = percent
	t.report(percent)
}

// finish guarantees exactly one terminal 100 even when nothing was copied.
func (t *tracker) finish() {
	t.emit(100)
}

// Detach wraps sink so the copier never blocks on it. Intermediate values may be
// dropped when the sink is slow, the latest value always survives. Call stop once
// the copy has returned; it waits until the sink has seen the last value.
func Detach(sink ProgressFunc) (report ProgressFunc, stop func()) {
	ch := make(chan int, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for p := range ch {
			sink(p)
		}
	}()

	report = func(p int) {
		for {
			select {
			case ch <- p:
				return
			default:
			}
			// drop the stale pending value and retry
			select {
			case <-ch:
			default:
			}
		}
	}

	stop = func() {
		close(ch)
		<-done
	}

	return report, stop
}
