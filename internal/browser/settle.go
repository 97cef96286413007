package browser

import "time"

// settleGate collapses mutation bursts into one extraction pass per settling
// window. Every observed change pushes the deadline out (timer reset on
// signal); the gate opens once the page has been quiet for a full window.
type settleGate struct {
	window    time.Duration
	lastCount int
	deadline  time.Time
	primed    bool
}

func newSettleGate(window time.Duration) *settleGate {
	return &settleGate{window: window}
}

// Observe samples the in-page mutation counter.
func (g *settleGate) Observe(count int, now time.Time) {
	if !g.primed {
		g.primed = true
		g.lastCount = count
		return
	}
	if count != g.lastCount {
		g.lastCount = count
		g.deadline = now.Add(g.window)
	}
}

// Ready reports whether a settling window has elapsed since the last mutation;
// it fires at most once per burst.
func (g *settleGate) Ready(now time.Time) bool {
	if g.deadline.IsZero() || now.Before(g.deadline) {
		return false
	}
	g.deadline = time.Time{}
	return true
}
