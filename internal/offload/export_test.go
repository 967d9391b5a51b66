package offload

import "time"

func (p *Pool) SetExecHook(fn func(Request)) { p.execHook = fn }

func (p *Pool) SetGrace(d time.Duration) { p.grace = d }

func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Pool) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
