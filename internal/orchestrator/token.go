package orchestrator

import "sync"

// runToken is the single-slot permit every pipeline run must hold. Holding it
// is what "processing" means.
type runToken struct {
	slot chan struct{}
}

func newRunToken() *runToken {
	return &runToken{slot: make(chan struct{}, 1)}
}

// tryAcquire takes the permit without blocking. The returned release func is
// safe to call more than once; only the first call frees the slot.
func (t *runToken) tryAcquire() (func(), bool) {
	select {
	case t.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-t.slot })
		}, true
	default:
		return nil, false
	}
}

func (t *runToken) held() bool {
	return len(t.slot) == 1
}
