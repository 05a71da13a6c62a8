package bridge

import (
	"context"
	"sync"

	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/types"
)

// lifetime tracks how many local proxies hold each ffid and frees a remote
// object when the last one is released.
//
// Releases arrive from Proxy.Close and from GC cleanups. Both only touch the
// table and enqueue; the free round trip happens on the run goroutine.
type lifetime struct {
	corr      *Correlator
	logger    *log.Logger
	collector *metrics.Collector

	mu   sync.Mutex
	refs map[int64]int

	frees *queue[int64]
	done  chan struct{}
}

func newLifetime(corr *Correlator, logger *log.Logger, collector *metrics.Collector) *lifetime {
	return &lifetime{
		corr:      corr,
		logger:    logger,
		collector: collector,
		refs:      make(map[int64]int),
		frees:     newQueue[int64](),
		done:      make(chan struct{}),
	}
}

func (l *lifetime) acquire(ffid int64) {
	if ffid == types.RootFFID {
		return
	}
	l.mu.Lock()
	l.refs[ffid]++
	l.mu.Unlock()
}

// release drops one reference. It must not block: it runs on the runtime's
// cleanup goroutine.
func (l *lifetime) release(ffid int64) {
	if ffid == types.RootFFID {
		return
	}

	l.mu.Lock()
	n := l.refs[ffid] - 1
	if n > 0 {
		l.refs[ffid] = n
		l.mu.Unlock()
		return
	}
	delete(l.refs, ffid)
	l.mu.Unlock()

	if !l.frees.Enqueue(ffid) {
		l.logger.Debug("free dropped after close", map[string]any{"ffid": ffid})
	}
}

// references returns the number of live local proxies for ffid.
func (l *lifetime) references(ffid int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs[ffid]
}

func (l *lifetime) run() {
	defer close(l.done)
	for {
		ffid, ok := l.frees.Dequeue()
		if !ok {
			return
		}
		l.free(ffid)
	}
}

// free is fire-and-forget. The correlator short-circuits when the channel is
// down; any other failure is logged and discarded.
func (l *lifetime) free(ffid int64) {
	if _, err := l.corr.Send(context.Background(), types.ActionFree, ffid, ""); err != nil {
		l.logger.Debug("free failed", map[string]any{"ffid": ffid, "error": err.Error()})
	}
}

// close stops accepting releases and waits for queued frees to finish.
func (l *lifetime) close() {
	l.frees.Close()
	<-l.done
}
