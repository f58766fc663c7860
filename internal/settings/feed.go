package settings

import (
	"bytes"
	"context"
	"sync"
)

// feedBuffer is the per-subscriber queue depth. A subscriber that falls this
// far behind misses changes; every consumer re-reads the full snapshot anyway.
const feedBuffer = 16

// feed fans raw value changes out to subscribers.
type feed struct {
	mu     sync.Mutex
	subs   map[chan map[string][]byte]struct{}
	closed bool
}

func (f *feed) subscribe(ctx context.Context) <-chan map[string][]byte {
	ch := make(chan map[string][]byte, feedBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	if f.subs == nil {
		f.subs = make(map[chan map[string][]byte]struct{})
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}()
	return ch
}

func (f *feed) publish(values map[string][]byte) {
	if len(values) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- copyValues(values):
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// diffValues returns the entries of next that are new or differ from prev.
func diffValues(prev, next map[string][]byte) map[string][]byte {
	out := make(map[string][]byte)
	for k, v := range next {
		if old, ok := prev[k]; !ok || !bytes.Equal(old, v) {
			out[k] = v
		}
	}
	return out
}

func copyValues(in map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func mergeValues(dst, src map[string][]byte) {
	for k, v := range src {
		dst[k] = append([]byte(nil), v...)
	}
}

func pick(values map[string][]byte, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := values[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}
