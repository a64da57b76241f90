package app

import (
	"sync"
	"time"
)

// WaitMessages rotate while a submission is in flight.
var WaitMessages = []string{
	"Verificando disponibilidade...",
	"Escolhendo setor...",
	"Encontrando lugares...",
	"Gerando QR Code...",
	"Finalizando reserva...",
}

// WaitRotator advances through WaitMessages on a ticker until stopped.
type WaitRotator struct {
	mu   sync.Mutex
	idx  int
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// DefaultWaitMessageEvery is used when no rotation interval is configured.
const DefaultWaitMessageEvery = 1300 * time.Millisecond

func StartWaitRotator(every time.Duration) *WaitRotator {
	if every <= 0 {
		every = DefaultWaitMessageEvery
	}
	r := &WaitRotator{stop: make(chan struct{}), done: make(chan struct{})}
	go r.loop(every)
	return r
}

func (r *WaitRotator) loop(every time.Duration) {
	defer close(r.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.mu.Lock()
			r.idx = (r.idx + 1) % len(WaitMessages)
			r.mu.Unlock()
		}
	}
}

func (r *WaitRotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WaitMessages[r.idx]
}

// Stop tears the ticker down and waits for it. Safe to call twice.
func (r *WaitRotator) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}
