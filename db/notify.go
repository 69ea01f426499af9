package db

import (
	"sync"
)

// ChangeNotice notification that a committed transaction touched tables
//
// Notices are published after the corresponding transaction commits, and
// carry a strictly increasing sequence number matching commit order.
type ChangeNotice struct {
	// Seq commit sequence number
	Seq uint64
	// Tables names of the tables touched by the transaction
	Tables []string
}

// Touched whether the notice covers a given table
func (n ChangeNotice) Touched(table string) bool {
	for _, t := range n.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// changeBus fan-out of post-commit change notices
//
// Each subscriber owns a buffered channel; when a slow subscriber's buffer
// fills, the oldest pending notice is dropped so publishers never block.
type changeBus struct {
	lock   sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]chan ChangeNotice
}

const changeBusSubscriberBuffer = 16

func newChangeBus() *changeBus {
	return &changeBus{subs: make(map[int]chan ChangeNotice)}
}

// subscribe register a new subscriber. The returned cancel function is
// idempotent and closes the subscriber channel.
func (b *changeBus) subscribe() (<-chan ChangeNotice, func()) {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ChangeNotice, changeBusSubscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.lock.Lock()
			defer b.lock.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}

	return ch, cancel
}

// publish deliver a notice for the given tables to all subscribers
func (b *changeBus) publish(tables []string) {
	if len(tables) == 0 {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.seq++
	notice := ChangeNotice{Seq: b.seq, Tables: tables}

	for _, sub := range b.subs {
		for {
			select {
			case sub <- notice:
			default:
				// Buffer full. Drop the oldest pending notice and retry.
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}

// close shut down all subscriber channels
func (b *changeBus) close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
