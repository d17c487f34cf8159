package scheduler

import "sync"

// bookLocks hands out one mutex per book. Every allocation-affecting
// operation takes the book's mutex before opening its transaction, so two
// concurrent attempts for the same book serialize and the second observes
// the post-state of the first.
type bookLocks struct {
	mu    sync.Mutex
	books map[int64]*sync.Mutex
}

func newBookLocks() *bookLocks {
	return &bookLocks{books: make(map[int64]*sync.Mutex)}
}

// get returns the mutex for a book, creating it on first use. Entries are
// never evicted.
func (b *bookLocks) get(bookID int64) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.books[bookID]
	if !ok {
		m = &sync.Mutex{}
		b.books[bookID] = m
	}
	return m
}
