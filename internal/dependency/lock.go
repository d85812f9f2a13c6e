package dependency

import "sync"

// rwLock is a read/write lock that knows which goroutine holds it. The
// write holder may take the read lock and call lockIfNotHeld again without
// deadlocking, and a goroutine may take the read lock more than once.
type rwLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	writer  int64
	writes  int
	readers map[int64]int
}

func newRWLock() *rwLock {
	l := &rwLock{readers: map[int64]int{}}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// lock takes the write lock. It waits for readers on other goroutines.
func (l *rwLock) lock() {
	g := goid()
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.writable(g) {
		l.cond.Wait()
	}
	l.writer = g
	l.writes++
}

func (l *rwLock) writable(g int64) bool {
	if l.writer == g {
		return true
	}
	if l.writer != 0 {
		return false
	}
	for id := range l.readers {
		if id != g {
			return false
		}
	}
	return true
}

// lockIfNotHeld takes the write lock unless the current goroutine already
// holds it, and reports whether it did.
func (l *rwLock) lockIfNotHeld() bool {
	if l.heldByCurrent() {
		return false
	}
	l.lock()
	return true
}

// unlock releases one write hold.
func (l *rwLock) unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writes == 0 {
		panic("dependency: unlock of unlocked lock")
	}
	l.writes--
	if l.writes == 0 {
		l.writer = 0
		l.cond.Broadcast()
	}
}

// unlockIfHeld releases the write lock entirely if the current goroutine
// holds it.
func (l *rwLock) unlockIfHeld() {
	g := goid()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != g {
		return
	}
	l.writes = 0
	l.writer = 0
	l.cond.Broadcast()
}

func (l *rwLock) heldByCurrent() bool {
	g := goid()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer == g
}

func (l *rwLock) rlock() {
	g := goid()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.writer != 0 && l.writer != g {
		l.cond.Wait()
	}
	l.readers[g]++
}

func (l *rwLock) runlock() {
	g := goid()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers[g]--; l.readers[g] <= 0 {
		delete(l.readers, g)
		l.cond.Broadcast()
	}
}
