package dependency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRWLockIsReentrantForWriter(t *testing.T) {
	l := newRWLock()
	l.lock()
	l.lock()
	assert.False(t, l.lockIfNotHeld())
	l.rlock()
	l.runlock()
	assert.True(t, l.heldByCurrent())

	l.unlock()
	assert.True(t, l.heldByCurrent())
	l.unlock()
	assert.False(t, l.heldByCurrent())
}

func TestRWLockUnlockIfHeldReleasesEveryHold(t *testing.T) {
	l := newRWLock()
	assert.True(t, l.lockIfNotHeld())
	l.lock()
	l.unlockIfHeld()
	assert.False(t, l.heldByCurrent())

	acquired := make(chan struct{})
	go func() {
		l.lock()
		defer l.unlock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock still held after unlockIfHeld")
	}
}

func TestRWLockWriterWaitsForReaders(t *testing.T) {
	l := newRWLock()
	l.rlock()

	acquired := make(chan struct{})
	go func() {
		l.lock()
		close(acquired)
		l.unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while a reader held it")
	case <-time.After(20 * time.Millisecond):
	}

	l.runlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock")
	}
}

func TestRWLockUnlockWithoutLockPanics(t *testing.T) {
	assert.Panics(t, func() { newRWLock().unlock() })
}
