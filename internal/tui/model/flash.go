package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashErr
)

// Flash holds transient notification messages.
type Flash struct {
	mu      sync.RWMutex
	message string
	level   FlashLevel
	expires time.Time
}

// Info stores an informational message for a few seconds.
func (f *Flash) Info(msg string) {
	f.set(msg, FlashInfo, 3*time.Second)
}

// Err stores an error message; it stays up longer than Info.
func (f *Flash) Err(msg string) {
	f.set(msg, FlashErr, 8*time.Second)
}

func (f *Flash) set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.level = level
	f.expires = time.Now().Add(d)
}

// Get returns the current flash message, or empty if expired.
func (f *Flash) Get() (string, FlashLevel) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return "", FlashInfo
	}
	return f.message, f.level
}
