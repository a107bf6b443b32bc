package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// Flash holds the latest transient notification.
type Flash struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
	watchCh chan FlashMessage
}

// NewFlash creates an empty flash model.
func NewFlash() *Flash {
	return &Flash{now: time.Now, watchCh: make(chan FlashMessage, 8)}
}

func (f *Flash) Info(msg string) { f.Set(msg, FlashInfo, 5*time.Second) }

func (f *Flash) Warn(msg string) { f.Set(msg, FlashWarn, 8*time.Second) }

func (f *Flash) Err(err error) { f.Set(err.Error(), FlashErr, 10*time.Second) }

// Set stores a message that expires after d.
func (f *Flash) Set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	fm := FlashMessage{Text: msg, Level: level, Expires: f.now().Add(d)}
	f.current = fm
	f.mu.Unlock()
	select {
	case f.watchCh <- fm:
	default:
	}
}

// Current returns the live message, or nil once it expired.
func (f *Flash) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch delivers every message as it is set.
func (f *Flash) Watch() <-chan FlashMessage {
	return f.watchCh
}
