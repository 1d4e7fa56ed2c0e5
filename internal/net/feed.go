package net

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"longwalk/internal/telemetry"
)

// Conn is the part of a websocket connection the feed writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type FeedConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{QueueSize: 64, WriteTimeout: 5 * time.Second}
}

type envelope struct {
	Type    string `json:"type"`
	Time    int64  `json:"time"`
	Payload any    `json:"payload,omitempty"`
}

// FeedSnapshot reports feed health for diagnostics.
type FeedSnapshot struct {
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"sent"`
	Drops       uint64 `json:"drops"`
}

// Subscription is one connected observer. Messages are queued and written by
// a dedicated goroutine; a full queue drops the message.
type Subscription struct {
	feed      *Feed
	conn      Conn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(s.feed.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.feed.logger.Printf("feed write failed: %v", err)
				s.Close()
				return
			}
			s.feed.sent.Add(1)
		}
	}
}

// Close detaches the subscription and closes its connection.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.feed.remove(s)
		s.conn.Close()
	})
}

// Feed broadcasts JSON envelopes to every subscriber.
type Feed struct {
	cfg    FeedConfig
	logger telemetry.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	sent  atomic.Uint64
	drops atomic.Uint64
}

func NewFeed(cfg FeedConfig, logger telemetry.Logger) *Feed {
	def := DefaultFeedConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Feed{cfg: cfg, logger: logger, subs: make(map[*Subscription]struct{})}
}

func (f *Feed) Subscribe(conn Conn) *Subscription {
	sub := &Subscription{
		feed:  f,
		conn:  conn,
		queue: make(chan []byte, f.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	go sub.run()
	return sub
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

func (f *Feed) encode(kind string, payload any) ([]byte, bool) {
	data, err := json.Marshal(envelope{Type: kind, Time: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		f.logger.Printf("feed: encode %s: %v", kind, err)
		return nil, false
	}
	return data, true
}

// Broadcast queues kind/payload for every subscriber.
func (f *Feed) Broadcast(kind string, payload any) {
	data, ok := f.encode(kind, payload)
	if !ok {
		return
	}
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		if !sub.enqueue(data) {
			f.drops.Add(1)
		}
	}
}

// Send queues kind/payload for a single subscriber.
func (f *Feed) Send(sub *Subscription, kind string, payload any) bool {
	data, ok := f.encode(kind, payload)
	if !ok {
		return false
	}
	if !sub.enqueue(data) {
		f.drops.Add(1)
		return false
	}
	return true
}

func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	n := len(f.subs)
	f.mu.Unlock()
	return FeedSnapshot{Subscribers: n, Sent: f.sent.Load(), Drops: f.drops.Load()}
}

// Close disconnects every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
