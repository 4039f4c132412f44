package unfollow

import (
	"sync"
	"time"
)

// 事件类型。与扩展时代的消息类型一一对应。
const (
	EventStatusUpdate  = "STATUS_UPDATE"
	EventTestComplete  = "TEST_COMPLETE"
	EventRateLimitHit  = "RATE_LIMIT_HIT"
	EventUserProcessed = "USER_PROCESSED"
)

// Event 核心向 UI 侧发出的事件。fire-and-forget，至多一次送达，
// 没有订阅者在听就丢弃。
type Event struct {
	Type string `json:"type"`

	// 状态快照，STATUS_UPDATE 必带
	Status          string `json:"status,omitempty"`
	SessionCount    int    `json:"sessionCount"`
	TotalUnfollowed int    `json:"totalUnfollowed"`
	TestMode        bool   `json:"testMode"`
	TestComplete    bool   `json:"testComplete"`
	RunID           string `json:"runId,omitempty"`

	// USER_PROCESSED 负载
	Username  string     `json:"username,omitempty"`
	Action    string     `json:"action,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// RATE_LIMIT_HIT / rate_limit 状态负载
	Until            *time.Time `json:"until,omitempty"`
	RemainingMinutes int        `json:"remainingMinutes,omitempty"`

	// scanning 状态负载
	Found     int `json:"found,omitempty"`
	QueueSize int `json:"queueSize,omitempty"`

	// 补充说明文本
	Message string `json:"message,omitempty"`

	DryRun bool `json:"dryRun,omitempty"`
}

// Bus 事件总线。Publish 对每个订阅者都是非阻塞的：
// 订阅者的缓冲满了就丢事件，绝不反压主循环。
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus 创建事件总线。
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 订阅事件流，返回只读通道和取消函数。
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish 广播一个事件。
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者处理不过来，丢弃
		}
	}
}
