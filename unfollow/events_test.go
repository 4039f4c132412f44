package unfollow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeAndCancel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()

	bus.Publish(Event{Type: EventStatusUpdate, Status: StatusReady})

	ev := <-ch
	assert.Equal(t, EventStatusUpdate, ev.Type)
	assert.Equal(t, StatusReady, ev.Status)

	cancel()
	_, open := <-ch
	assert.False(t, open, "取消订阅后通道应当关闭")

	// 取消是幂等的
	cancel()
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	// 没有订阅者时发布不能阻塞也不能 panic
	for i := 0; i < 1000; i++ {
		bus.Publish(Event{Type: EventStatusUpdate})
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// 订阅者不读，发布量远超缓冲：多出的事件直接丢弃
	for i := 0; i < 500; i++ {
		bus.Publish(Event{Type: EventUserProcessed, SessionCount: i})
	}

	// 缓冲内的事件按序送达
	first := <-ch
	assert.Equal(t, 0, first.SessionCount)
	assert.LessOrEqual(t, len(ch), 64)
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(Event{Type: EventTestComplete})

	ev1 := <-ch1
	ev2 := <-ch2
	require.Equal(t, EventTestComplete, ev1.Type)
	require.Equal(t, EventTestComplete, ev2.Type)

	// 取消一个订阅不影响另一个
	cancel1()
	bus.Publish(Event{Type: EventRateLimitHit})
	ev2 = <-ch2
	assert.Equal(t, EventRateLimitHit, ev2.Type)
}
