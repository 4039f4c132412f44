package unfollow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpzouying/unfollow-radar/storage"
)

// fakePage 内存实现的 following 页面，单元测试用。
type fakePage struct {
	mu    sync.Mutex
	cells []Candidate

	unfollowed []string
	refollowed []string
	stale      map[string]bool

	// clickErrs 剩余的 ClickFollowing 注入错误，先进先出
	clickErrs []error
	// confirmMissing 确认弹层不出现
	confirmMissing bool

	pendingConfirm string
}

func newFakePage(cells ...Candidate) *fakePage {
	return &fakePage{cells: cells, stale: make(map[string]bool)}
}

func (p *fakePage) Candidates() ([]Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Candidate, 0, len(p.cells))
	for _, c := range p.cells {
		if !p.stale[c.Key] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *fakePage) CellCount() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cells), nil
}

func (p *fakePage) ScrollToBottom() error { return nil }

func (p *fakePage) Alive(c Candidate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stale[c.Key]
}

func (p *fakePage) ClickFollowing(c Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clickErrs) > 0 {
		err := p.clickErrs[0]
		p.clickErrs = p.clickErrs[1:]
		if err != nil {
			return err
		}
	}
	p.pendingConfirm = c.ID
	return nil
}

func (p *fakePage) ClickConfirmation() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmMissing || p.pendingConfirm == "" {
		return ErrControlNotFound
	}
	p.unfollowed = append(p.unfollowed, p.pendingConfirm)
	p.pendingConfirm = ""
	return nil
}

func (p *fakePage) Refollow(_ context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refollowed = append(p.refollowed, username)
	return nil
}

func (p *fakePage) unfollowedList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.unfollowed...)
}

func nonFollower(id string) Candidate {
	return Candidate{ID: id, Key: id, Text: "@" + id + " bio"}
}

// fastConfig 把所有节奏参数压到测试可接受的量级。
func fastConfig() Config {
	return Config{
		MinDelay:              time.Millisecond,
		MaxDelay:              2 * time.Millisecond,
		ScrollDelay:           time.Millisecond,
		ScrollDelayExtra:      time.Millisecond,
		ButtonClickMin:        time.Millisecond,
		ButtonClickMax:        2 * time.Millisecond,
		PauseCheckInterval:    2 * time.Millisecond,
		HumanPauseMin:         time.Millisecond,
		HumanPauseMax:         2 * time.Millisecond,
		RateLimitWait:         30 * time.Millisecond,
		HumanPauseProbability: -1, // 禁用随机超长停顿
		MaxEmptyScans:         2,
		MaxSameCountStreak:    1,
	}
}

func newTestEngine(t *testing.T, page FollowingPage, cfg Config) (*Engine, *storage.StateStore, <-chan Event) {
	t.Helper()
	store := storage.NewStateStore(storage.NewMemory())
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)
	return NewEngine(page, store, bus, NewMetrics(), cfg), store, ch
}

// waitForStatus 消费事件流直到出现指定状态。
func waitForStatus(t *testing.T, ch <-chan Event, status string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == EventStatusUpdate && ev.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("等待状态 %q 超时", status)
		}
	}
}

func waitForEventType(t *testing.T, ch <-chan Event, typ string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("等待事件 %q 超时", typ)
		}
	}
}

func TestEngineRunMixedList(t *testing.T) {
	page := newFakePage(
		nonFollower("alice"),
		Candidate{ID: "bob", Key: "bob", FollowsBack: true, Text: "@bob Follows you"},
		nonFollower("carol"),
		Candidate{ID: "dave", Key: "dave", Text: "@dave crypto signals daily"},
		nonFollower("eve"),
	)

	e, store, ch := newTestEngine(t, page, fastConfig())
	e.SetWhitelist(map[string]storage.WhitelistEntry{
		"carol": {AddedDate: time.Now()},
	})
	e.SetKeywords([]string{"crypto"})

	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusCompleted)

	// 只有 alice 和 eve 被取关，且保持文档顺序
	assert.Equal(t, []string{"alice", "eve"}, page.unfollowedList())

	snap := e.Status()
	assert.Equal(t, 2, snap.SessionCount)
	assert.Equal(t, 2, snap.TotalUnfollowed)
	assert.False(t, snap.Running)

	history, err := store.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "alice", history[0].Username)
	assert.Equal(t, ActionManual, history[0].Reason)

	// 撤销队列最新的在最后
	queue := e.UndoQueue()
	require.Len(t, queue, 2)
	assert.Equal(t, "eve", queue[1].Username)
}

func TestEngineSkipEvents(t *testing.T) {
	page := newFakePage(
		nonFollower("carol"),
		Candidate{ID: "dave", Key: "dave", Text: "@dave crypto signals daily"},
	)

	e, _, ch := newTestEngine(t, page, fastConfig())
	e.SetWhitelist(map[string]storage.WhitelistEntry{
		"carol": {AddedDate: time.Now()},
	})
	e.SetKeywords([]string{"CRYPTO"}) // 关键字匹配不区分大小写

	require.NoError(t, e.Start())

	actions := map[string]string{}
	deadline := time.After(5 * time.Second)
	for len(actions) < 2 {
		select {
		case ev := <-ch:
			if ev.Type == EventUserProcessed {
				actions[ev.Username] = ev.Action
			}
		case <-deadline:
			t.Fatal("等待跳过事件超时")
		}
	}

	assert.Equal(t, "skipped:whitelist", actions["carol"])
	assert.Equal(t, "skipped:keyword:CRYPTO", actions["dave"])
	assert.Empty(t, page.unfollowedList())
}

func TestEngineBatchCheckpoint(t *testing.T) {
	page := newFakePage(
		nonFollower("u1"), nonFollower("u2"), nonFollower("u3"),
		nonFollower("u4"), nonFollower("u5"),
	)

	cfg := fastConfig()
	cfg.BatchSize = 2
	e, _, ch := newTestEngine(t, page, cfg)

	require.NoError(t, e.Start())

	waitForEventType(t, ch, EventTestComplete)
	waitForStatus(t, ch, StatusTestComplete)

	// 恰好在第一批后挂起
	assert.Equal(t, []string{"u1", "u2"}, page.unfollowedList())
	assert.True(t, e.Status().Paused)

	// 确认后继续处理剩余队列
	e.ContinueBatch()
	waitForStatus(t, ch, StatusCompleted)

	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, page.unfollowedList())
	assert.True(t, e.Status().TestComplete)
}

func TestEngineSessionCeiling(t *testing.T) {
	cells := make([]Candidate, 0, 5)
	for i := 1; i <= 5; i++ {
		cells = append(cells, nonFollower(fmt.Sprintf("u%d", i)))
	}
	page := newFakePage(cells...)

	cfg := fastConfig()
	cfg.MaxSession = 3
	// BatchSize 与硬上限重合时硬上限优先
	cfg.BatchSize = 3
	e, store, ch := newTestEngine(t, page, cfg)

	require.NoError(t, e.Start())
	ev := waitForStatus(t, ch, StatusLimitReached)

	assert.Equal(t, 3, ev.SessionCount)
	assert.Len(t, page.unfollowedList(), 3)
	assert.False(t, e.Status().Running)

	// 上限状态已持久化，重启后仍然生效
	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Session.SessionCount)
}

func TestEngineStartIdempotent(t *testing.T) {
	cells := make([]Candidate, 0, 30)
	for i := 0; i < 30; i++ {
		cells = append(cells, nonFollower(fmt.Sprintf("u%d", i)))
	}
	page := newFakePage(cells...)
	e, _, ch := newTestEngine(t, page, fastConfig())

	require.NoError(t, e.Start())
	firstRun := e.Status().RunID

	// 运行中的重复 START 是空操作
	require.NoError(t, e.Start())
	assert.Equal(t, firstRun, e.Status().RunID)

	e.Stop()
	waitForStatus(t, ch, StatusStopped)
}

func TestEngineStartWithoutPage(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, fastConfig())
	assert.Error(t, e.Start())
}

func TestEngineStopIsManual(t *testing.T) {
	cells := make([]Candidate, 0, 50)
	for i := 0; i < 50; i++ {
		cells = append(cells, nonFollower(fmt.Sprintf("u%d", i)))
	}
	page := newFakePage(cells...)

	e, _, ch := newTestEngine(t, page, fastConfig())
	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusStarted)

	e.Stop()
	waitForStatus(t, ch, StatusStopped)

	snap := e.Status()
	assert.False(t, snap.Paused)

	// STOP 不会自动恢复，停留在停止状态
	time.Sleep(20 * time.Millisecond)
	done := len(page.unfollowedList())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, done, len(page.unfollowedList()))
	assert.Less(t, done, 50)
}

func TestEngineStaleCellSkipped(t *testing.T) {
	page := newFakePage(nonFollower("alice"), nonFollower("bob"))
	e, _, ch := newTestEngine(t, page, fastConfig())

	// alice 在入队后失效
	page.mu.Lock()
	page.stale["alice"] = true
	page.mu.Unlock()

	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusCompleted)

	assert.Equal(t, []string{"bob"}, page.unfollowedList())
}

func TestEngineConfirmationMissing(t *testing.T) {
	page := newFakePage(nonFollower("alice"))
	page.confirmMissing = true

	e, store, ch := newTestEngine(t, page, fastConfig())
	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusCompleted)

	// 确认弹层未出现：不改动任何计数，不写历史
	snap := e.Status()
	assert.Equal(t, 0, snap.SessionCount)
	assert.Equal(t, 0, snap.TotalUnfollowed)

	history, err := store.History()
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEngineDryRun(t *testing.T) {
	page := newFakePage(nonFollower("alice"), nonFollower("bob"))
	e, store, ch := newTestEngine(t, page, fastConfig())
	e.SetDryRun(true)

	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusCompleted)

	// 页面没有任何点击动作
	assert.Empty(t, page.unfollowedList())

	// 会话计数走，总量不走
	snap := e.Status()
	assert.Equal(t, 2, snap.SessionCount)
	assert.Equal(t, 0, snap.TotalUnfollowed)

	// 演练不产生历史与撤销队列，但计入按天统计
	history, err := store.History()
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, e.UndoQueue())

	stats, err := store.DailyStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats[time.Now().Format("2006-01-02")].Unfollowed)
}

func TestEngineReset(t *testing.T) {
	page := newFakePage(nonFollower("alice"), nonFollower("bob"))
	e, store, ch := newTestEngine(t, page, fastConfig())

	require.NoError(t, e.Start())
	waitForStatus(t, ch, StatusCompleted)
	require.Equal(t, 2, e.Status().SessionCount)
	require.Len(t, e.UndoQueue(), 2)

	e.Reset()
	waitForStatus(t, ch, StatusReady)

	snap := e.Status()
	assert.Equal(t, 0, snap.SessionCount)
	assert.Equal(t, 0, snap.TotalUnfollowed)
	assert.True(t, snap.TestMode)
	assert.False(t, snap.TestComplete)
	assert.Empty(t, e.UndoQueue())

	// 归零后的状态要落盘，重启进程不能带回旧计数
	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Session.SessionCount)
	assert.Equal(t, 0, st.Session.TotalUnfollowed)
	assert.Empty(t, st.UndoQueue)
}

func TestScanClassification(t *testing.T) {
	page := newFakePage(
		nonFollower("alice"),
		Candidate{ID: "bob", Key: "bob", FollowsBack: true, Text: "@bob Follows you"},
		nonFollower("carol"),
	)
	e, _, ch := newTestEngine(t, page, fastConfig())

	found, err := e.scan()
	require.NoError(t, err)

	// 回关的 bob 被丢弃：既不入队也不产生跳过事件
	assert.Equal(t, 2, found)
	assert.Equal(t, 2, e.queueLen())

	ev := waitForStatus(t, ch, StatusScanning)
	assert.Equal(t, 2, ev.Found)
	assert.Equal(t, 2, ev.QueueSize)
}

func TestScanUnknownCellDedup(t *testing.T) {
	page := newFakePage(
		Candidate{ID: UnknownUser, Key: "unknown#cell-1", Text: "broken cell one"},
		Candidate{ID: UnknownUser, Key: "unknown#cell-2", Text: "broken cell two"},
	)
	e, _, _ := newTestEngine(t, page, fastConfig())

	found, err := e.scan()
	require.NoError(t, err)
	// 两个异常单元格彼此独立，都会入队
	assert.Equal(t, 2, found)

	// 重复扫描不会再次入队
	found, err = e.scan()
	require.NoError(t, err)
	assert.Equal(t, 0, found)
	assert.Equal(t, 2, e.queueLen())
}

func TestRandomDuration(t *testing.T) {
	tests := []struct {
		name string
		min  time.Duration
		max  time.Duration
	}{
		{name: "正常区间", min: 2 * time.Second, max: 5 * time.Second},
		{name: "区间收缩为点", min: time.Second, max: time.Second},
		{name: "max 小于 min", min: 3 * time.Second, max: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				d := randomDuration(tt.min, tt.max)
				assert.GreaterOrEqual(t, d, min(tt.min, tt.max))
				if tt.max > tt.min {
					assert.LessOrEqual(t, d, tt.max)
				}
			}
		})
	}
}

func TestRemainingMinutes(t *testing.T) {
	assert.Equal(t, 15, remainingMinutes(15*time.Minute))
	assert.Equal(t, 15, remainingMinutes(14*time.Minute+time.Second))
	assert.Equal(t, 0, remainingMinutes(0))
	assert.Equal(t, 0, remainingMinutes(-time.Minute))
}
