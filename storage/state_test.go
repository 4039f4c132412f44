package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可拨动的时钟。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestStateStoreFirstRunDefaults(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	s := NewStateStore(NewMemory(), WithClock(clock.Now))

	st, err := s.Load()
	require.NoError(t, err)

	// 首次运行：批次确认策略默认开启，窗口从现在开始
	assert.True(t, st.Session.TestMode)
	assert.False(t, st.Session.TestComplete)
	assert.Equal(t, 0, st.Session.SessionCount)
	assert.Equal(t, clock.now, st.Session.SessionStart)
	assert.NotNil(t, st.Whitelist)

	// 统计与历史字段已初始化为空形状
	stats, err := s.DailyStats()
	require.NoError(t, err)
	assert.Empty(t, stats)
	history, err := s.History()
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStateStoreSessionRoundTrip(t *testing.T) {
	kv := NewMemory()
	s := NewStateStore(kv)

	lastRun := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	until := lastRun.Add(15 * time.Minute)
	sess := SessionState{
		SessionCount:    42,
		SessionStart:    lastRun.Add(-time.Hour),
		TotalUnfollowed: 420,
		LastRun:         &lastRun,
		TestMode:        true,
		TestComplete:    true,
		DryRunMode:      true,
		RateLimitUntil:  &until,
	}
	require.NoError(t, s.SaveSession(sess))

	// 新的适配器实例模拟进程重启，时钟仍在会话窗口内
	clock := &fakeClock{now: lastRun.Add(time.Hour)}
	st, err := NewStateStore(kv, WithClock(clock.Now)).Load()
	require.NoError(t, err)
	assert.Equal(t, 42, st.Session.SessionCount)
	assert.Equal(t, 420, st.Session.TotalUnfollowed)
	assert.True(t, st.Session.TestComplete)
	assert.True(t, st.Session.DryRunMode)
	require.NotNil(t, st.Session.LastRun)
	assert.True(t, lastRun.Equal(*st.Session.LastRun))
	require.NotNil(t, st.Session.RateLimitUntil)
	assert.True(t, until.Equal(*st.Session.RateLimitUntil))
}

func TestStateStoreSessionWindowReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)}
	kv := NewMemory()
	s := NewStateStore(kv, WithClock(clock.Now))

	_, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, s.SaveSession(SessionState{
		SessionCount:    100,
		SessionStart:    clock.now,
		TotalUnfollowed: 250,
		TestMode:        true,
		TestComplete:    true,
	}))

	// 窗口内重新加载：计数保留
	clock.Advance(23 * time.Hour)
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, st.Session.SessionCount)
	assert.True(t, st.Session.TestComplete)

	// 超过 24 小时：计数归零、窗口重开、首批确认重新生效
	clock.Advance(2 * time.Hour)
	st, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Session.SessionCount)
	assert.Equal(t, clock.now, st.Session.SessionStart)
	assert.False(t, st.Session.TestComplete)

	// 累计总量不随窗口重置
	assert.Equal(t, 250, st.Session.TotalUnfollowed)

	// 重置结果已持久化，下次加载直接可见
	st, err = NewStateStore(kv, WithClock(clock.Now)).Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Session.SessionCount)
}

func TestIncrementDaily(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)}
	s := NewStateStore(NewMemory(), WithClock(clock.Now))

	_, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, s.IncrementDaily())
	require.NoError(t, s.IncrementDaily())

	// 跨过午夜后落在新的一天
	clock.Advance(20 * time.Minute)
	require.NoError(t, s.IncrementDaily())

	stats, err := s.DailyStats()
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats["2026-08-30"].Unfollowed)
	assert.Equal(t, 1, stats["2026-08-31"].Unfollowed)
}

func TestAppendHistoryRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	s := NewStateStore(NewMemory(), WithClock(clock.Now), WithRetention(48*time.Hour))

	_, err := s.Load()
	require.NoError(t, err)

	old := HistoryEntry{Username: "stale", Date: clock.now.Add(-72 * time.Hour), Reason: "manual"}
	recent := HistoryEntry{Username: "recent", Date: clock.now.Add(-time.Hour), Reason: "manual"}
	require.NoError(t, s.AppendHistory(old))
	require.NoError(t, s.AppendHistory(recent))

	// 超过保留期的条目在追加时被裁剪
	history, err := s.History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "recent", history[0].Username)
}

func TestSaveFiltersNilNormalized(t *testing.T) {
	kv := NewMemory()
	s := NewStateStore(kv)

	// nil 输入持久化为空集合而不是 null
	require.NoError(t, s.SaveKeywords(nil))
	require.NoError(t, s.SaveWhitelist(nil))
	require.NoError(t, s.SaveUndoQueue(nil))

	raw, ok, err := kv.Get(KeyKeywords)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(raw))

	raw, ok, err = kv.Get(KeyWhitelist)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestThemeAndLanguage(t *testing.T) {
	s := NewStateStore(NewMemory())

	require.NoError(t, s.SetTheme("dark"))
	require.NoError(t, s.SetLanguage("tr"))

	theme, err := s.Theme()
	require.NoError(t, err)
	assert.Equal(t, "dark", theme)

	lang, err := s.Language()
	require.NoError(t, err)
	assert.Equal(t, "tr", lang)
}
