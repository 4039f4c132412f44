package storage

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// 存储字段名。与浏览器扩展时代的 key 保持一致，方便数据迁移。
const (
	KeySessionCount    = "sessionCount"
	KeySessionStart    = "sessionStart"
	KeyTotalUnfollowed = "totalUnfollowed"
	KeyLastRun         = "lastRun"
	KeyTestMode        = "testMode"
	KeyTestComplete    = "testComplete"
	KeyKeywords        = "keywords"
	KeyWhitelist       = "whitelist"
	KeyDryRunMode      = "dryRunMode"
	KeyUndoQueue       = "undoQueue"
	KeyRateLimitUntil  = "rateLimitUntil"
	KeyUnfollowStats   = "unfollowStats"
	KeyUnfollowHistory = "unfollowHistory"
	KeyTheme           = "theme"
	KeyLanguage        = "language"
)

// SessionState 会话状态，随每次取关动作持久化。
type SessionState struct {
	SessionCount    int        `json:"sessionCount"`
	SessionStart    time.Time  `json:"sessionStart"`
	TotalUnfollowed int        `json:"totalUnfollowed"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	TestMode        bool       `json:"testMode"`
	TestComplete    bool       `json:"testComplete"`
	DryRunMode      bool       `json:"dryRunMode"`
	RateLimitUntil  *time.Time `json:"rateLimitUntil,omitempty"`
}

// WhitelistEntry 白名单条目，key 为小写、去 @ 的 handle。
type WhitelistEntry struct {
	AddedDate time.Time `json:"addedDate"`
}

// UndoEntry 撤销队列条目。
type UndoEntry struct {
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry 取关历史条目。
type HistoryEntry struct {
	Username string    `json:"username"`
	Date     time.Time `json:"date"`
	Reason   string    `json:"reason"`
}

// DailyStat 某一天的取关统计。
type DailyStat struct {
	Unfollowed int       `json:"unfollowed"`
	Timestamp  time.Time `json:"timestamp"`
}

// State 一次性加载出的全部持久化状态。
type State struct {
	Session   SessionState
	Keywords  []string
	Whitelist map[string]WhitelistEntry
	UndoQueue []UndoEntry
}

// StateStore 基于 Store 的带类型字段适配器。
type StateStore struct {
	store Store

	// sessionDuration 会话窗口长度，超过后计数归零（默认 24h）
	sessionDuration time.Duration
	// retention 历史记录保留时长（默认 30 天）
	retention time.Duration
	// now 可注入的时钟，测试用
	now func() time.Time
}

// StateOption 调整 StateStore 行为。
type StateOption func(*StateStore)

// WithSessionDuration 覆盖会话窗口长度。
func WithSessionDuration(d time.Duration) StateOption {
	return func(s *StateStore) { s.sessionDuration = d }
}

// WithRetention 覆盖历史保留时长。
func WithRetention(d time.Duration) StateOption {
	return func(s *StateStore) { s.retention = d }
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) StateOption {
	return func(s *StateStore) { s.now = now }
}

// NewStateStore 创建状态适配器。
func NewStateStore(store Store, opts ...StateOption) *StateStore {
	s := &StateStore{
		store:           store,
		sessionDuration: 24 * time.Hour,
		retention:       30 * 24 * time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StateStore) getJSON(key string, out interface{}) (bool, error) {
	raw, ok, err := s.store.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(err, "decode field %s", key)
	}
	return true, nil
}

func (s *StateStore) setJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode field %s", key)
	}
	return s.store.Set(key, raw)
}

// Load 加载全部状态，首次运行写入默认值。
// 若距 sessionStart 已超过会话窗口，则按不变量把 sessionCount 归零、
// sessionStart 重置为当前时间并立即持久化。
func (s *StateStore) Load() (*State, error) {
	st := &State{
		Session: SessionState{
			TestMode: true, // 默认开启首批确认策略
		},
		Whitelist: make(map[string]WhitelistEntry),
	}
	now := s.now()

	if _, err := s.getJSON(KeySessionCount, &st.Session.SessionCount); err != nil {
		return nil, err
	}
	haveStart, err := s.getJSON(KeySessionStart, &st.Session.SessionStart)
	if err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyTotalUnfollowed, &st.Session.TotalUnfollowed); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyLastRun, &st.Session.LastRun); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyTestMode, &st.Session.TestMode); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyTestComplete, &st.Session.TestComplete); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyDryRunMode, &st.Session.DryRunMode); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyRateLimitUntil, &st.Session.RateLimitUntil); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyKeywords, &st.Keywords); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyWhitelist, &st.Whitelist); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(KeyUndoQueue, &st.UndoQueue); err != nil {
		return nil, err
	}
	if st.Whitelist == nil {
		st.Whitelist = make(map[string]WhitelistEntry)
	}

	// 24 小时会话窗口重置
	if haveStart && now.Sub(st.Session.SessionStart) > s.sessionDuration {
		st.Session.SessionCount = 0
		st.Session.SessionStart = now
		// 窗口翻转后首批确认策略重新生效
		st.Session.TestComplete = false
		if err := s.setJSON(KeySessionCount, 0); err != nil {
			return nil, err
		}
		if err := s.setJSON(KeySessionStart, now); err != nil {
			return nil, err
		}
		if err := s.setJSON(KeyTestComplete, false); err != nil {
			return nil, err
		}
	}

	if !haveStart {
		st.Session.SessionStart = now
		if err := s.setJSON(KeySessionStart, now); err != nil {
			return nil, err
		}
	}

	// 初始化统计与历史字段，保证后续读取有默认形状
	if _, ok, err := s.store.Get(KeyUnfollowStats); err != nil {
		return nil, err
	} else if !ok {
		if err := s.setJSON(KeyUnfollowStats, map[string]DailyStat{}); err != nil {
			return nil, err
		}
	}
	if _, ok, err := s.store.Get(KeyUnfollowHistory); err != nil {
		return nil, err
	} else if !ok {
		if err := s.setJSON(KeyUnfollowHistory, []HistoryEntry{}); err != nil {
			return nil, err
		}
	}

	return st, nil
}

// SaveSession 持久化会话字段（定义可恢复性的那部分状态）。
func (s *StateStore) SaveSession(sess SessionState) error {
	if err := s.setJSON(KeySessionCount, sess.SessionCount); err != nil {
		return err
	}
	if err := s.setJSON(KeySessionStart, sess.SessionStart); err != nil {
		return err
	}
	if err := s.setJSON(KeyTotalUnfollowed, sess.TotalUnfollowed); err != nil {
		return err
	}
	if err := s.setJSON(KeyLastRun, sess.LastRun); err != nil {
		return err
	}
	if err := s.setJSON(KeyTestMode, sess.TestMode); err != nil {
		return err
	}
	if err := s.setJSON(KeyTestComplete, sess.TestComplete); err != nil {
		return err
	}
	if err := s.setJSON(KeyDryRunMode, sess.DryRunMode); err != nil {
		return err
	}
	return s.setJSON(KeyRateLimitUntil, sess.RateLimitUntil)
}

// SaveKeywords 持久化关键字列表。
func (s *StateStore) SaveKeywords(keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	return s.setJSON(KeyKeywords, keywords)
}

// SaveWhitelist 持久化白名单。
func (s *StateStore) SaveWhitelist(wl map[string]WhitelistEntry) error {
	if wl == nil {
		wl = map[string]WhitelistEntry{}
	}
	return s.setJSON(KeyWhitelist, wl)
}

// SaveUndoQueue 持久化撤销队列。
func (s *StateStore) SaveUndoQueue(queue []UndoEntry) error {
	if queue == nil {
		queue = []UndoEntry{}
	}
	return s.setJSON(KeyUndoQueue, queue)
}

// IncrementDaily 将当天（按动作发生时的本地日期）的取关计数 +1。
func (s *StateStore) IncrementDaily() error {
	stats := make(map[string]DailyStat)
	if _, err := s.getJSON(KeyUnfollowStats, &stats); err != nil {
		return err
	}
	now := s.now()
	day := now.Format("2006-01-02")

	st, ok := stats[day]
	if !ok {
		st = DailyStat{Timestamp: now}
	}
	st.Unfollowed++
	stats[day] = st

	return s.setJSON(KeyUnfollowStats, stats)
}

// DailyStats 读取按天统计。
func (s *StateStore) DailyStats() (map[string]DailyStat, error) {
	stats := make(map[string]DailyStat)
	if _, err := s.getJSON(KeyUnfollowStats, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// AppendHistory 追加一条历史记录，并裁剪掉超过保留期的旧记录。
func (s *StateStore) AppendHistory(entry HistoryEntry) error {
	var history []HistoryEntry
	if _, err := s.getJSON(KeyUnfollowHistory, &history); err != nil {
		return err
	}

	history = append(history, entry)

	cutoff := s.now().Add(-s.retention)
	kept := history[:0]
	for _, h := range history {
		if h.Date.After(cutoff) {
			kept = append(kept, h)
		}
	}

	return s.setJSON(KeyUnfollowHistory, kept)
}

// History 读取全部历史记录。
func (s *StateStore) History() ([]HistoryEntry, error) {
	var history []HistoryEntry
	if _, err := s.getJSON(KeyUnfollowHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SetTheme 持久化界面主题（由 UI 侧设置，这里只做写通道）。
func (s *StateStore) SetTheme(theme string) error {
	return s.setJSON(KeyTheme, theme)
}

// Theme 读取界面主题。
func (s *StateStore) Theme() (string, error) {
	var theme string
	if _, err := s.getJSON(KeyTheme, &theme); err != nil {
		return "", err
	}
	return theme, nil
}

// SetLanguage 持久化界面语言。
func (s *StateStore) SetLanguage(lang string) error {
	return s.setJSON(KeyLanguage, lang)
}

// Language 读取界面语言。
func (s *StateStore) Language() (string, error) {
	var lang string
	if _, err := s.getJSON(KeyLanguage, &lang); err != nil {
		return "", err
	}
	return lang, nil
}

// WarnOnErr 持久化失败时记录日志但不中断流程。
// 存储不可用属于可降级故障，主循环继续以内存状态运行。
func WarnOnErr(err error, field string) {
	if err != nil {
		logrus.WithField("field", field).Warnf("failed to persist state: %v", err)
	}
}
