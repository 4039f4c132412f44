package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/browser"
	"github.com/xpzouying/unfollow-radar/configs"
	"github.com/xpzouying/unfollow-radar/cookies"
	"github.com/xpzouying/unfollow-radar/storage"
	"github.com/xpzouying/unfollow-radar/unfollow"
)

// RadarService 组合浏览器、持久化与操作循环，对外提供命令表。
// HTTP 层只做参数解析和结果格式化，所有语义都在这里和 unfollow 包内。
type RadarService struct {
	stateStore *storage.StateStore
	kv         storage.Store
	bus        *unfollow.Bus
	metrics    *unfollow.Metrics
	engine     *unfollow.Engine

	mu          sync.Mutex
	page        unfollow.FollowingPage
	releasePage func()
}

// ServiceOption 调整服务行为。
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	engineCfg unfollow.Config
}

// WithEngineConfig 覆盖操作循环的节奏与上限参数，测试用。
func WithEngineConfig(cfg unfollow.Config) ServiceOption {
	return func(c *serviceConfig) { c.engineCfg = cfg }
}

// NewRadarService 创建服务。页面在首个 START 命令时才真正创建，
// 避免服务启动就拉起浏览器。
func NewRadarService(kv storage.Store, opts ...ServiceOption) *RadarService {
	var cfg serviceConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	stateStore := storage.NewStateStore(kv,
		storage.WithSessionDuration(unfollow.SessionDuration),
		storage.WithRetention(unfollow.HistoryRetentionDays*24*time.Hour),
	)
	bus := unfollow.NewBus()
	metrics := unfollow.NewMetrics()
	engine := unfollow.NewEngine(nil, stateStore, bus, metrics, cfg.engineCfg)

	return &RadarService{
		stateStore: stateStore,
		kv:         kv,
		bus:        bus,
		metrics:    metrics,
		engine:     engine,
	}
}

// UsePage 直接绑定一个页面实现，跳过浏览器创建。测试用。
func (s *RadarService) UsePage(page unfollow.FollowingPage) {
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
	s.engine.AttachPage(page)
}

// Bus 事件总线，HTTP 层用来订阅 SSE 流。
func (s *RadarService) Bus() *unfollow.Bus { return s.bus }

// Metrics 指标收集器，HTTP 层挂载 /metrics 用。
func (s *RadarService) Metrics() *unfollow.Metrics { return s.metrics }

// SeedFilters 首次运行时从配置文件写入过滤器种子。
// 已有持久化数据时不覆盖，管理入口始终是 UPDATE_* 命令。
func (s *RadarService) SeedFilters(keywords, whitelist []string) {
	st, err := s.stateStore.Load()
	if err != nil {
		logrus.Warnf("failed to load state for seeding: %v", err)
		return
	}

	if len(st.Keywords) == 0 && len(keywords) > 0 {
		logrus.WithField("count", len(keywords)).Info("seeding keywords from config file")
		s.engine.SetKeywords(keywords)
	}

	if len(st.Whitelist) == 0 && len(whitelist) > 0 {
		logrus.WithField("count", len(whitelist)).Info("seeding whitelist from config file")
		wl := make(map[string]storage.WhitelistEntry, len(whitelist))
		now := time.Now()
		for _, handle := range whitelist {
			wl[normalizeHandle(handle)] = storage.WhitelistEntry{AddedDate: now}
		}
		s.engine.SetWhitelist(wl)
	}
}

// ensurePage 懒加载自动化页面：获取全局浏览器、打开 following 列表。
// 配置了账号 handle 时直接导航过去，否则要求会话已处于该页面。
func (s *RadarService) ensurePage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		return nil
	}

	manager := browser.GetGlobalManager()
	page, release := manager.NewPageWithRelease()

	rp := unfollow.NewRodPage(page)
	if username := configs.GetUsername(); username != "" {
		if err := rp.OpenFollowing(ctx, username); err != nil {
			release()
			return errors.Wrap(err, "open following page")
		}
		// 导航成功后保存一次 cookies，保证会话持久化
		if err := browser.SavePageCookies(page, cookies.GetCookiesFilePath()); err != nil {
			logrus.Warnf("failed to save cookies: %v", err)
		}
	} else {
		logrus.Warn("no username configured, expecting the session to already be on a /following page")
	}

	s.page = rp
	s.releasePage = release
	s.engine.AttachPage(rp)
	s.engine.EmitReady()
	return nil
}

// StartUnfollow 处理 START 命令。请求上下文只用于页面导航；
// 循环自身的生命周期由引擎持有，不随请求结束而终止。
func (s *RadarService) StartUnfollow(ctx context.Context) error {
	if err := s.ensurePage(ctx); err != nil {
		return err
	}
	return s.engine.Start()
}

// StopUnfollow 处理 STOP 命令。
func (s *RadarService) StopUnfollow() {
	s.engine.Stop()
}

// ContinueTest 处理批次确认命令。进程重启后确认也要能恢复循环，
// 因此这里同样保证页面就绪。
func (s *RadarService) ContinueTest(ctx context.Context) {
	if err := s.ensurePage(ctx); err != nil {
		logrus.Warnf("failed to ensure page for continue: %v", err)
	}
	s.engine.ContinueBatch()
}

// GetStatus 返回即时状态快照。
func (s *RadarService) GetStatus() unfollow.StatusSnapshot {
	s.engine.EmitIdle()
	return s.engine.Status()
}

// UpdateKeywords 替换关键字列表。
func (s *RadarService) UpdateKeywords(keywords []string) {
	s.engine.SetKeywords(keywords)
}

// UpdateWhitelist 替换白名单。输入为 handle 列表，内部统一规整为
// 小写、去 @ 的 key。
func (s *RadarService) UpdateWhitelist(handles []string) {
	wl := make(map[string]storage.WhitelistEntry, len(handles))
	now := time.Now()
	for _, handle := range handles {
		wl[normalizeHandle(handle)] = storage.WhitelistEntry{AddedDate: now}
	}
	s.engine.SetWhitelist(wl)
}

// ToggleDryRun 切换演练模式。
func (s *RadarService) ToggleDryRun(enabled bool) {
	s.engine.SetDryRun(enabled)
}

// UndoLast 撤销最近一次取关。
func (s *RadarService) UndoLast(ctx context.Context) (*unfollow.UndoResult, error) {
	return s.engine.UndoLast(ctx)
}

// UndoSingle 撤销指定用户的取关。
func (s *RadarService) UndoSingle(ctx context.Context, username string) (*unfollow.UndoResult, error) {
	return s.engine.UndoSingle(ctx, username)
}

// History 读取取关历史。
func (s *RadarService) History() ([]storage.HistoryEntry, error) {
	return s.stateStore.History()
}

// HistoryCSV 导出取关历史为 CSV 字节流。
func (s *RadarService) HistoryCSV() ([]byte, error) {
	history, err := s.stateStore.History()
	if err != nil {
		return nil, err
	}
	return unfollow.HistoryCSV(history), nil
}

// DailyStats 读取按天统计。
func (s *RadarService) DailyStats() (map[string]storage.DailyStat, error) {
	return s.stateStore.DailyStats()
}

// UpdateSettings UI 侧的设置写通道（主题、语言）。
func (s *RadarService) UpdateSettings(theme, language string) {
	if theme != "" {
		storage.WarnOnErr(s.stateStore.SetTheme(theme), storage.KeyTheme)
	}
	if language != "" {
		storage.WarnOnErr(s.stateStore.SetLanguage(language), storage.KeyLanguage)
	}
}

// ResetCounters 处理 RESET 命令：会话计数、累计总量、撤销队列归零，
// 会话窗口重开，首批确认策略重新生效。
func (s *RadarService) ResetCounters() {
	s.engine.Reset()
}

// Close 停止循环并释放浏览器与存储。
func (s *RadarService) Close() {
	s.engine.Stop()

	s.mu.Lock()
	if s.releasePage != nil {
		s.releasePage()
		s.page = nil
		s.releasePage = nil
	}
	s.mu.Unlock()

	browser.GetGlobalManager().CloseBrowser()

	if err := s.kv.Close(); err != nil {
		logrus.Warnf("failed to close store: %v", err)
	}
}

// normalizeHandle 白名单 key 规整：小写、去 @。
func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
