package unfollow

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/storage"
)

// Config 操作循环的节奏与上限参数。
// 零值字段使用 constants.go 中的默认值（仅当调用方未显式配置时）。
type Config struct {
	MinDelay           time.Duration
	MaxDelay           time.Duration
	ScrollDelay        time.Duration
	ScrollDelayExtra   time.Duration
	ButtonClickMin     time.Duration
	ButtonClickMax     time.Duration
	PauseCheckInterval time.Duration
	HumanPauseMin      time.Duration
	HumanPauseMax      time.Duration
	RateLimitWait      time.Duration

	// HumanPauseProbability 每轮插入超长停顿的概率，负值表示禁用
	HumanPauseProbability float64

	MaxSession         int
	BatchSize          int
	MaxUndoQueue       int
	MaxEmptyScans      int
	MaxSameCountStreak int
}

func (c *Config) applyDefaults() {
	if c.MinDelay == 0 {
		c.MinDelay = MinDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = MaxDelay
	}
	if c.ScrollDelay == 0 {
		c.ScrollDelay = ScrollDelay
	}
	if c.ScrollDelayExtra == 0 {
		c.ScrollDelayExtra = ScrollDelayExtra
	}
	if c.ButtonClickMin == 0 {
		c.ButtonClickMin = ButtonClickMin
	}
	if c.ButtonClickMax == 0 {
		c.ButtonClickMax = ButtonClickMax
	}
	if c.PauseCheckInterval == 0 {
		c.PauseCheckInterval = PauseCheckInterval
	}
	if c.HumanPauseMin == 0 {
		c.HumanPauseMin = HumanPauseMin
	}
	if c.HumanPauseMax == 0 {
		c.HumanPauseMax = HumanPauseMax
	}
	if c.RateLimitWait == 0 {
		c.RateLimitWait = RateLimitWait
	}
	if c.HumanPauseProbability == 0 {
		c.HumanPauseProbability = HumanPauseProbability
	}
	if c.MaxSession == 0 {
		c.MaxSession = MaxSession
	}
	if c.BatchSize == 0 {
		c.BatchSize = BatchSize
	}
	if c.MaxUndoQueue == 0 {
		c.MaxUndoQueue = MaxUndoQueue
	}
	if c.MaxEmptyScans == 0 {
		c.MaxEmptyScans = MaxEmptyScans
	}
	if c.MaxSameCountStreak == 0 {
		c.MaxSameCountStreak = MaxSameCountStreak
	}
}

// Engine 操作循环状态机。所有可变状态都由它显式持有，
// 不依赖任何包级变量，便于脱离真实页面做单元测试。
type Engine struct {
	cfg     Config
	store   *storage.StateStore
	bus     *Bus
	metrics *Metrics

	mu         sync.Mutex
	page       FollowingPage
	running    bool // 操作者意图：是否处于运行中
	paused     bool // 限流、批次确认等导致的暂停
	loopActive bool // 循环 goroutine 是否存活，保证同时只有一个
	runID      string

	sess      storage.SessionState
	keywords  []string
	whitelist map[string]storage.WhitelistEntry
	undoQueue []storage.UndoEntry

	// processed 本次连续运行内已扫描过的单元格标识
	processed map[string]struct{}
	// queue 待处理的取关队列，FIFO
	queue []Candidate

	// rateTimer 限流自动恢复定时器，新限流到来时必须先取消旧的
	rateTimer *time.Timer

	// loopCancel 取消当前循环 goroutine 的生命周期上下文。
	// 循环的生命周期由引擎自己持有，调用方的请求上下文只管请求
	// 范围内的工作（如页面导航），不得传染到循环上
	loopCancel context.CancelFunc
}

// NewEngine 创建引擎并加载持久化状态。
func NewEngine(page FollowingPage, store *storage.StateStore, bus *Bus, metrics *Metrics, cfg Config) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:       cfg,
		page:      page,
		store:     store,
		bus:       bus,
		metrics:   metrics,
		whitelist: make(map[string]storage.WhitelistEntry),
		processed: make(map[string]struct{}),
	}
	e.sess.TestMode = true

	e.mu.Lock()
	e.reloadStateLocked()
	e.mu.Unlock()
	return e
}

// AttachPage 绑定页面实现。首次 START 前由服务层完成。
func (e *Engine) AttachPage(page FollowingPage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = page
}

func (e *Engine) reloadStateLocked() {
	st, err := e.store.Load()
	if err != nil {
		logrus.Warnf("failed to load persisted state, continuing in-memory: %v", err)
		return
	}
	e.sess = st.Session
	e.keywords = st.Keywords
	e.whitelist = st.Whitelist
	e.undoQueue = st.UndoQueue
}

// Start 启动操作循环。已在运行时为幂等空操作（仍视为成功）。
// 循环 goroutine 使用引擎自有的生命周期上下文，在 Stop 时取消，
// 不随调用方（HTTP 请求）的上下文结束。
func (e *Engine) Start() error {
	e.mu.Lock()

	if e.loopActive {
		e.mu.Unlock()
		logrus.Info("start requested while already running, ignoring")
		return nil
	}
	if e.page == nil {
		e.mu.Unlock()
		return errors.New("no page attached")
	}

	e.reloadStateLocked()
	e.running = true
	e.paused = false
	e.runID = uuid.NewString()
	e.processed = make(map[string]struct{})
	e.queue = nil

	// 持久化的限流冷却仍未到期时，直接进入暂停等待，
	// 防止通过重启进程绕过冷却
	var pendingWait time.Duration
	if until := e.sess.RateLimitUntil; until != nil && time.Now().Before(*until) {
		e.paused = true
		pendingWait = time.Until(*until)
		e.armRateTimerLocked(pendingWait)
	}

	e.loopActive = true
	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	e.mu.Unlock()

	if pendingWait > 0 {
		mins := remainingMinutes(pendingWait)
		logrus.WithField("remaining_minutes", mins).Warn("rate limit still active, waiting before resuming")
		e.sendStatus(StatusRateLimit, func(ev *Event) { ev.RemainingMinutes = mins })
	}

	go e.run(ctx)
	return nil
}

// Stop 停止循环。与限流/批次暂停不同，STOP 不会自动恢复，
// 只有新的 START 才会继续。在下一个挂起点生效（协作式取消）。
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.paused = false
	cancel := e.loopCancel
	e.mu.Unlock()

	// 取消循环上下文，让挂起点立即醒来退出
	if cancel != nil {
		cancel()
	}

	e.persistSession()
	e.sendStatus(StatusStopped, nil)
}

// ContinueBatch 确认首批结果并继续。本次会话窗口内不再触发批次检查点。
func (e *Engine) ContinueBatch() {
	e.mu.Lock()
	e.sess.TestComplete = true
	e.paused = false
	e.running = true
	// 确认到达时循环通常还在暂停轮询中；只有 goroutine 已退出
	// （例如进程重启后）才需要重新拉起
	restart := !e.loopActive && e.page != nil
	var ctx context.Context
	if restart {
		e.loopActive = true
		ctx, e.loopCancel = context.WithCancel(context.Background())
	}
	e.mu.Unlock()

	e.persistSession()

	if restart {
		go e.run(ctx)
	}
}

// SetKeywords 替换关键字屏蔽列表并持久化。
func (e *Engine) SetKeywords(keywords []string) {
	e.mu.Lock()
	e.keywords = keywords
	e.mu.Unlock()
	storage.WarnOnErr(e.store.SaveKeywords(keywords), storage.KeyKeywords)
}

// SetWhitelist 替换白名单并持久化。key 必须是小写、去 @ 的 handle。
func (e *Engine) SetWhitelist(wl map[string]storage.WhitelistEntry) {
	if wl == nil {
		wl = make(map[string]storage.WhitelistEntry)
	}
	e.mu.Lock()
	e.whitelist = wl
	e.mu.Unlock()
	storage.WarnOnErr(e.store.SaveWhitelist(wl), storage.KeyWhitelist)
}

// Reset 将会话计数、累计总量与撤销队列归零，会话窗口从现在重开，
// 首批确认策略重新生效。对应操作面板上的重置动作。
func (e *Engine) Reset() {
	e.mu.Lock()
	e.sess.SessionCount = 0
	e.sess.TotalUnfollowed = 0
	e.sess.SessionStart = time.Now()
	e.sess.TestMode = true
	e.sess.TestComplete = false
	e.undoQueue = nil
	e.mu.Unlock()

	logrus.Info("counters reset by operator")

	e.persistSession()
	storage.WarnOnErr(e.store.SaveUndoQueue(nil), storage.KeyUndoQueue)
	e.sendStatus(StatusReady, nil)
}

// SetDryRun 切换演练模式并持久化。
func (e *Engine) SetDryRun(enabled bool) {
	e.mu.Lock()
	e.sess.DryRunMode = enabled
	e.mu.Unlock()
	e.persistSession()
}

// StatusSnapshot 供 UI 侧读取的状态快照。
type StatusSnapshot struct {
	Running         bool       `json:"running"`
	Paused          bool       `json:"paused"`
	SessionCount    int        `json:"sessionCount"`
	TotalUnfollowed int        `json:"totalUnfollowed"`
	TestMode        bool       `json:"testMode"`
	TestComplete    bool       `json:"testComplete"`
	DryRunMode      bool       `json:"dryRunMode"`
	QueueSize       int        `json:"queueSize"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	RateLimitUntil  *time.Time `json:"rateLimitUntil,omitempty"`
	RunID           string     `json:"runId,omitempty"`
}

// Status 返回即时状态快照。
func (e *Engine) Status() StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatusSnapshot{
		Running:         e.running,
		Paused:          e.paused,
		SessionCount:    e.sess.SessionCount,
		TotalUnfollowed: e.sess.TotalUnfollowed,
		TestMode:        e.sess.TestMode,
		TestComplete:    e.sess.TestComplete,
		DryRunMode:      e.sess.DryRunMode,
		QueueSize:       len(e.queue),
		LastRun:         e.sess.LastRun,
		RateLimitUntil:  e.sess.RateLimitUntil,
		RunID:           e.runID,
	}
}

// EmitReady 对外广播就绪状态（存储初始化完成、页面可用）。
func (e *Engine) EmitReady() {
	e.sendStatus(StatusReady, nil)
}

// EmitIdle 响应 GET_STATUS 命令的即时状态广播。
func (e *Engine) EmitIdle() {
	e.sendStatus(StatusIdle, nil)
}

// run 主循环：扫描 → 过滤 → 执行 → 滚动，直到耗尽、到达上限或被停止。
func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.loopActive = false
		e.mu.Unlock()
	}()

	e.sendStatus(StatusStarted, nil)

	// 两个独立的耗尽信号：连续零新增扫描、连续滚动后数量不变
	emptyScans := 0
	sameCountStreak := 0
	lastCellCount := -1

	for e.isRunning() {
		if ctx.Err() != nil {
			return
		}

		if e.isPaused() {
			e.sleep(ctx, e.cfg.PauseCheckInterval, e.cfg.PauseCheckInterval)
			continue
		}

		// 硬上限与批次检查点
		if e.checkLimits() {
			return
		}
		if e.isPaused() {
			continue
		}

		// 扫描当前可见的用户
		found, err := e.scan()
		if err != nil {
			logrus.Warnf("scan failed: %v", err)
			e.sleep(ctx, e.cfg.MinDelay, e.cfg.MaxDelay)
			continue
		}

		// 先清空队列再滚动，避免滚动把待处理的单元格挤出文档
		if e.drain(ctx) {
			return
		}

		if !e.isRunning() || e.isPaused() {
			continue
		}

		// 滚动加载更多用户，对比前后单元格数量判断是否还有新内容
		cellCount, err := e.scrollOnce(ctx)
		if err != nil {
			logrus.Warnf("scroll failed: %v", err)
		}
		if cellCount == lastCellCount {
			sameCountStreak++
		} else {
			sameCountStreak = 0
			lastCellCount = cellCount
		}
		if found == 0 {
			emptyScans++
		} else {
			emptyScans = 0
		}

		if sameCountStreak >= e.cfg.MaxSameCountStreak || emptyScans >= e.cfg.MaxEmptyScans {
			// 最后一次扫描兜底，然后处理剩余队列
			if _, err := e.scan(); err != nil {
				logrus.Warnf("final scan failed: %v", err)
			}
			if e.drain(ctx) {
				return
			}

			if e.queueLen() == 0 {
				logrus.Info("following list exhausted, no more users to process")
				e.finish(StatusCompleted)
				return
			}
		}

		// 随机插入超长停顿，降低操作规律性
		if rand.Float64() < e.cfg.HumanPauseProbability {
			e.sleep(ctx, e.cfg.HumanPauseMin, e.cfg.HumanPauseMax)
		}
	}
}

// drain 按 FIFO 逐个处理队列。每个动作前都重新检查硬上限与批次
// 检查点（一次动作可能恰好把计数推过阈值）。
// 返回 true 表示循环应当终止（到达硬上限）；批次确认只是暂停，
// 队列和扫描进度都保留。
func (e *Engine) drain(ctx context.Context) bool {
	for e.queueLen() > 0 && e.isRunning() && !e.isPaused() {
		if ctx.Err() != nil {
			return true
		}
		if e.checkLimits() {
			return true
		}
		if e.isPaused() {
			return false
		}

		c, ok := e.popQueue()
		if !ok {
			break
		}

		// 单元格可能在排队期间被虚拟列表回收，跳过而非失败
		if !e.pageRef().Alive(c) {
			logrus.WithField("username", c.ID).Debug("cell went stale, skipping")
			continue
		}

		if ok := e.unfollowOne(ctx, c); !ok {
			logrus.WithField("username", c.ID).Debug("unfollow failed, might be rate limited")
		}
	}
	return false
}

// checkLimits 检查硬上限与批次检查点。
// 返回 true 表示循环应当终止（硬上限）；批次检查点只置暂停标记。
func (e *Engine) checkLimits() bool {
	e.mu.Lock()

	if e.sess.SessionCount >= e.cfg.MaxSession {
		e.running = false
		e.paused = false
		e.mu.Unlock()

		logrus.WithField("session_count", e.cfg.MaxSession).Warn("session limit reached, stopping until window resets")
		e.persistSession()
		e.sendStatus(StatusLimitReached, nil)
		return true
	}

	// 批次检查点只挂起循环，不终止 goroutine：确认命令到达后
	// 直接解除暂停即可继续
	if e.sess.TestMode && !e.sess.TestComplete && !e.paused && e.sess.SessionCount >= e.cfg.BatchSize {
		e.paused = true
		e.mu.Unlock()

		logrus.WithField("batch_size", e.cfg.BatchSize).Info("first batch finished, waiting for operator confirmation")
		e.persistSession()
		e.publish(Event{Type: EventTestComplete})
		e.sendStatus(StatusTestComplete, nil)
		return false
	}

	e.mu.Unlock()
	return false
}

// finish 正常终态：清空运行标记、持久化并广播。
func (e *Engine) finish(status string) {
	e.mu.Lock()
	e.running = false
	e.paused = false
	e.mu.Unlock()

	e.persistSession()
	e.sendStatus(status, nil)
}

// scrollOnce 滚动到底部并等待内容加载，返回滚动后的单元格数量。
func (e *Engine) scrollOnce(ctx context.Context) (int, error) {
	page := e.pageRef()
	if err := page.ScrollToBottom(); err != nil {
		return -1, err
	}
	e.sleep(ctx, e.cfg.ScrollDelay, e.cfg.ScrollDelay+e.cfg.ScrollDelayExtra)
	return page.CellCount()
}

// persistSession 把定义可恢复性的会话字段写入存储。
// 写失败只降级告警，循环继续以内存状态运行。
func (e *Engine) persistSession() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	storage.WarnOnErr(e.store.SaveSession(sess), "session")
}

// sendStatus 广播一条状态事件，附带当前计数快照。
func (e *Engine) sendStatus(status string, extra func(*Event)) {
	e.mu.Lock()
	ev := Event{
		Type:            EventStatusUpdate,
		Status:          status,
		SessionCount:    e.sess.SessionCount,
		TotalUnfollowed: e.sess.TotalUnfollowed,
		TestMode:        e.sess.TestMode,
		TestComplete:    e.sess.TestComplete,
		RunID:           e.runID,
	}
	e.mu.Unlock()

	if extra != nil {
		extra(&ev)
	}
	e.publish(ev)
}

func (e *Engine) publish(ev Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// sleep 协作式挂起点：随机时长等待，循环的取消在这里生效。
func (e *Engine) sleep(ctx context.Context, min, max time.Duration) {
	d := randomDuration(min, max)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) pageRef() FollowingPage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

func (e *Engine) queueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) popQueue() (Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Candidate{}, false
	}
	c := e.queue[0]
	e.queue = e.queue[1:]
	return c, true
}

// randomDuration 在 [min, max] 内取随机时长。
func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// remainingMinutes 剩余冷却分钟数，向上取整。
func remainingMinutes(d time.Duration) int {
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	if mins < 0 {
		mins = 0
	}
	return mins
}
