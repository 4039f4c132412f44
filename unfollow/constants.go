// Package unfollow 实现 x.com following 列表的自动取关。
// 核心是一个协作式、可恢复、感知限流的操作循环：扫描用户单元格、
// 过滤、按节奏执行取关、滚动加载更多，进度随时持久化。
package unfollow

import "time"

// 节奏控制相关的时间参数。
const (
	// MinDelay / MaxDelay 两次取关动作之间的随机间隔
	MinDelay = 2000 * time.Millisecond
	MaxDelay = 5000 * time.Millisecond

	// ScrollDelay 滚动后等待新内容加载的基础时长，外加随机量
	ScrollDelay      = 1500 * time.Millisecond
	ScrollDelayExtra = 1000 * time.Millisecond

	// ButtonClickMin / ButtonClickMax 点击 Following 按钮后等确认弹层出现的间隔
	ButtonClickMin = 500 * time.Millisecond
	ButtonClickMax = 1000 * time.Millisecond

	// PauseCheckInterval 暂停状态下的轮询间隔
	PauseCheckInterval = 1000 * time.Millisecond

	// HumanPauseMin / HumanPauseMax 随机插入的超长停顿，降低操作规律性
	HumanPauseMin = 5000 * time.Millisecond
	HumanPauseMax = 10000 * time.Millisecond

	// SessionDuration 会话窗口：24 小时内最多 MaxSession 次取关
	SessionDuration = 24 * time.Hour

	// RateLimitWait 命中限流后的冷却时长
	RateLimitWait = 15 * time.Minute
)

// 上限类参数。
const (
	// MaxSession 单个 24 小时会话内的取关硬上限
	MaxSession = 100
	// BatchSize 首批确认策略的软检查点
	BatchSize = 50
	// MaxUndoQueue 撤销队列长度上限，超出时淘汰最旧的
	MaxUndoQueue = 10
	// HistoryRetentionDays 历史记录保留天数
	HistoryRetentionDays = 30
	// MaxEmptyScans 连续多少次扫描零新增后判定列表耗尽
	MaxEmptyScans = 8
	// MaxSameCountStreak 连续多少次滚动后单元格数不变判定列表耗尽
	MaxSameCountStreak = 3
)

// HumanPauseProbability 每轮循环插入超长停顿的概率。
const HumanPauseProbability = 0.15

// x.com DOM 选择器。
const (
	// SelectorPrimaryColumn 主内容列，排除右侧 "Who to follow" 推荐栏
	SelectorPrimaryColumn = `[data-testid="primaryColumn"]`
	// SelectorUserCell 单个用户单元格
	SelectorUserCell = `[data-testid="UserCell"]`
	// SelectorUserCellMain 仅主内容列内的用户单元格
	SelectorUserCellMain = `[data-testid="primaryColumn"] [data-testid="UserCell"]`
	// SelectorConfirmButton 取关确认弹层的确认按钮（页面级，不在单元格内）
	SelectorConfirmButton = `[data-testid="confirmationSheetConfirm"]`
	// SelectorRoleButton 单元格内的按钮
	SelectorRoleButton = `button[role="button"]`
	// SelectorRoleLink 单元格内的个人主页链接
	SelectorRoleLink = `a[role="link"][href*="/"]`
)

// 文本匹配模式。x.com 的界面语言决定按钮与徽标文案，这里按支持的
// 语言（英语、土耳其语）列出全部模式。
var (
	// FollowsYouPatterns "Follows you" 徽标，表示对方回关
	FollowsYouPatterns = []string{"Follows you", "Seni takip ediyor"}

	// FollowingButtonPatterns 单元格内 "Following" 按钮
	FollowingButtonPatterns = []string{"Following", "Takip ediliyor"}
)

// UnknownUser 无法从单元格提取 handle 时的占位标识。
const UnknownUser = "Unknown"

// Status 状态事件的取值。
const (
	StatusReady        = "ready"
	StatusIdle         = "idle"
	StatusStarted      = "started"
	StatusScanning     = "scanning"
	StatusUnfollowed   = "unfollowed"
	StatusStopped      = "stopped"
	StatusCompleted    = "completed"
	StatusLimitReached = "limit_reached"
	StatusTestComplete = "test_complete"
	StatusRateLimit    = "rate_limit"
	StatusResumed      = "resumed"
	StatusError        = "error"
)

// 用户处理事件中的动作类型。
const (
	ActionUnfollowed = "unfollowed"
	ActionDryRun     = "dry-run"
	ActionManual     = "manual"

	skipPrefix          = "skipped:"
	SkipReasonWhitelist = "whitelist"
	skipReasonKeyword   = "keyword:" // 后跟命中的关键字
)
