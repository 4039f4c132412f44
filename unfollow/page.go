package unfollow

import (
	"context"

	"github.com/pkg/errors"
)

// 页面交互的哨兵错误。
var (
	// ErrControlNotFound 预期的控件（Following 按钮、确认按钮）不存在。
	// 单次动作失败，循环继续处理下一个。
	ErrControlNotFound = errors.New("control not found")

	// ErrStale 队列中的单元格已从文档中移除。静默跳过，不计为失败。
	ErrStale = errors.New("cell detached from document")
)

// Candidate 扫描器产出的用户单元格记录。
// 生命周期只在一次扫描到被处理之间，处理完或失效即丢弃。
type Candidate struct {
	// ID 从个人主页链接提取的 handle，提取失败时为 UnknownUser
	ID string
	// Key 去重用的稳定标识。ID 可解析时就是 ID；
	// ID 为 Unknown 时由页面实现提供单元格级别的唯一标识，
	// 保证同一个无法解析的单元格不会被反复处理，而多个
	// 不同的异常单元格彼此独立。
	Key string
	// FollowsBack 单元格是否带回关徽标
	FollowsBack bool
	// Text 单元格可见文本，关键字过滤用
	Text string
	// Ref 页面实现持有的单元格引用（rod 为 *rod.Element）
	Ref interface{}
}

// FollowingPage 抽象 following 列表页面的能力。
// 状态机、过滤与执行逻辑只依赖这个接口，测试中用假实现替代真实页面。
type FollowingPage interface {
	// Candidates 枚举主内容列中当前可见的用户单元格。
	Candidates() ([]Candidate, error)

	// CellCount 主内容列中用户单元格总数，滚动前后对比用。
	CellCount() (int, error)

	// ScrollToBottom 滚动到文档底部以加载更多内容。
	ScrollToBottom() error

	// Alive 判断单元格是否仍在文档中。
	Alive(c Candidate) bool

	// ClickFollowing 点击单元格内的 Following 按钮。
	// 找不到按钮时返回 ErrControlNotFound。
	ClickFollowing(c Candidate) error

	// ClickConfirmation 点击页面级的取关确认按钮。
	// 确认弹层未出现时返回 ErrControlNotFound。
	ClickConfirmation() error

	// Refollow 尽力而为地重新关注指定用户，可能需要跳转到其主页。
	Refollow(ctx context.Context, username string) error
}
