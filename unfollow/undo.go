package unfollow

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/storage"
)

// ErrNothingToUndo 撤销队列为空。
var ErrNothingToUndo = errors.New("no users to undo")

// UndoResult 撤销操作的结果。
type UndoResult struct {
	Username string `json:"username"`
	// Tracked 条目是否在撤销队列中。不在队列中（已被淘汰）时
	// 仍会尽力执行回关，但明确告知调用方。
	Tracked bool `json:"tracked"`
	// Refollowed 回关动作是否成功发起
	Refollowed bool `json:"refollowed"`
}

// UndoLast 弹出最近一次取关并尽力回关。
func (e *Engine) UndoLast(ctx context.Context) (*UndoResult, error) {
	e.mu.Lock()
	if len(e.undoQueue) == 0 {
		e.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	last := e.undoQueue[len(e.undoQueue)-1]
	e.undoQueue = e.undoQueue[:len(e.undoQueue)-1]
	snapshot := append([]storage.UndoEntry(nil), e.undoQueue...)
	e.mu.Unlock()

	storage.WarnOnErr(e.store.SaveUndoQueue(snapshot), storage.KeyUndoQueue)

	return &UndoResult{
		Username:   last.Username,
		Tracked:    true,
		Refollowed: e.refollow(ctx, last.Username),
	}, nil
}

// UndoSingle 撤销指定用户的取关。条目可在队列任意位置；
// 即使已不在队列中（被淘汰）也按尽力而为执行回关。
func (e *Engine) UndoSingle(ctx context.Context, username string) (*UndoResult, error) {
	e.mu.Lock()
	tracked := false
	for i, entry := range e.undoQueue {
		if entry.Username == username {
			e.undoQueue = append(e.undoQueue[:i], e.undoQueue[i+1:]...)
			tracked = true
			break
		}
	}
	snapshot := append([]storage.UndoEntry(nil), e.undoQueue...)
	e.mu.Unlock()

	if tracked {
		storage.WarnOnErr(e.store.SaveUndoQueue(snapshot), storage.KeyUndoQueue)
	}

	return &UndoResult{
		Username:   username,
		Tracked:    tracked,
		Refollowed: e.refollow(ctx, username),
	}, nil
}

// UndoQueue 返回当前撤销队列的快照（最新的在最后）。
func (e *Engine) UndoQueue() []storage.UndoEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]storage.UndoEntry(nil), e.undoQueue...)
}

// refollow 尽力而为的回关。失败只上报，不把条目塞回队列，也不重试。
func (e *Engine) refollow(ctx context.Context, username string) bool {
	if e.metrics != nil {
		e.metrics.Undos.Inc()
	}

	page := e.pageRef()
	if page == nil {
		logrus.WithField("username", username).Warn("no page attached, cannot refollow")
		return false
	}

	if err := page.Refollow(ctx, username); err != nil {
		logrus.WithField("username", username).Warnf("refollow failed: %v", err)
		return false
	}

	logrus.WithField("username", username).Info("refollow initiated")
	return true
}
