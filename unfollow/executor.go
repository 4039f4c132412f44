package unfollow

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xpzouying/unfollow-radar/storage"
)

// unfollowOne 对单个用户执行一次取关（或演练）。
// 返回 false 表示本次动作失败；失败不致命，调用方继续处理下一个。
func (e *Engine) unfollowOne(ctx context.Context, c Candidate) bool {
	if e.dryRunEnabled() {
		return e.dryRunOne(ctx, c)
	}

	ok, err := e.liveUnfollow(ctx, c)
	if err != nil {
		logrus.WithField("username", c.ID).Warnf("unfollow error: %v", err)
		if isRateLimitErr(err) {
			e.handleRateLimit()
		}
		return false
	}
	return ok
}

// dryRunOne 演练路径：不触碰页面，只走完整的节奏与计数逻辑，
// 让操作者在不做任何不可逆动作的前提下验证选择器和过滤器。
func (e *Engine) dryRunOne(ctx context.Context, c Candidate) bool {
	logrus.WithField("username", c.ID).Info("[dry run] would unfollow")

	e.sleep(ctx, e.cfg.MinDelay, e.cfg.MaxDelay)

	e.mu.Lock()
	e.sess.SessionCount++ // totalUnfollowed 不变
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.DryRuns.Inc()
	}
	storage.WarnOnErr(e.store.IncrementDaily(), storage.KeyUnfollowStats)

	e.sendStatus(StatusUnfollowed, func(ev *Event) {
		ev.Username = c.ID
		ev.DryRun = true
	})
	now := time.Now()
	e.publish(Event{
		Type:      EventUserProcessed,
		Username:  c.ID,
		Action:    ActionDryRun,
		Timestamp: &now,
	})
	return true
}

// liveUnfollow 真实路径：Following 按钮 → 确认按钮 → 一次性提交副作用。
// 确认按钮未出现时不改动任何计数。
func (e *Engine) liveUnfollow(ctx context.Context, c Candidate) (bool, error) {
	page := e.pageRef()

	if err := page.ClickFollowing(c); err != nil {
		if err == ErrControlNotFound {
			logrus.WithField("username", c.ID).Debug("following button not found")
			return false, nil
		}
		return false, err
	}

	e.sleep(ctx, e.cfg.ButtonClickMin, e.cfg.ButtonClickMax)

	if err := page.ClickConfirmation(); err != nil {
		if err == ErrControlNotFound {
			logrus.WithField("username", c.ID).Debug("confirmation button not found")
			return false, nil
		}
		return false, err
	}

	e.sleep(ctx, e.cfg.MinDelay, e.cfg.MaxDelay)

	e.commitUnfollow(c.ID)
	return true, nil
}

// commitUnfollow 确认点击成功后的副作用，作为一个整体提交：
// 计数、撤销队列、会话持久化、按天统计、历史、事件。
func (e *Engine) commitUnfollow(username string) {
	now := time.Now()

	e.mu.Lock()
	e.sess.SessionCount++
	e.sess.TotalUnfollowed++
	e.sess.LastRun = &now

	e.undoQueue = append(e.undoQueue, storage.UndoEntry{
		Username:  username,
		Timestamp: now,
	})
	// 撤销队列有界，溢出时淘汰最旧的
	if len(e.undoQueue) > e.cfg.MaxUndoQueue {
		e.undoQueue = e.undoQueue[len(e.undoQueue)-e.cfg.MaxUndoQueue:]
	}
	undoSnapshot := append([]storage.UndoEntry(nil), e.undoQueue...)
	e.mu.Unlock()

	e.persistSession()
	storage.WarnOnErr(e.store.SaveUndoQueue(undoSnapshot), storage.KeyUndoQueue)
	storage.WarnOnErr(e.store.IncrementDaily(), storage.KeyUnfollowStats)
	storage.WarnOnErr(e.store.AppendHistory(storage.HistoryEntry{
		Username: username,
		Date:     now,
		Reason:   ActionManual,
	}), storage.KeyUnfollowHistory)

	if e.metrics != nil {
		e.metrics.Unfollows.Inc()
	}

	logrus.WithField("username", username).Info("unfollowed")

	e.sendStatus(StatusUnfollowed, func(ev *Event) {
		ev.Username = username
	})
	e.publish(Event{
		Type:      EventUserProcessed,
		Username:  username,
		Action:    ActionUnfollowed,
		Timestamp: &now,
	})
}

func (e *Engine) dryRunEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.DryRunMode
}

// isRateLimitErr 判断失败是否由限流引起。
// x.com 在限流时通常返回 429 / Too Many Requests。
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(strings.ToLower(msg), "too many requests")
}
