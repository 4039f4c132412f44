package unfollow

import (
	"time"

	"github.com/sirupsen/logrus"
)

// handleRateLimit 命中限流后的冷却流程：
// 记录并持久化到期时间、暂停循环、广播倒计时事件，
// 并安排到期后的自动复查。
func (e *Engine) handleRateLimit() {
	until := time.Now().Add(e.cfg.RateLimitWait)

	e.mu.Lock()
	e.sess.RateLimitUntil = &until
	e.paused = true
	e.armRateTimerLocked(e.cfg.RateLimitWait)
	e.mu.Unlock()

	e.persistSession()

	if e.metrics != nil {
		e.metrics.RateLimitHits.Inc()
	}

	mins := remainingMinutes(e.cfg.RateLimitWait)
	logrus.WithField("until", until.Format(time.RFC3339)).Warn("rate limit detected, cooling down")

	e.publish(Event{
		Type:             EventRateLimitHit,
		Until:            &until,
		RemainingMinutes: mins,
	})
	e.sendStatus(StatusRateLimit, func(ev *Event) {
		ev.RemainingMinutes = mins
	})
}

// armRateTimerLocked 安排冷却到期的自动复查。
// 新的限流事件到来时必须先取消旧定时器，调用方需持有 e.mu。
func (e *Engine) armRateTimerLocked(wait time.Duration) {
	if e.rateTimer != nil {
		e.rateTimer.Stop()
	}
	e.rateTimer = time.AfterFunc(wait, e.checkRateLimitExpiry)
}

// checkRateLimitExpiry 冷却到期复查：清除字段并恢复循环。
func (e *Engine) checkRateLimitExpiry() {
	e.mu.Lock()
	until := e.sess.RateLimitUntil
	if until == nil || time.Now().Before(*until) {
		e.mu.Unlock()
		return
	}
	e.sess.RateLimitUntil = nil
	e.paused = false
	stillRunning := e.running
	e.mu.Unlock()

	logrus.Info("rate limit expired, resuming")
	e.persistSession()

	if stillRunning {
		e.sendStatus(StatusResumed, func(ev *Event) {
			ev.Message = "rate limit cleared, resuming operation"
		})
	}
}
