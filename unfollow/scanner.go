package unfollow

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// scan 扫描当前可见的用户单元格，把符合条件的追加进取关队列。
// 返回本次新入队的数量。
//
// 分类顺序（先命中先生效）：
//  1. 本次运行已扫描过 → 跳过
//  2. 带回关徽标 → 记为已处理并丢弃，不入队也不算跳过
//  3. 白名单命中 → skipped:whitelist 事件
//  4. 关键字命中 → skipped:keyword:<关键字> 事件
//  5. 其余按文档顺序入队
func (e *Engine) scan() (int, error) {
	candidates, err := e.pageRef().Candidates()
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.ScanPasses.Inc()
	}

	newlyFound := 0
	for _, c := range candidates {
		e.mu.Lock()
		if _, seen := e.processed[c.Key]; seen {
			e.mu.Unlock()
			continue
		}
		e.processed[c.Key] = struct{}{}
		e.mu.Unlock()

		if c.FollowsBack {
			continue
		}

		if reason, skip := e.shouldSkip(c); skip {
			e.emitSkip(c.ID, reason)
			continue
		}

		e.mu.Lock()
		e.queue = append(e.queue, c)
		e.mu.Unlock()
		newlyFound++
	}

	if newlyFound > 0 {
		queueSize := e.queueLen()
		logrus.WithFields(logrus.Fields{
			"found":      newlyFound,
			"queue_size": queueSize,
		}).Info("found non-followers")

		e.sendStatus(StatusScanning, func(ev *Event) {
			ev.Found = newlyFound
			ev.QueueSize = queueSize
		})
	}

	return newlyFound, nil
}

// shouldSkip 依次应用白名单与关键字过滤，返回命中原因。
func (e *Engine) shouldSkip(c Candidate) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	normalized := strings.ToLower(strings.TrimPrefix(c.ID, "@"))
	if _, ok := e.whitelist[normalized]; ok {
		return SkipReasonWhitelist, true
	}

	text := strings.ToLower(c.Text)
	for _, keyword := range e.keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(keyword)) {
			return skipReasonKeyword + keyword, true
		}
	}

	return "", false
}

// emitSkip 广播一条跳过事件，原因带 skipped: 前缀。
func (e *Engine) emitSkip(username, reason string) {
	logrus.WithFields(logrus.Fields{
		"username": username,
		"reason":   reason,
	}).Debug("skipping user")

	if e.metrics != nil {
		// 指标按原因大类聚合，关键字不展开成标签
		class := reason
		if strings.HasPrefix(reason, skipReasonKeyword) {
			class = "keyword"
		}
		e.metrics.Skips.WithLabelValues(class).Inc()
	}

	now := time.Now()
	e.publish(Event{
		Type:      EventUserProcessed,
		Username:  username,
		Action:    skipPrefix + reason,
		Timestamp: &now,
	})
}
