package unfollow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// confirmWait 等待确认弹层出现的上限。超时视为控件不存在。
const confirmWait = 3 * time.Second

// followButtonPatterns 个人主页上的 "Follow" 按钮文案，回关用。
// 注意与 FollowingButtonPatterns 区分：Follow 是 Following 的前缀，
// 必须做整词比较。
var followButtonPatterns = []string{"Follow", "Takip et"}

// RodPage 基于 go-rod 的 FollowingPage 实现，面向 x.com 的
// /following 页面。
type RodPage struct {
	page *rod.Page
}

// NewRodPage 包装一个已配置好的 rod 页面。
func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

// OpenFollowing 导航到指定账号的 following 列表页。
func (p *RodPage) OpenFollowing(ctx context.Context, username string) error {
	navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	page := p.page.Context(navCtx)
	url := fmt.Sprintf("https://x.com/%s/following", username)

	if err := page.Navigate(url); err != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	if err := page.WaitLoad(); err != nil {
		return errors.Wrap(err, "wait for following page load")
	}
	return nil
}

// Candidates 枚举主内容列中的用户单元格。
// 单元格 HTML 一次性取出后用 goquery 解析，避免对每个字段都走一轮
// DevTools 协议往返。
func (p *RodPage) Candidates() ([]Candidate, error) {
	cells, err := p.page.Elements(SelectorUserCellMain)
	if err != nil {
		return nil, errors.Wrap(err, "query user cells")
	}

	candidates := make([]Candidate, 0, len(cells))
	for _, cell := range cells {
		html, err := cell.HTML()
		if err != nil {
			// 单元格在枚举和读取之间被虚拟列表回收，忽略
			logrus.Debugf("cell html read failed, skipping: %v", err)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			logrus.Debugf("cell html parse failed, skipping: %v", err)
			continue
		}

		text := doc.Text()

		id := UnknownUser
		if href, ok := doc.Find(SelectorRoleLink).First().Attr("href"); ok {
			if parts := strings.Split(href, "/"); len(parts) > 1 && parts[1] != "" {
				id = parts[1]
			}
		}

		// 无法解析 handle 的单元格按引用去重，防止同一个异常
		// 单元格被反复处理
		key := id
		if id == UnknownUser {
			key = "unknown#" + string(cell.Object.ObjectID)
		}

		candidates = append(candidates, Candidate{
			ID:          id,
			Key:         key,
			FollowsBack: containsAny(text, FollowsYouPatterns),
			Text:        text,
			Ref:         cell,
		})
	}

	return candidates, nil
}

// CellCount 主内容列中用户单元格总数。
func (p *RodPage) CellCount() (int, error) {
	cells, err := p.page.Elements(SelectorUserCellMain)
	if err != nil {
		return 0, errors.Wrap(err, "query user cells")
	}
	return len(cells), nil
}

// ScrollToBottom 滚动到文档底部触发懒加载。
func (p *RodPage) ScrollToBottom() error {
	_, err := p.page.Eval(`() => window.scrollTo(0, document.documentElement.scrollHeight)`)
	return errors.Wrap(err, "scroll to bottom")
}

// Alive 判断单元格是否仍挂在文档上。
func (p *RodPage) Alive(c Candidate) bool {
	cell, ok := c.Ref.(*rod.Element)
	if !ok || cell == nil {
		return false
	}
	res, err := cell.Eval(`() => document.contains(this)`)
	return err == nil && res.Value.Bool()
}

// ClickFollowing 在单元格内找到 Following 按钮并点击。
func (p *RodPage) ClickFollowing(c Candidate) error {
	cell, ok := c.Ref.(*rod.Element)
	if !ok || cell == nil {
		return ErrStale
	}

	buttons, err := cell.Elements(SelectorRoleButton)
	if err != nil {
		return errors.Wrap(err, "query buttons in cell")
	}

	for _, button := range buttons {
		text, err := button.Text()
		if err != nil {
			continue
		}
		if containsAny(text, FollowingButtonPatterns) {
			return errors.Wrap(button.Click(proto.InputMouseButtonLeft, 1), "click following button")
		}
	}

	return ErrControlNotFound
}

// ClickConfirmation 点击页面级的取关确认按钮。
func (p *RodPage) ClickConfirmation() error {
	confirm, err := p.page.Timeout(confirmWait).Element(SelectorConfirmButton)
	if err != nil {
		return ErrControlNotFound
	}
	if visible, _ := confirm.Visible(); !visible {
		return ErrControlNotFound
	}
	return errors.Wrap(confirm.Click(proto.InputMouseButtonLeft, 1), "click confirmation button")
}

// Refollow 导航到目标主页并点击 Follow 按钮。
// 会离开 following 列表页，通常在循环停止后由操作者触发。
func (p *RodPage) Refollow(ctx context.Context, username string) error {
	navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	page := p.page.Context(navCtx)
	url := fmt.Sprintf("https://x.com/%s", username)

	if err := page.Navigate(url); err != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	if err := page.WaitLoad(); err != nil {
		return errors.Wrap(err, "wait for profile load")
	}
	time.Sleep(randomDuration(1000*time.Millisecond, 2000*time.Millisecond))

	buttons, err := page.Elements(SelectorRoleButton)
	if err != nil {
		return errors.Wrap(err, "query follow buttons")
	}

	for _, button := range buttons {
		text, err := button.Text()
		if err != nil {
			continue
		}
		trimmed := strings.TrimSpace(text)
		for _, pattern := range followButtonPatterns {
			if trimmed == pattern {
				return errors.Wrap(button.Click(proto.InputMouseButtonLeft, 1), "click follow button")
			}
		}
	}

	return ErrControlNotFound
}

// containsAny 文本是否包含任一模式。
func containsAny(text string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}
