package browser

import (
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/sirupsen/logrus"
	"github.com/xpzouying/headless_browser"

	"github.com/xpzouying/unfollow-radar/cookies"
)

type browserConfig struct {
	binPath string
}

type Option func(*browserConfig)

func WithBinPath(binPath string) Option {
	return func(c *browserConfig) {
		c.binPath = binPath
	}
}

// NewBrowser 创建带登录态的浏览器实例。
// 依赖已有的 x.com 登录 cookies，本程序不做任何登录流程。
func NewBrowser(headless bool, options ...Option) *headless_browser.Browser {
	cfg := &browserConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	opts := []headless_browser.Option{
		headless_browser.WithHeadless(headless),
	}
	if cfg.binPath != "" {
		opts = append(opts, headless_browser.WithChromeBinPath(cfg.binPath))
	}

	// 加载 cookies
	cookiePath := cookies.GetCookiesFilePath()
	cookieLoader := cookies.NewLoadCookie(cookiePath)

	if data, err := cookieLoader.LoadCookies(); err == nil {
		opts = append(opts, headless_browser.WithCookies(string(data)))
		logrus.WithField("cookies_path", cookiePath).Debug("loaded cookies from file successfully")
	} else {
		logrus.WithField("cookies_path", cookiePath).Warnf("failed to load cookies: %v", err)
	}

	return headless_browser.New(opts...)
}

// ConfigurePage 配置页面环境。
// headless_browser 内部的 stealth 库会伪装 UA，这里统一补齐语言相关的
// navigator 属性，避免 x.com 因为请求头与 navigator.languages 不一致
// 而下发意外的界面语言，导致文本匹配（Follows you / Following）失效。
func ConfigurePage(page *rod.Page) {
	// 忽略错误，页面已关闭时会失败，但不影响主流程
	if _, err := page.SetExtraHeaders([]string{"Accept-Language", "en-US,en;q=0.9,tr;q=0.8"}); err != nil {
		logrus.Warnf("failed to set accept-language header: %v", err)
	}

	_, err := page.EvalOnNewDocument(`
		Object.defineProperty(navigator, 'languages', {
			get: () => ['en-US', 'en', 'tr']
		});
		Object.defineProperty(navigator, 'language', {
			get: () => 'en-US'
		});
	`)
	if err != nil {
		logrus.Warnf("failed to set language script: %v", err)
	}
}

// SavePageCookies 将当前页面的 cookies 保存回指定文件，保证会话持久化。
func SavePageCookies(page *rod.Page, cookiePath string) error {
	cks, err := page.Browser().GetCookies()
	if err != nil {
		return err
	}

	data, err := json.Marshal(cks)
	if err != nil {
		return err
	}

	cookieLoader := cookies.NewLoadCookie(cookiePath)
	return cookieLoader.SaveCookies(data)
}
