package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// RodDriver 基于Chrome DevTools协议的驱动后端
// 仅实现核心契约,扩展能力全部不支持
type RodDriver struct {
	UnsupportedExtras

	config   models.DriverConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	started  bool
}

// NewRodDriver 创建未启动的Rod驱动
// 浏览器名称在此时校验,无法映射的名称快速失败
func NewRodDriver(config models.DriverConfig) (Driver, error) {
	switch config.Browser {
	case models.BrowserChrome, models.BrowserChromium, models.BrowserEdge:
		// Chromium系浏览器,launcher自动探测已安装的二进制
	default:
		return nil, fmt.Errorf("%w: rod后端不支持 %s (支持: chrome, chromium, edge)",
			models.ErrUnmappableBrowser, config.Browser)
	}

	return &RodDriver{config: config}, nil
}

// Start 启动浏览器并打开初始页面
func (d *RodDriver) Start(ctx context.Context) error {
	if d.started {
		return nil
	}

	// 配置launcher
	l := launcher.New()
	l = l.Headless(d.config.Headless)

	// 允许访问自签名、过期或主机名不匹配的HTTPS站点
	l = l.Set("ignore-certificate-errors")

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}
	d.launcher = l

	// 连接到浏览器
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	d.browser = browser

	// 打开初始页面
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		l.Cleanup()
		return fmt.Errorf("创建页面失败: %w", err)
	}

	// 移动端仿真
	if d.config.Mobile {
		if err := page.Emulate(devices.IPhoneX); err != nil {
			utils.Warnf("移动端仿真设置失败: %v", err)
		}
	}

	d.page = page
	d.started = true
	utils.Debugf("Rod驱动已启动: %s", controlURL)
	return nil
}

// Quit 关闭页面与浏览器,释放launcher资源
func (d *RodDriver) Quit(_ context.Context) error {
	if !d.started {
		return nil
	}
	d.started = false

	var quitErr error
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			quitErr = fmt.Errorf("关闭浏览器失败: %w", err)
		}
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}

	d.page = nil
	d.browser = nil
	utils.Debugf("Rod驱动已关闭")
	return quitErr
}

// pageCtx 绑定context与操作超时后的页面句柄
func (d *RodDriver) pageCtx(ctx context.Context, timeout time.Duration) (*rod.Page, error) {
	if !d.started || d.page == nil {
		return nil, models.ErrDriverNotStarted
	}
	if timeout <= 0 {
		timeout = d.config.OperationTimeout()
	}
	return d.page.Context(ctx).Timeout(timeout), nil
}

// element 按选择器类型查找元素(等待元素出现)
func (d *RodDriver) element(page *rod.Page, selector string) (*rod.Element, error) {
	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		return page.ElementX(selector)
	}
	return page.Element(selector)
}

// Navigate 导航到目标URL,失败时按配置的重试次数重试
func (d *RodDriver) Navigate(ctx context.Context, pageURL string) error {
	page, err := d.pageCtx(ctx, d.config.NavigationTimeout())
	if err != nil {
		return err
	}

	attempts := d.config.RetryCount + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			utils.Debugf("导航重试 [%d/%d]: %s", i, d.config.RetryCount, pageURL)
		}
		if err := page.Navigate(pageURL); err != nil {
			lastErr = err
			continue
		}
		if err := page.WaitLoad(); err != nil {
			lastErr = err
			continue
		}
		d.dismissOverlays(page)
		return nil
	}
	return fmt.Errorf("导航失败 [%s]: %w", pageURL, lastErr)
}

// dismissOverlays 尽力关闭遮罩层,失败只降级为调试日志
func (d *RodDriver) dismissOverlays(page *rod.Page) {
	if !d.config.DismissOverlays {
		return
	}
	if _, err := page.Eval(dismissOverlayScript); err != nil {
		utils.Debugf("关闭遮罩层失败: %v", err)
	}
}

// Back 后退一页
func (d *RodDriver) Back(ctx context.Context) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	if err := page.NavigateBack(); err != nil {
		return fmt.Errorf("后退失败: %w", err)
	}
	return page.WaitLoad()
}

// Forward 前进一页
func (d *RodDriver) Forward(ctx context.Context) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	if err := page.NavigateForward(); err != nil {
		return fmt.Errorf("前进失败: %w", err)
	}
	return page.WaitLoad()
}

// Reload 刷新当前页面
func (d *RodDriver) Reload(ctx context.Context) error {
	page, err := d.pageCtx(ctx, d.config.NavigationTimeout())
	if err != nil {
		return err
	}
	if err := page.Reload(); err != nil {
		return fmt.Errorf("刷新失败: %w", err)
	}
	return page.WaitLoad()
}

// Click 点击元素
func (d *RodDriver) Click(ctx context.Context, selector string) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("点击失败 [%s]: %w", selector, err)
	}
	return nil
}

// Fill 填充输入框
func (d *RodDriver) Fill(ctx context.Context, selector, value string, opts FillOptions) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}

	if opts.ClearFirst {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("清空输入框失败 [%s]: %w", selector, err)
		}
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("填充失败 [%s]: %w", selector, err)
	}
	if opts.PressEnter {
		if err := el.Type(input.Enter); err != nil {
			return fmt.Errorf("回车失败 [%s]: %w", selector, err)
		}
	}
	return nil
}

// SelectOption 下拉框选择
// 通过JS统一处理value/text/index三种模式并触发change事件
func (d *RodDriver) SelectOption(ctx context.Context, selector string, target SelectTarget) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}

	mode, value, index := resolveSelectTarget(target)
	js := `(mode, value, index) => {
		const sel = this;
		if (mode === "value") {
			sel.value = value;
		} else if (mode === "index") {
			sel.selectedIndex = index;
		} else {
			for (const opt of sel.options) {
				if (opt.text.trim() === value) {
					sel.value = opt.value;
					break;
				}
			}
		}
		sel.dispatchEvent(new Event("change", { bubbles: true }));
		return sel.value;
	}`
	if _, err := el.Eval(js, mode, value, index); err != nil {
		return fmt.Errorf("下拉框选择失败 [%s]: %w", selector, err)
	}
	return nil
}

// Hover 悬停在元素上
func (d *RodDriver) Hover(ctx context.Context, selector string) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	if err := el.Hover(); err != nil {
		return fmt.Errorf("悬停失败 [%s]: %w", selector, err)
	}
	return nil
}

// PressKey 按下键盘按键
// 支持常见单键名称,其余输入按文本插入处理(不支持组合键)
func (d *RodDriver) PressKey(ctx context.Context, keys string) error {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return err
	}
	if key, ok := rodKey(keys); ok {
		if err := page.Keyboard.Press(key); err != nil {
			return fmt.Errorf("按键失败 [%s]: %w", keys, err)
		}
		return nil
	}
	if err := page.InsertText(keys); err != nil {
		return fmt.Errorf("输入文本失败 [%s]: %w", keys, err)
	}
	return nil
}

// PageSource 获取当前页面源码
func (d *RodDriver) PageSource(ctx context.Context) (string, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return "", err
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

// Text 获取元素文本
func (d *RodDriver) Text(ctx context.Context, selector string) (string, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return "", err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return "", fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("获取文本失败 [%s]: %w", selector, err)
	}
	return text, nil
}

// Attribute 获取元素属性值,属性不存在时返回空串
func (d *RodDriver) Attribute(ctx context.Context, selector, name string) (string, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return "", err
	}
	el, err := d.element(page, selector)
	if err != nil {
		return "", fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	attr, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("获取属性失败 [%s.%s]: %w", selector, name, err)
	}
	if attr == nil {
		return "", nil
	}
	return *attr, nil
}

// AllTexts 获取所有匹配元素的文本列表
func (d *RodDriver) AllTexts(ctx context.Context, selector string) ([]string, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return nil, err
	}

	var elements rod.Elements
	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		elements, err = page.ElementsX(selector)
	} else {
		elements, err = page.Elements(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}

	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		text, err := el.Text()
		if err != nil {
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// Screenshot 截取整页截图(PNG)
func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return data, nil
}

// WaitForSelector 等待元素出现
func (d *RodDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	page, err := d.pageCtx(ctx, timeout)
	if err != nil {
		return err
	}
	if _, err := d.element(page, selector); err != nil {
		return fmt.Errorf("等待元素超时 [%s]: %w", selector, err)
	}
	return nil
}

// WaitForNavigation 等待当前导航完成
func (d *RodDriver) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	page, err := d.pageCtx(ctx, timeout)
	if err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("等待导航完成失败: %w", err)
	}
	return nil
}

// WaitForLoadState 等待页面到达指定加载状态
func (d *RodDriver) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	page, err := d.pageCtx(ctx, timeout)
	if err != nil {
		return err
	}

	switch state {
	case LoadStateDOMContentLoaded:
		err = page.Wait(rod.Eval(`() => document.readyState === "interactive" || document.readyState === "complete"`))
	case LoadStateNetworkIdle:
		err = page.WaitIdle(timeout)
	case LoadStateLoad, "":
		err = page.WaitLoad()
	default:
		return fmt.Errorf("未知的加载状态: %s", state)
	}
	if err != nil {
		return fmt.Errorf("等待加载状态失败 [%s]: %w", state, err)
	}
	return nil
}

// ExecuteScript 执行脚本,忽略返回值
func (d *RodDriver) ExecuteScript(ctx context.Context, script string, args ...any) error {
	_, err := d.Evaluate(ctx, script, args...)
	return err
}

// Evaluate 执行脚本并返回结果值
func (d *RodDriver) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return nil, err
	}
	result, err := page.Eval(rodFunction(script), args...)
	if err != nil {
		return nil, fmt.Errorf("脚本执行失败: %w", err)
	}
	return result.Value.Val(), nil
}

// Cookies 读取浏览器全部Cookie
func (d *RodDriver) Cookies(_ context.Context) ([]Cookie, error) {
	if !d.started || d.browser == nil {
		return nil, models.ErrDriverNotStarted
	}
	raw, err := d.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("读取Cookie失败: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return cookies, nil
}

// SetCookies 写入Cookie
func (d *RodDriver) SetCookies(_ context.Context, cookies []Cookie) error {
	if !d.started || d.page == nil {
		return models.ErrDriverNotStarted
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, param)
	}
	if err := d.page.SetCookies(params); err != nil {
		return fmt.Errorf("写入Cookie失败: %w", err)
	}
	return nil
}

// CurrentURL 当前页面URL
func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	page, err := d.pageCtx(ctx, 0)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("获取页面信息失败: %w", err)
	}
	return info.URL, nil
}

// Type 驱动类型标识
func (d *RodDriver) Type() string {
	return models.DriverTypeRod
}

// Supports Rod后端不支持任何扩展能力
func (d *RodDriver) Supports(_ Capability) bool {
	return false
}

// rodFunction 将脚本包装为rod要求的函数表达式
// 已经是函数形式的脚本原样使用
func rodFunction(script string) string {
	trimmed := strings.TrimSpace(script)
	if strings.HasPrefix(trimmed, "(") ||
		strings.HasPrefix(trimmed, "function") ||
		strings.HasPrefix(trimmed, "async") {
		return trimmed
	}
	return "() => { " + trimmed + " }"
}

// rodKey 将按键名称映射到rod的按键定义
func rodKey(name string) (input.Key, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "enter", "return":
		return input.Enter, true
	case "tab":
		return input.Tab, true
	case "escape", "esc":
		return input.Escape, true
	case "backspace":
		return input.Backspace, true
	case "delete", "del":
		return input.Delete, true
	case "arrowup", "up":
		return input.ArrowUp, true
	case "arrowdown", "down":
		return input.ArrowDown, true
	case "arrowleft", "left":
		return input.ArrowLeft, true
	case "arrowright", "right":
		return input.ArrowRight, true
	case "pageup":
		return input.PageUp, true
	case "pagedown":
		return input.PageDown, true
	case "home":
		return input.Home, true
	case "end":
		return input.End, true
	case "space":
		return input.Space, true
	}
	return 0, false
}

// resolveSelectTarget 解析下拉框选择目标,返回(模式, 值, 序号)
func resolveSelectTarget(target SelectTarget) (string, string, int) {
	switch target.Mode {
	case "value":
		return "value", target.Value, 0
	case "text":
		return "text", target.Text, 0
	case "index":
		return "index", "", target.Index
	}
	if target.Value != "" {
		return "value", target.Value, 0
	}
	if target.Text != "" {
		return "text", target.Text, 0
	}
	return "index", "", target.Index
}
