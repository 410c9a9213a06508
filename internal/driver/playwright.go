package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// 移动端仿真参数(iPhone X规格)
const (
	mobileViewportWidth  = 375
	mobileViewportHeight = 812
	mobileUserAgent      = "Mozilla/5.0 (iPhone; CPU iPhone OS 13_2_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/13.0.3 Mobile/15E148 Safari/604.1"
)

// PlaywrightDriver 基于Playwright协议的驱动后端
// 实现完整的扩展能力层:请求拦截、HAR录制、PDF导出、追踪、路由模拟
type PlaywrightDriver struct {
	config  models.DriverConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	harPath string
	started bool
}

// NewPlaywrightDriver 创建未启动的Playwright驱动
// 所有浏览器名称都能映射到Playwright的三个引擎之一
func NewPlaywrightDriver(config models.DriverConfig) (Driver, error) {
	switch config.Browser {
	case models.BrowserChrome, models.BrowserChromium, models.BrowserEdge,
		models.BrowserFirefox, models.BrowserWebKit, models.BrowserSafari:
		return &PlaywrightDriver{config: config}, nil
	}
	return nil, fmt.Errorf("%w: playwright后端不支持 %s", models.ErrUnmappableBrowser, config.Browser)
}

// browserType 浏览器名称到Playwright引擎的映射
func (d *PlaywrightDriver) browserType() playwright.BrowserType {
	switch d.config.Browser {
	case models.BrowserFirefox:
		return d.pw.Firefox
	case models.BrowserWebKit, models.BrowserSafari:
		return d.pw.WebKit
	default:
		// chrome/chromium/edge统一走Chromium引擎
		return d.pw.Chromium
	}
}

// contextOptions 构造浏览器上下文选项,移动端与HAR录制在此配置
func (d *PlaywrightDriver) contextOptions() playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{}
	if d.config.Mobile {
		opts.Viewport = &playwright.Size{
			Width:  mobileViewportWidth,
			Height: mobileViewportHeight,
		}
		opts.UserAgent = playwright.String(mobileUserAgent)
		opts.IsMobile = playwright.Bool(true)
		opts.HasTouch = playwright.Bool(true)
		opts.DeviceScaleFactor = playwright.Float(3)
	}
	if d.harPath != "" {
		opts.RecordHarPath = playwright.String(d.harPath)
	}
	return opts
}

// Start 启动Playwright运行时、浏览器、上下文与页面
func (d *PlaywrightDriver) Start(ctx context.Context) error {
	if d.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 静默运行,避免Playwright安装日志污染输出
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("启动Playwright失败: %w", err)
	}
	d.pw = pw

	browser, err := d.browserType().Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.config.Headless),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("启动浏览器失败 [%s]: %w", d.config.Browser, err)
	}
	d.browser = browser

	browserCtx, err := browser.NewContext(d.contextOptions())
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("创建浏览器上下文失败: %w", err)
	}
	d.context = browserCtx

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		pw.Stop()
		return fmt.Errorf("创建页面失败: %w", err)
	}
	page.SetDefaultTimeout(d.ms(d.config.OperationTimeout()))
	d.page = page

	d.started = true
	utils.Debugf("Playwright驱动已启动: %s", d.config.Browser)
	return nil
}

// Quit 按页面、上下文、浏览器、运行时的顺序关闭
// HAR录制的内容在上下文关闭时落盘
func (d *PlaywrightDriver) Quit(_ context.Context) error {
	if !d.started {
		return nil
	}
	d.started = false

	if d.page != nil {
		_ = d.page.Close()
	}
	if d.context != nil {
		_ = d.context.Close()
	}
	if d.browser != nil {
		_ = d.browser.Close()
	}

	var quitErr error
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			quitErr = fmt.Errorf("停止Playwright失败: %w", err)
		}
	}

	d.page = nil
	d.context = nil
	d.browser = nil
	d.pw = nil
	utils.Debugf("Playwright驱动已关闭")
	return quitErr
}

// ensure 校验驱动状态与context有效性
func (d *PlaywrightDriver) ensure(ctx context.Context) error {
	if !d.started || d.page == nil {
		return models.ErrDriverNotStarted
	}
	return ctx.Err()
}

// ms 时长到Playwright毫秒参数的转换
func (d *PlaywrightDriver) ms(t time.Duration) float64 {
	return float64(t.Milliseconds())
}

// pwSelector XPath选择器补上显式引擎前缀
// Playwright只自动识别"//"开头的XPath,"/html"这类绝对路径需要前缀
func pwSelector(selector string) string {
	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		return "xpath=" + selector
	}
	return selector
}

// Navigate 导航到目标URL,失败时按配置的重试次数重试
func (d *PlaywrightDriver) Navigate(ctx context.Context, pageURL string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	timeout := d.ms(d.config.NavigationTimeout())
	waitUntil := playwright.WaitUntilStateLoad
	gotoOpts := playwright.PageGotoOptions{
		Timeout:   &timeout,
		WaitUntil: waitUntil,
	}

	attempts := d.config.RetryCount + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			utils.Debugf("导航重试 [%d/%d]: %s", i, d.config.RetryCount, pageURL)
		}
		if _, err := d.page.Goto(pageURL, gotoOpts); err != nil {
			lastErr = err
			continue
		}
		d.dismissOverlays()
		return nil
	}
	return fmt.Errorf("导航失败 [%s]: %w", pageURL, lastErr)
}

// dismissOverlays 尽力关闭遮罩层,失败只降级为调试日志
func (d *PlaywrightDriver) dismissOverlays() {
	if !d.config.DismissOverlays {
		return
	}
	if _, err := d.page.Evaluate(dismissOverlayScript); err != nil {
		utils.Debugf("关闭遮罩层失败: %v", err)
	}
}

// Back 后退一页
func (d *PlaywrightDriver) Back(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if _, err := d.page.GoBack(); err != nil {
		return fmt.Errorf("后退失败: %w", err)
	}
	return nil
}

// Forward 前进一页
func (d *PlaywrightDriver) Forward(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if _, err := d.page.GoForward(); err != nil {
		return fmt.Errorf("前进失败: %w", err)
	}
	return nil
}

// Reload 刷新当前页面
func (d *PlaywrightDriver) Reload(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	timeout := d.ms(d.config.NavigationTimeout())
	if _, err := d.page.Reload(playwright.PageReloadOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("刷新失败: %w", err)
	}
	return nil
}

// Click 点击元素
func (d *PlaywrightDriver) Click(ctx context.Context, selector string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.page.Click(pwSelector(selector)); err != nil {
		return fmt.Errorf("点击失败 [%s]: %w", selector, err)
	}
	return nil
}

// Fill 填充输入框
// Playwright的Fill本身就是全量替换,ClearFirst无需额外处理
func (d *PlaywrightDriver) Fill(ctx context.Context, selector, value string, opts FillOptions) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.page.Fill(pwSelector(selector), value); err != nil {
		return fmt.Errorf("填充失败 [%s]: %w", selector, err)
	}
	if opts.PressEnter {
		if err := d.page.Keyboard().Press("Enter"); err != nil {
			return fmt.Errorf("回车失败 [%s]: %w", selector, err)
		}
	}
	return nil
}

// SelectOption 下拉框选择
func (d *PlaywrightDriver) SelectOption(ctx context.Context, selector string, target SelectTarget) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	var values playwright.SelectOptionValues
	mode, value, index := resolveSelectTarget(target)
	switch mode {
	case "value":
		values.Values = &[]string{value}
	case "text":
		values.Labels = &[]string{value}
	case "index":
		values.Indexes = &[]int{index}
	}

	if _, err := d.page.SelectOption(pwSelector(selector), values); err != nil {
		return fmt.Errorf("下拉框选择失败 [%s]: %w", selector, err)
	}
	return nil
}

// Hover 悬停在元素上
func (d *PlaywrightDriver) Hover(ctx context.Context, selector string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.page.Hover(pwSelector(selector)); err != nil {
		return fmt.Errorf("悬停失败 [%s]: %w", selector, err)
	}
	return nil
}

// PressKey 按下键盘按键,支持"Control+A"这类组合键
func (d *PlaywrightDriver) PressKey(ctx context.Context, keys string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.page.Keyboard().Press(keys); err != nil {
		return fmt.Errorf("按键失败 [%s]: %w", keys, err)
	}
	return nil
}

// PageSource 获取当前页面源码
func (d *PlaywrightDriver) PageSource(ctx context.Context) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	html, err := d.page.Content()
	if err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

// Text 获取元素文本,元素不存在时报错
func (d *PlaywrightDriver) Text(ctx context.Context, selector string) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	element, err := d.page.QuerySelector(pwSelector(selector))
	if err != nil {
		return "", fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	if element == nil {
		return "", fmt.Errorf("未找到元素 [%s]", selector)
	}
	text, err := element.TextContent()
	if err != nil {
		return "", fmt.Errorf("获取文本失败 [%s]: %w", selector, err)
	}
	return text, nil
}

// Attribute 获取元素属性值,属性不存在时返回空串
func (d *PlaywrightDriver) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	element, err := d.page.QuerySelector(pwSelector(selector))
	if err != nil {
		return "", fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	if element == nil {
		return "", fmt.Errorf("未找到元素 [%s]", selector)
	}
	attr, err := element.GetAttribute(name)
	if err != nil {
		return "", nil
	}
	return attr, nil
}

// AllTexts 获取所有匹配元素的文本列表
func (d *PlaywrightDriver) AllTexts(ctx context.Context, selector string) ([]string, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	elements, err := d.page.QuerySelectorAll(pwSelector(selector))
	if err != nil {
		return nil, fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}

	texts := make([]string, 0, len(elements))
	for _, element := range elements {
		text, err := element.TextContent()
		if err != nil {
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// Screenshot 截取整页截图(PNG)
func (d *PlaywrightDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	data, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return data, nil
}

// WaitForSelector 等待元素出现
func (d *PlaywrightDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.config.OperationTimeout()
	}
	timeoutMs := d.ms(timeout)
	_, err := d.page.WaitForSelector(pwSelector(selector), playwright.PageWaitForSelectorOptions{
		Timeout: &timeoutMs,
		State:   playwright.WaitForSelectorStateVisible,
	})
	if err != nil {
		return fmt.Errorf("等待元素超时 [%s]: %w", selector, err)
	}
	return nil
}

// WaitForNavigation 等待当前导航完成
func (d *PlaywrightDriver) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	return d.WaitForLoadState(ctx, LoadStateLoad, timeout)
}

// WaitForLoadState 等待页面到达指定加载状态
func (d *PlaywrightDriver) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.config.OperationTimeout()
	}
	timeoutMs := d.ms(timeout)

	opts := playwright.PageWaitForLoadStateOptions{Timeout: &timeoutMs}
	switch state {
	case LoadStateDOMContentLoaded:
		opts.State = playwright.LoadStateDomcontentloaded
	case LoadStateNetworkIdle:
		opts.State = playwright.LoadStateNetworkidle
	case LoadStateLoad, "":
		opts.State = playwright.LoadStateLoad
	default:
		return fmt.Errorf("未知的加载状态: %s", state)
	}

	if err := d.page.WaitForLoadState(opts); err != nil {
		return fmt.Errorf("等待加载状态失败 [%s]: %w", state, err)
	}
	return nil
}

// ExecuteScript 执行脚本,忽略返回值
func (d *PlaywrightDriver) ExecuteScript(ctx context.Context, script string, args ...any) error {
	_, err := d.Evaluate(ctx, script, args...)
	return err
}

// Evaluate 执行脚本并返回结果值
// Playwright的脚本只接受单个参数,多个参数打包成数组传入
func (d *PlaywrightDriver) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}

	var result any
	var err error
	switch len(args) {
	case 0:
		result, err = d.page.Evaluate(script)
	case 1:
		result, err = d.page.Evaluate(script, args[0])
	default:
		result, err = d.page.Evaluate(script, args)
	}
	if err != nil {
		return nil, fmt.Errorf("脚本执行失败: %w", err)
	}
	return result, nil
}

// Cookies 读取上下文全部Cookie
func (d *PlaywrightDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	raw, err := d.context.Cookies()
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
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return cookies, nil
}

// SetCookies 写入Cookie
func (d *PlaywrightDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	params := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := playwright.OptionalCookie{
			Name:  c.Name,
			Value: c.Value,
		}
		if c.Domain != "" {
			cookie.Domain = playwright.String(c.Domain)
		}
		if c.Path != "" {
			cookie.Path = playwright.String(c.Path)
		}
		if c.Expires > 0 {
			cookie.Expires = playwright.Float(c.Expires)
		}
		if c.Secure {
			cookie.Secure = playwright.Bool(true)
		}
		if c.HTTPOnly {
			cookie.HttpOnly = playwright.Bool(true)
		}
		params = append(params, cookie)
	}
	if err := d.context.AddCookies(params); err != nil {
		return fmt.Errorf("写入Cookie失败: %w", err)
	}
	return nil
}

// CurrentURL 当前页面URL
func (d *PlaywrightDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	return d.page.URL(), nil
}

// Type 驱动类型标识
func (d *PlaywrightDriver) Type() string {
	return models.DriverTypePlaywright
}

// Supports Playwright后端支持全部扩展能力
func (d *PlaywrightDriver) Supports(capability Capability) bool {
	switch capability {
	case CapInterceptRequests, CapRecordHAR, CapSavePDF, CapTracing, CapMockRoute:
		return true
	}
	return false
}

// InterceptRequests 注册请求拦截回调
// 回调返回false的请求被中止
func (d *PlaywrightDriver) InterceptRequests(ctx context.Context, handler RequestHandler) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	err := d.page.Route("**/*", func(route playwright.Route) {
		request := route.Request()
		if handler(request.URL(), request.ResourceType()) {
			if err := route.Continue(); err != nil {
				utils.Debugf("请求放行失败 [%s]: %v", request.URL(), err)
			}
			return
		}
		if err := route.Abort(); err != nil {
			utils.Debugf("请求中止失败 [%s]: %v", request.URL(), err)
		}
	})
	if err != nil {
		return fmt.Errorf("注册请求拦截失败: %w", err)
	}
	return nil
}

// RecordHAR 开启HAR录制
// Playwright要求在上下文创建时配置录制路径,因此重建上下文与页面;
// 录制内容在Quit关闭上下文时写入文件
func (d *PlaywrightDriver) RecordHAR(ctx context.Context, path string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	d.harPath = path
	_ = d.page.Close()
	_ = d.context.Close()

	browserCtx, err := d.browser.NewContext(d.contextOptions())
	if err != nil {
		return fmt.Errorf("重建上下文失败: %w", err)
	}
	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		return fmt.Errorf("重建页面失败: %w", err)
	}
	page.SetDefaultTimeout(d.ms(d.config.OperationTimeout()))

	d.context = browserCtx
	d.page = page
	utils.Debugf("HAR录制已开启: %s", path)
	return nil
}

// SavePDF 导出当前页面为PDF
// 仅Chromium系浏览器的无头模式支持
func (d *PlaywrightDriver) SavePDF(ctx context.Context, path string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if _, err := d.page.PDF(playwright.PagePdfOptions{
		Path: playwright.String(path),
	}); err != nil {
		return fmt.Errorf("导出PDF失败: %w", err)
	}
	return nil
}

// StartTracing 开启执行追踪(含截图与DOM快照)
func (d *PlaywrightDriver) StartTracing(ctx context.Context, name string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	err := d.context.Tracing().Start(playwright.TracingStartOptions{
		Title:       playwright.String(name),
		Screenshots: playwright.Bool(true),
		Snapshots:   playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("开启追踪失败: %w", err)
	}
	return nil
}

// StopTracing 停止追踪并写入文件
func (d *PlaywrightDriver) StopTracing(ctx context.Context, path string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	if err := d.context.Tracing().Stop(path); err != nil {
		return fmt.Errorf("停止追踪失败: %w", err)
	}
	return nil
}

// MockRoute 注册路由模拟,匹配的请求返回预设应答
func (d *PlaywrightDriver) MockRoute(ctx context.Context, pattern string, response MockResponse) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	status := response.Status
	if status == 0 {
		status = 200
	}
	contentType := response.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	err := d.page.Route(pattern, func(route playwright.Route) {
		fulfillErr := route.Fulfill(playwright.RouteFulfillOptions{
			Status:      playwright.Int(status),
			ContentType: playwright.String(contentType),
			Body:        response.Body,
		})
		if fulfillErr != nil {
			utils.Debugf("路由模拟应答失败 [%s]: %v", pattern, fulfillErr)
		}
	})
	if err != nil {
		return fmt.Errorf("注册路由模拟失败: %w", err)
	}
	return nil
}
