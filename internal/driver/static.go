package driver

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// 静态驱动的默认请求头
const (
	staticUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	staticAcceptEncoding = "gzip, deflate, br"
)

// StaticDriver 无浏览器的HTTP驱动后端(使用Colly)
// 只做页面抓取与内容提取,DOM交互、脚本执行等需要浏览器的操作全部不支持;
// 适合纯静态站点,开销远低于浏览器后端
type StaticDriver struct {
	UnsupportedExtras

	config    models.DriverConfig
	collector *colly.Collector

	mu         sync.Mutex
	body       []byte
	doc        *goquery.Document
	currentURL string
	lastErr    error
	history    []string
	forward    []string
	started    bool
}

// NewStaticDriver 创建未启动的静态驱动
// 浏览器名称对静态驱动无意义,不做校验
func NewStaticDriver(config models.DriverConfig) (Driver, error) {
	return &StaticDriver{config: config}, nil
}

// Start 构建HTTP客户端与采集器
func (d *StaticDriver) Start(ctx context.Context) error {
	if d.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 禁用TLS证书验证,允许访问自签名、过期或主机名不匹配的HTTPS站点
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: d.config.NavigationTimeout(),
	}

	// 同步采集器,允许重复访问(Reload需要)
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	c.SetClient(httpClient)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", staticUserAgent)
		r.Headers.Set("Accept-Encoding", staticAcceptEncoding)
		utils.Debugf("访问: %s", r.URL.String())
	})

	c.OnResponse(func(r *colly.Response) {
		body := r.Body
		contentEncoding := r.Headers.Get("Content-Encoding")
		if contentEncoding != "" {
			decompressed, err := decompressResponse(contentEncoding, r.Body)
			if err != nil {
				utils.Warnf("解压响应失败 [%s] (编码=%s): %v", r.Request.URL, contentEncoding, err)
				// 解压失败,仍然尝试使用原始body
			} else {
				body = decompressed
			}
		}

		d.mu.Lock()
		d.body = body
		d.currentURL = r.Request.URL.String()
		d.lastErr = nil
		d.mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		d.mu.Lock()
		d.lastErr = &models.PageFetchError{URL: r.Request.URL.String(), Err: err}
		d.mu.Unlock()
	})

	d.collector = c
	d.started = true
	utils.Debugf("静态驱动已启动")
	return nil
}

// Quit 释放状态,无进程需要关闭
func (d *StaticDriver) Quit(_ context.Context) error {
	if !d.started {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = false
	d.collector = nil
	d.body = nil
	d.doc = nil
	d.currentURL = ""
	d.history = nil
	d.forward = nil
	utils.Debugf("静态驱动已关闭")
	return nil
}

// ensure 校验驱动状态与context有效性
func (d *StaticDriver) ensure(ctx context.Context) error {
	if !d.started || d.collector == nil {
		return models.ErrDriverNotStarted
	}
	return ctx.Err()
}

// fetch 抓取页面并解析文档,不操作历史栈
func (d *StaticDriver) fetch(pageURL string) error {
	d.mu.Lock()
	d.lastErr = nil
	d.body = nil
	d.doc = nil
	d.mu.Unlock()

	if err := d.collector.Visit(pageURL); err != nil {
		return &models.PageFetchError{URL: pageURL, Err: err}
	}
	d.collector.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastErr != nil {
		return d.lastErr
	}
	if d.body == nil {
		return &models.PageFetchError{URL: pageURL, Err: fmt.Errorf("未收到响应")}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("解析HTML失败 [%s]: %w", pageURL, err)
	}
	d.doc = doc
	return nil
}

// Navigate 抓取目标URL,失败时按配置的重试次数重试
func (d *StaticDriver) Navigate(ctx context.Context, pageURL string) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	previous := d.currentURL
	d.mu.Unlock()

	attempts := d.config.RetryCount + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			utils.Debugf("抓取重试 [%d/%d]: %s", i, d.config.RetryCount, pageURL)
		}
		if err := d.fetch(pageURL); err != nil {
			lastErr = err
			continue
		}

		d.mu.Lock()
		if previous != "" {
			d.history = append(d.history, previous)
		}
		d.forward = nil
		d.mu.Unlock()
		return nil
	}
	return fmt.Errorf("导航失败 [%s]: %w", pageURL, lastErr)
}

// Back 后退到上一个抓取过的URL
func (d *StaticDriver) Back(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	if len(d.history) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("后退失败: 没有历史记录")
	}
	target := d.history[len(d.history)-1]
	d.history = d.history[:len(d.history)-1]
	if d.currentURL != "" {
		d.forward = append(d.forward, d.currentURL)
	}
	d.mu.Unlock()

	return d.fetch(target)
}

// Forward 前进到后退前的URL
func (d *StaticDriver) Forward(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	if len(d.forward) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("前进失败: 没有前进记录")
	}
	target := d.forward[len(d.forward)-1]
	d.forward = d.forward[:len(d.forward)-1]
	if d.currentURL != "" {
		d.history = append(d.history, d.currentURL)
	}
	d.mu.Unlock()

	return d.fetch(target)
}

// Reload 重新抓取当前URL
func (d *StaticDriver) Reload(ctx context.Context) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	target := d.currentURL
	d.mu.Unlock()
	if target == "" {
		return fmt.Errorf("刷新失败: 尚未导航到任何页面")
	}
	return d.fetch(target)
}

// Click 静态驱动不支持DOM交互
func (d *StaticDriver) Click(_ context.Context, _ string) error {
	return fmt.Errorf("%w: 静态驱动不支持点击操作", models.ErrUnsupportedCapability)
}

// Fill 静态驱动不支持DOM交互
func (d *StaticDriver) Fill(_ context.Context, _, _ string, _ FillOptions) error {
	return fmt.Errorf("%w: 静态驱动不支持填充操作", models.ErrUnsupportedCapability)
}

// SelectOption 静态驱动不支持DOM交互
func (d *StaticDriver) SelectOption(_ context.Context, _ string, _ SelectTarget) error {
	return fmt.Errorf("%w: 静态驱动不支持下拉框操作", models.ErrUnsupportedCapability)
}

// Hover 静态驱动不支持DOM交互
func (d *StaticDriver) Hover(_ context.Context, _ string) error {
	return fmt.Errorf("%w: 静态驱动不支持悬停操作", models.ErrUnsupportedCapability)
}

// PressKey 静态驱动不支持键盘输入
func (d *StaticDriver) PressKey(_ context.Context, _ string) error {
	return fmt.Errorf("%w: 静态驱动不支持键盘操作", models.ErrUnsupportedCapability)
}

// PageSource 返回最近一次抓取的页面内容
func (d *StaticDriver) PageSource(ctx context.Context) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.body == nil {
		return "", fmt.Errorf("尚未导航到任何页面")
	}
	return string(d.body), nil
}

// document 当前解析后的文档句柄
func (d *StaticDriver) document() (*goquery.Document, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, nil, fmt.Errorf("尚未导航到任何页面")
	}
	return d.doc, d.body, nil
}

// Text 获取元素文本
func (d *StaticDriver) Text(ctx context.Context, selector string) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	doc, body, err := d.document()
	if err != nil {
		return "", err
	}

	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		node, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("解析HTML失败: %w", err)
		}
		found, err := htmlquery.QueryAll(node, selector)
		if err != nil {
			return "", fmt.Errorf("XPath查询失败 [%s]: %w", selector, err)
		}
		if len(found) == 0 {
			return "", fmt.Errorf("未找到元素 [%s]", selector)
		}
		return htmlquery.InnerText(found[0]), nil
	}

	selection, err := utils.SafeSelect(doc, selector)
	if err != nil {
		return "", err
	}
	if selection.Length() == 0 {
		return "", fmt.Errorf("未找到元素 [%s]", selector)
	}
	return selection.First().Text(), nil
}

// Attribute 获取元素属性值,属性不存在时返回空串
func (d *StaticDriver) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	doc, body, err := d.document()
	if err != nil {
		return "", err
	}

	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		node, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("解析HTML失败: %w", err)
		}
		found, err := htmlquery.QueryAll(node, selector)
		if err != nil {
			return "", fmt.Errorf("XPath查询失败 [%s]: %w", selector, err)
		}
		if len(found) == 0 {
			return "", fmt.Errorf("未找到元素 [%s]", selector)
		}
		return htmlquery.SelectAttr(found[0], name), nil
	}

	selection, err := utils.SafeSelect(doc, selector)
	if err != nil {
		return "", err
	}
	if selection.Length() == 0 {
		return "", fmt.Errorf("未找到元素 [%s]", selector)
	}
	value, _ := selection.First().Attr(name)
	return value, nil
}

// AllTexts 获取所有匹配元素的文本列表
func (d *StaticDriver) AllTexts(ctx context.Context, selector string) ([]string, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	doc, body, err := d.document()
	if err != nil {
		return nil, err
	}

	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		node, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("解析HTML失败: %w", err)
		}
		found, err := htmlquery.QueryAll(node, selector)
		if err != nil {
			return nil, fmt.Errorf("XPath查询失败 [%s]: %w", selector, err)
		}
		texts := make([]string, 0, len(found))
		for _, n := range found {
			texts = append(texts, htmlquery.InnerText(n))
		}
		return texts, nil
	}

	selection, err := utils.SafeSelect(doc, selector)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, selection.Length())
	selection.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	return texts, nil
}

// Screenshot 静态驱动无法渲染页面
func (d *StaticDriver) Screenshot(_ context.Context) ([]byte, error) {
	return nil, fmt.Errorf("%w: 静态驱动不支持截图", models.ErrUnsupportedCapability)
}

// WaitForSelector 静态内容已完整加载,只做即时存在性检查
func (d *StaticDriver) WaitForSelector(ctx context.Context, selector string, _ time.Duration) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}
	doc, body, err := d.document()
	if err != nil {
		return err
	}

	if DetectSelectorKind(selector) == models.SelectorKindXPath {
		node, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("解析HTML失败: %w", err)
		}
		found, err := htmlquery.QueryAll(node, selector)
		if err != nil {
			return fmt.Errorf("XPath查询失败 [%s]: %w", selector, err)
		}
		if len(found) == 0 {
			return fmt.Errorf("等待元素失败 [%s]: 静态页面中不存在", selector)
		}
		return nil
	}

	selection, err := utils.SafeSelect(doc, selector)
	if err != nil {
		return err
	}
	if selection.Length() == 0 {
		return fmt.Errorf("等待元素失败 [%s]: 静态页面中不存在", selector)
	}
	return nil
}

// WaitForNavigation 抓取完成即导航完成
func (d *StaticDriver) WaitForNavigation(ctx context.Context, _ time.Duration) error {
	return d.ensure(ctx)
}

// WaitForLoadState 抓取完成即加载完成
func (d *StaticDriver) WaitForLoadState(ctx context.Context, _ string, _ time.Duration) error {
	return d.ensure(ctx)
}

// ExecuteScript 静态驱动无JS运行时
func (d *StaticDriver) ExecuteScript(_ context.Context, _ string, _ ...any) error {
	return fmt.Errorf("%w: 静态驱动不支持脚本执行", models.ErrUnsupportedCapability)
}

// Evaluate 静态驱动无JS运行时
func (d *StaticDriver) Evaluate(_ context.Context, _ string, _ ...any) (any, error) {
	return nil, fmt.Errorf("%w: 静态驱动不支持脚本执行", models.ErrUnsupportedCapability)
}

// cookieScope Cookie操作的作用域URL
func (d *StaticDriver) cookieScope(domain string) (string, error) {
	if domain != "" {
		return "https://" + strings.TrimPrefix(domain, "."), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentURL == "" {
		return "", fmt.Errorf("Cookie操作需要先导航或指定域名")
	}
	return d.currentURL, nil
}

// Cookies 读取当前URL作用域下的Cookie
func (d *StaticDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	scope, err := d.cookieScope("")
	if err != nil {
		return nil, err
	}

	raw := d.collector.Cookies(scope)
	parsed, err := url.Parse(scope)
	if err != nil {
		return nil, fmt.Errorf("解析Cookie作用域失败: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if cookie.Domain == "" {
			cookie.Domain = parsed.Hostname()
		}
		if !c.Expires.IsZero() {
			cookie.Expires = float64(c.Expires.Unix())
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// SetCookies 写入Cookie,按Cookie的Domain或当前URL确定作用域
func (d *StaticDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := d.ensure(ctx); err != nil {
		return err
	}

	// 按作用域分组写入
	grouped := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		scope, err := d.cookieScope(c.Domain)
		if err != nil {
			return err
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		grouped[scope] = append(grouped[scope], cookie)
	}

	for scope, group := range grouped {
		if err := d.collector.SetCookies(scope, group); err != nil {
			return fmt.Errorf("写入Cookie失败 [%s]: %w", scope, err)
		}
	}
	return nil
}

// CurrentURL 最近一次抓取的最终URL(重定向后)
func (d *StaticDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := d.ensure(ctx); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentURL, nil
}

// Type 驱动类型标识
func (d *StaticDriver) Type() string {
	return models.DriverTypeStatic
}

// Supports 静态驱动不支持任何扩展能力
func (d *StaticDriver) Supports(_ Capability) bool {
	return false
}

// decompressResponse 根据Content-Encoding头部解压响应体
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		// 未知编码,返回警告但仍然返回原始内容
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
