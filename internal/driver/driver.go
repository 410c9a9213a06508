// Package driver 将不同的浏览器自动化后端统一在同一个能力契约之后。
//
// 核心契约覆盖生命周期、导航、DOM交互、内容提取、等待与脚本执行,
// 所有后端必须完整实现;扩展能力(请求拦截、HAR录制、PDF导出、追踪、
// 路由模拟)按后端可选,调用方先通过Supports查询再使用。
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// Capability 驱动的可选能力标识
type Capability string

const (
	CapInterceptRequests Capability = "intercept_requests" // 请求拦截
	CapRecordHAR         Capability = "record_har"         // HAR录制
	CapSavePDF           Capability = "save_pdf"           // 页面导出PDF
	CapTracing           Capability = "tracing"            // 执行追踪
	CapMockRoute         Capability = "mock_route"         // 路由模拟
)

// 页面加载状态
const (
	LoadStateLoad             = "load"             // load事件完成
	LoadStateDOMContentLoaded = "domcontentloaded" // DOM解析完成
	LoadStateNetworkIdle      = "networkidle"      // 网络空闲
)

// FillOptions 填充输入框的附加选项
type FillOptions struct {
	ClearFirst bool // 填充前清空已有内容
	PressEnter bool // 填充后按回车
}

// SelectTarget 下拉框选择目标
// Value/Text/Index三选一,按声明顺序取第一个非零项
type SelectTarget struct {
	Value string // 按option的value属性选择
	Text  string // 按可见文本选择
	Index int    // 按序号选择(从0开始)
	Mode  string // value/text/index,显式指定时优先
}

// Cookie 浏览器Cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // Unix秒,0表示会话Cookie
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
}

// RequestHandler 请求拦截回调
// 返回false表示中止该请求,true表示放行
type RequestHandler func(requestURL, resourceType string) bool

// MockResponse 路由模拟的应答内容
type MockResponse struct {
	Status      int    // HTTP状态码,默认200
	ContentType string // Content-Type头部
	Body        []byte // 应答体
}

// Driver 浏览器驱动统一契约
// 所有方法接受context,超时或取消时尽快返回;
// 实现方负责把context期限映射到后端自己的超时机制
type Driver interface {
	// 生命周期
	Start(ctx context.Context) error
	Quit(ctx context.Context) error

	// 导航
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error

	// DOM交互
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string, opts FillOptions) error
	SelectOption(ctx context.Context, selector string, target SelectTarget) error
	Hover(ctx context.Context, selector string) error
	PressKey(ctx context.Context, keys string) error

	// 内容提取
	PageSource(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	AllTexts(ctx context.Context, selector string) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// 等待
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error

	// 脚本执行
	ExecuteScript(ctx context.Context, script string, args ...any) error
	Evaluate(ctx context.Context, script string, args ...any) (any, error)

	// Cookie
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error

	// 只读状态
	CurrentURL(ctx context.Context) (string, error)
	Type() string
	Supports(capability Capability) bool
}

// ExtendedDriver 扩展能力契约
// 仅部分后端实现,调用方应先Supports查询;
// 直接调用不支持的方法会得到ErrUnsupportedCapability
type ExtendedDriver interface {
	Driver

	InterceptRequests(ctx context.Context, handler RequestHandler) error
	RecordHAR(ctx context.Context, path string) error
	SavePDF(ctx context.Context, path string) error
	StartTracing(ctx context.Context, name string) error
	StopTracing(ctx context.Context, path string) error
	MockRoute(ctx context.Context, pattern string, response MockResponse) error
}

// UnsupportedExtras 扩展能力的默认实现
// 不支持扩展层的后端内嵌该结构体即可满足ExtendedDriver契约,
// 每个方法都返回ErrUnsupportedCapability
type UnsupportedExtras struct{}

func (UnsupportedExtras) InterceptRequests(_ context.Context, _ RequestHandler) error {
	return fmt.Errorf("%w: intercept_requests", models.ErrUnsupportedCapability)
}

func (UnsupportedExtras) RecordHAR(_ context.Context, _ string) error {
	return fmt.Errorf("%w: record_har", models.ErrUnsupportedCapability)
}

func (UnsupportedExtras) SavePDF(_ context.Context, _ string) error {
	return fmt.Errorf("%w: save_pdf", models.ErrUnsupportedCapability)
}

func (UnsupportedExtras) StartTracing(_ context.Context, _ string) error {
	return fmt.Errorf("%w: start_tracing", models.ErrUnsupportedCapability)
}

func (UnsupportedExtras) StopTracing(_ context.Context, _ string) error {
	return fmt.Errorf("%w: stop_tracing", models.ErrUnsupportedCapability)
}

func (UnsupportedExtras) MockRoute(_ context.Context, _ string, _ MockResponse) error {
	return fmt.Errorf("%w: mock_route", models.ErrUnsupportedCapability)
}

// DetectSelectorKind 自动识别选择器类型
// 以"/"、"./"或"("开头视为XPath,其余视为CSS
func DetectSelectorKind(selector string) string {
	trimmed := strings.TrimSpace(selector)
	if strings.HasPrefix(trimmed, "/") ||
		strings.HasPrefix(trimmed, "./") ||
		strings.HasPrefix(trimmed, "(") {
		return models.SelectorKindXPath
	}
	return models.SelectorKindCSS
}

// dismissOverlayScript 关闭常见遮罩层的脚本
// DismissOverlays开启时在导航完成后尽力执行,失败不影响导航结果
const dismissOverlayScript = `() => {
	const patterns = [
		'[class*="modal"] [class*="close"]',
		'[class*="popup"] [class*="close"]',
		'[class*="overlay"] [class*="close"]',
		'[id*="cookie"] button',
		'[class*="cookie"] button[class*="accept"]',
	];
	let clicked = 0;
	for (const pattern of patterns) {
		const el = document.querySelector(pattern);
		if (el) {
			el.click();
			clicked++;
		}
	}
	return clicked;
}`
