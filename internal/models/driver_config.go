package models

import (
	"fmt"
	"time"
)

// 驱动后端类型
const (
	DriverTypeRod        = "rod"        // Chrome DevTools协议后端
	DriverTypePlaywright = "playwright" // Playwright后端(支持扩展能力)
	DriverTypeStatic     = "static"     // 纯HTTP后端(仅导航+提取)
)

// 通用浏览器名称(由各后端翻译为自己的标识)
const (
	BrowserChrome   = "chrome"
	BrowserChromium = "chromium"
	BrowserEdge     = "edge"
	BrowserFirefox  = "firefox"
	BrowserWebKit   = "webkit"
	BrowserSafari   = "safari"
)

// DriverConfig 驱动配置(不可变值对象)
// 通过Merge生成新实例,任何场景下都不原地修改
type DriverConfig struct {
	Type            string  `json:"type" mapstructure:"type"`                           // 驱动后端: rod/playwright/static
	Browser         string  `json:"browser" mapstructure:"browser"`                     // 浏览器名称
	Headless        bool    `json:"headless" mapstructure:"headless"`                   // 无头模式
	Mobile          bool    `json:"mobile" mapstructure:"mobile"`                       // 移动端仿真
	Timeout         int     `json:"timeout" mapstructure:"timeout"`                     // 单操作超时(秒)
	PageLoadTimeout int     `json:"page_load_timeout" mapstructure:"page_load_timeout"` // 页面加载超时(秒)
	RetryCount      int     `json:"retry_count" mapstructure:"retry_count"`             // 操作重试次数
	ActionDelay     float64 `json:"action_delay" mapstructure:"action_delay"`           // 步骤间延迟(秒,允许小数)
	DismissOverlays bool    `json:"dismiss_overlays" mapstructure:"dismiss_overlays"`   // 导航后自动关闭遮罩层
}

// DefaultDriverConfig 返回默认驱动配置
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Type:            DriverTypeRod,
		Browser:         BrowserChrome,
		Headless:        true,
		Mobile:          false,
		Timeout:         30,
		PageLoadTimeout: 60,
		RetryCount:      2,
		ActionDelay:     0.5,
		DismissOverlays: false,
	}
}

// DriverOverrides 驱动配置覆盖项
// 指针字段区分"未设置"与零值,false/0同样可以显式覆盖
type DriverOverrides struct {
	Type            *string
	Browser         *string
	Headless        *bool
	Mobile          *bool
	Timeout         *int
	PageLoadTimeout *int
	RetryCount      *int
	ActionDelay     *float64
	DismissOverlays *bool
}

// Merge 应用覆盖项并返回新的配置实例,原实例保持不变
func (c DriverConfig) Merge(o DriverOverrides) DriverConfig {
	merged := c
	if o.Type != nil {
		merged.Type = *o.Type
	}
	if o.Browser != nil {
		merged.Browser = *o.Browser
	}
	if o.Headless != nil {
		merged.Headless = *o.Headless
	}
	if o.Mobile != nil {
		merged.Mobile = *o.Mobile
	}
	if o.Timeout != nil {
		merged.Timeout = *o.Timeout
	}
	if o.PageLoadTimeout != nil {
		merged.PageLoadTimeout = *o.PageLoadTimeout
	}
	if o.RetryCount != nil {
		merged.RetryCount = *o.RetryCount
	}
	if o.ActionDelay != nil {
		merged.ActionDelay = *o.ActionDelay
	}
	if o.DismissOverlays != nil {
		merged.DismissOverlays = *o.DismissOverlays
	}
	return merged
}

// Validate 校验配置取值范围
func (c DriverConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("驱动类型不能为空")
	}
	if c.Timeout < 1 || c.Timeout > 300 {
		return fmt.Errorf("操作超时必须在1-300秒之间,当前值: %d", c.Timeout)
	}
	if c.PageLoadTimeout < 1 || c.PageLoadTimeout > 600 {
		return fmt.Errorf("页面加载超时必须在1-600秒之间,当前值: %d", c.PageLoadTimeout)
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return fmt.Errorf("重试次数必须在0-10之间,当前值: %d", c.RetryCount)
	}
	if c.ActionDelay < 0 || c.ActionDelay > 30 {
		return fmt.Errorf("步骤间延迟必须在0-30秒之间,当前值: %.2f", c.ActionDelay)
	}
	return nil
}

// OperationTimeout 单操作超时时长
func (c DriverConfig) OperationTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// NavigationTimeout 页面加载超时时长
func (c DriverConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeout) * time.Second
}

// StepDelay 步骤间延迟时长
func (c DriverConfig) StepDelay() time.Duration {
	return time.Duration(c.ActionDelay * float64(time.Second))
}
