package models

import (
	"errors"
	"fmt"
)

// 驱动与计划相关的哨兵错误
var (
	ErrUnknownDriverType     = errors.New("未知的驱动类型")
	ErrUnmappableBrowser     = errors.New("无法映射的浏览器名称")
	ErrUnsupportedCapability = errors.New("当前驱动后端不支持该能力")
	ErrDriverNotStarted      = errors.New("驱动尚未启动")
	ErrNoPlanAvailable       = errors.New("没有可用的爬取计划")
	ErrSessionConcurrency    = errors.New("会话模式驱动仅支持顺序调用")
)

// ConfigError 配置错误
// 在任何网络IO发生之前快速失败,绝不返回半初始化的驱动
type ConfigError struct {
	Field  string // 出错的配置字段
	Value  string // 非法值
	Reason string // 原因说明
	Err    error  // 可选的底层哨兵错误
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置错误 [%s=%s]: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError 创建配置错误
func NewConfigError(field, value, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// PlanValidationError 计划校验错误
// 携带原始内容摘录,便于诊断LLM响应的格式问题
type PlanValidationError struct {
	Reason  string // 失败原因
	Excerpt string // 原始响应摘录(最多200字符)
}

func (e *PlanValidationError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("计划校验失败: %s", e.Reason)
	}
	return fmt.Sprintf("计划校验失败: %s (内容摘录: %q)", e.Reason, e.Excerpt)
}

// NewPlanValidationError 创建计划校验错误,自动截取内容摘录
func NewPlanValidationError(reason, content string) *PlanValidationError {
	excerpt := content
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return &PlanValidationError{
		Reason:  reason,
		Excerpt: excerpt,
	}
}

// StepError 单个步骤的执行错误记录
// 记录在ScrapingResult中供调用方排查,非关键步骤的失败不中断执行
type StepError struct {
	Index   int    `json:"index"`   // 步骤序号(从0开始)
	Action  string `json:"action"`  // 动作类型
	Message string `json:"message"` // 错误信息
}

func (e StepError) Error() string {
	return fmt.Sprintf("步骤%d [%s]: %s", e.Index, e.Action, e.Message)
}

// PageFetchError 单页抓取错误
// 爬取过程中单个页面的失败被吸收进节点状态,不中断整体爬取
type PageFetchError struct {
	URL string
	Err error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("页面抓取失败 [%s]: %v", e.URL, e.Err)
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}
