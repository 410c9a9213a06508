package models

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xpath"
)

// 计划来源
const (
	PlanSourceManual    = "manual"    // 手工编写
	PlanSourceGenerated = "generated" // LLM生成
	PlanSourceCached    = "cached"    // 缓存命中
)

// 选择器类型
const (
	SelectorKindCSS   = "css"   // CSS选择器
	SelectorKindXPath = "xpath" // XPath表达式
	SelectorKindTag   = "tag"   // 标签名匹配
)

// 提取方式
const (
	ExtractText      = "text"      // 元素文本
	ExtractHTML      = "html"      // 元素HTML
	ExtractAttribute = "attribute" // 元素属性值
)

// PlanStep 计划中的单个浏览器动作
type PlanStep struct {
	Action string         `json:"action"`           // 动作类型: navigate/click/fill/wait/scroll/...
	Params map[string]any `json:"params,omitempty"` // 动作参数
}

// StringParam 读取字符串参数,缺失或类型不符时返回默认值
func (s PlanStep) StringParam(key, def string) string {
	if v, ok := s.Params[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// IntParam 读取整数参数
// JSON反序列化的数字是float64,两种类型都要处理
func (s PlanStep) IntParam(key string, def int) int {
	if v, ok := s.Params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

// FloatParam 读取浮点参数
func (s PlanStep) FloatParam(key string, def float64) float64 {
	if v, ok := s.Params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// BoolParam 读取布尔参数
func (s PlanStep) BoolParam(key string, def bool) bool {
	if v, ok := s.Params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Selector 内容选择器
// 在所有步骤执行完毕后应用于最终页面源码
type Selector struct {
	Name      string `json:"name"`                // 提取结果的键名
	Kind      string `json:"kind"`                // css/xpath/tag
	Query     string `json:"query"`               // 选择器表达式
	Extract   string `json:"extract,omitempty"`   // text/html/attribute,默认text
	Attribute string `json:"attribute,omitempty"` // extract=attribute时的属性名
	Multiple  bool   `json:"multiple,omitempty"`  // true时提取全部匹配为列表
}

// Validate 校验选择器定义
func (s Selector) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("选择器名称不能为空")
	}
	if s.Query == "" {
		return fmt.Errorf("选择器表达式不能为空 [%s]", s.Name)
	}
	switch s.Kind {
	case SelectorKindCSS, SelectorKindXPath, SelectorKindTag:
	default:
		return fmt.Errorf("无效的选择器类型: %s (有效值: css, xpath, tag)", s.Kind)
	}
	// XPath表达式在持久化前预编译,避免缓存里留下坏表达式
	if s.Kind == SelectorKindXPath {
		if _, err := xpath.Compile(s.Query); err != nil {
			return fmt.Errorf("无效的XPath表达式 [%s]: %v", s.Name, err)
		}
	}
	switch s.Extract {
	case "", ExtractText, ExtractHTML, ExtractAttribute:
	default:
		return fmt.Errorf("无效的提取方式: %s (有效值: text, html, attribute)", s.Extract)
	}
	if s.Extract == ExtractAttribute && s.Attribute == "" {
		return fmt.Errorf("提取方式为attribute时必须指定属性名 [%s]", s.Name)
	}
	return nil
}

// Plan 声明式爬取计划
// 持久化后视为不可变,不提供任何修改方法
type Plan struct {
	URL            string     `json:"url"`                       // 目标URL
	Objective      string     `json:"objective"`                 // 计划目标描述
	Steps          []PlanStep `json:"steps"`                     // 有序动作列表
	Selectors      []Selector `json:"selectors,omitempty"`       // 内容选择器
	FollowSelector string     `json:"follow_selector,omitempty"` // 爬取提示: 链接元素选择器
	FollowPattern  string     `json:"follow_pattern,omitempty"`  // 爬取提示: URL允许正则
	MaxDepth       int        `json:"max_depth,omitempty"`       // 爬取提示: 最大深度
	Version        int        `json:"version"`                   // 计划版本(从1开始)
	Tags           []string   `json:"tags,omitempty"`            // 标签
	CreatedAt      time.Time  `json:"created_at"`                // 创建时间
	Source         string     `json:"source"`                    // manual/generated/cached

	// 以下字段在构造时派生
	Name          string `json:"name"`           // 计划名称(默认为净化后的域名)
	Domain        string `json:"domain"`         // 规范化域名(小写,去www)
	NormalizedURL string `json:"normalized_url"` // 规范化URL(仅scheme+authority+path)
	Fingerprint   string `json:"fingerprint"`    // NormalizedURL的SHA-256前16位十六进制
}

// NewPlan 创建计划并派生域名/规范化URL/指纹
// 仅查询串或片段不同的URL会得到相同的指纹
func NewPlan(rawURL, objective string, steps []PlanStep) (*Plan, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("计划URL无效: %w", err)
	}

	domain := DomainOf(rawURL)
	return &Plan{
		URL:           rawURL,
		Objective:     objective,
		Steps:         steps,
		Version:       1,
		CreatedAt:     time.Now(),
		Source:        PlanSourceManual,
		Name:          SanitizeName(domain),
		Domain:        domain,
		NormalizedURL: NormalizeURL(rawURL),
		Fingerprint:   FingerprintURL(rawURL),
	}, nil
}

// Validate 校验计划完整性
func (p *Plan) Validate() error {
	if err := ValidateURL(p.URL); err != nil {
		return fmt.Errorf("计划URL无效: %w", err)
	}
	if p.Version < 1 {
		return fmt.Errorf("计划版本必须>=1,当前值: %d", p.Version)
	}
	for i, step := range p.Steps {
		if step.Action == "" {
			return fmt.Errorf("步骤%d缺少动作类型", i)
		}
	}
	for _, sel := range p.Selectors {
		if err := sel.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FileName 计划文件名: {name}_v{version}_{fingerprint}.json
func (p *Plan) FileName() string {
	return fmt.Sprintf("%s_v%d_%s.json", p.Name, p.Version, p.Fingerprint)
}

// RelativePath 相对计划目录的存储路径: {domain}/{filename}
func (p *Plan) RelativePath() string {
	return p.Domain + "/" + p.FileName()
}

// ToJSON 序列化为JSON字符串
func (p *Plan) ToJSON() (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化计划失败: %w", err)
	}
	return string(data), nil
}

// PlanFromJSON 从JSON反序列化并校验计划
func PlanFromJSON(data string) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("反序列化计划失败: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// NormalizeURL 将URL规范化为去重/缓存键
// 规则: 小写scheme与主机名,剥离前导www.,去掉默认端口(http:80/https:443),
// 去掉路径尾部斜杠,丢弃查询串与片段
// 对任何输入幂等: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u)
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		// 无法解析时退化为小写原文,保持幂等
		return strings.ToLower(trimmed)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	for strings.HasPrefix(host, "www.") {
		host = strings.TrimPrefix(host, "www.")
	}

	// 保留非默认端口
	port := parsed.Port()
	if port != "" {
		isDefault := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := strings.TrimRight(parsed.EscapedPath(), "/")

	return scheme + "://" + host + path
}

// NormalizedPathOf 返回规范化URL的路径部分,用于注册表的前缀匹配
func NormalizedPathOf(rawURL string) string {
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil {
		return ""
	}
	return parsed.EscapedPath()
}

// FingerprintURL 计算URL指纹: 规范化URL的SHA-256前16位十六进制
func FingerprintURL(rawURL string) string {
	hash := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return fmt.Sprintf("%x", hash)[:16]
}

// DomainOf 提取规范化域名(小写主机名,剥离前导www.)
func DomainOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	for strings.HasPrefix(host, "www.") {
		host = strings.TrimPrefix(host, "www.")
	}
	return host
}

// SameDomain 判断两个URL是否属于同一域名
// 比较时大小写不敏感且剥离www.,其他子域名差异不做归一
func SameDomain(a, b string) bool {
	da := DomainOf(a)
	db := DomainOf(b)
	return da != "" && da == db
}

// SanitizeName 将域名净化为文件名安全的计划名称
// 例: example.com -> example_com
func SanitizeName(domain string) string {
	if domain == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(domain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
