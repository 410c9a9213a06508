package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// Completer LLM外部协作者: 提示词进,自由文本出
// 本包只负责解析与校验返回内容,不关心模型如何调用
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// PlanGenerator 基于LLM的计划生成器
type PlanGenerator struct {
	completer Completer
}

// NewPlanGenerator 创建计划生成器,completer为nil时Generate直接报错
func NewPlanGenerator(completer Completer) *PlanGenerator {
	return &PlanGenerator{completer: completer}
}

// Generate 为目标URL与目标描述生成计划
// 生成的计划以请求的URL为准派生指纹,保证缓存键与请求一致
func (g *PlanGenerator) Generate(ctx context.Context, rawURL, objective string) (*models.Plan, error) {
	if g.completer == nil {
		return nil, fmt.Errorf("未配置计划生成器,无法为 %s 生成计划", rawURL)
	}
	if objective == "" {
		return nil, fmt.Errorf("计划生成需要目标描述")
	}

	utils.Infof("🤖 正在生成计划: %s (目标: %s)", rawURL, objective)
	response, err := g.completer.Complete(ctx, BuildPlanPrompt(rawURL, objective))
	if err != nil {
		return nil, fmt.Errorf("计划生成请求失败: %w", err)
	}

	parsed, err := ParsePlanResponse(response)
	if err != nil {
		return nil, err
	}

	// 以请求的URL重建计划,模型返回的URL可能有出入
	plan := parsed
	if parsed.NormalizedURL != models.NormalizeURL(rawURL) {
		utils.Debugf("模型返回的URL与请求不一致 [%s ≠ %s],以请求为准", parsed.URL, rawURL)
		rebuilt, err := models.NewPlan(rawURL, parsed.Objective, parsed.Steps)
		if err != nil {
			return nil, fmt.Errorf("重建计划失败: %w", err)
		}
		rebuilt.Selectors = parsed.Selectors
		rebuilt.FollowSelector = parsed.FollowSelector
		rebuilt.FollowPattern = parsed.FollowPattern
		rebuilt.MaxDepth = parsed.MaxDepth
		rebuilt.Tags = parsed.Tags
		plan = rebuilt
	}

	plan.Source = models.PlanSourceGenerated
	utils.Infof("✅ 计划生成完成 [%s]: %d个步骤, %d个选择器", plan.Name, len(plan.Steps), len(plan.Selectors))
	return plan, nil
}

// planPayload 模型返回的计划载荷
type planPayload struct {
	URL            string            `json:"url"`
	Objective      string            `json:"objective"`
	Steps          []models.PlanStep `json:"steps"`
	Selectors      []models.Selector `json:"selectors"`
	FollowSelector string            `json:"follow_selector"`
	FollowPattern  string            `json:"follow_pattern"`
	MaxDepth       int               `json:"max_depth"`
	Tags           []string          `json:"tags"`
}

// ParsePlanResponse 解析LLM的自由文本响应
// 流程: 剥掉markdown代码围栏,提取第一个括号配平的JSON对象,
// 校验必填字段(url/objective/steps),失败时携带内容摘录报错
func ParsePlanResponse(content string) (*models.Plan, error) {
	stripped := StripCodeFences(content)
	jsonText, ok := extractJSONObject(stripped)
	if !ok {
		return nil, models.NewPlanValidationError("响应中没有JSON对象", content)
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, models.NewPlanValidationError(
			fmt.Sprintf("JSON解析失败: %v", err), jsonText)
	}

	if payload.URL == "" {
		return nil, models.NewPlanValidationError("缺少必填字段: url", jsonText)
	}
	if payload.Objective == "" {
		return nil, models.NewPlanValidationError("缺少必填字段: objective", jsonText)
	}
	if len(payload.Steps) == 0 {
		return nil, models.NewPlanValidationError("缺少必填字段: steps (至少一个步骤)", jsonText)
	}

	plan, err := models.NewPlan(payload.URL, payload.Objective, payload.Steps)
	if err != nil {
		return nil, models.NewPlanValidationError(err.Error(), jsonText)
	}
	plan.Selectors = payload.Selectors
	plan.FollowSelector = payload.FollowSelector
	plan.FollowPattern = payload.FollowPattern
	plan.MaxDepth = payload.MaxDepth
	plan.Tags = payload.Tags

	if err := plan.Validate(); err != nil {
		return nil, models.NewPlanValidationError(err.Error(), jsonText)
	}
	return plan, nil
}

// StripCodeFences 剥掉markdown代码围栏(```json ... ```)
// 没有围栏时原样返回,只有起始围栏时取围栏之后的内容
func StripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}

	// 跳过围栏行(```或```json)
	rest := trimmed[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		rest = rest[newline+1:]
	}

	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// extractJSONObject 提取第一个括号配平的JSON对象
// 逐字符扫描,跳过字符串字面量内部的花括号
func extractJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// BuildPlanPrompt 构造计划生成提示词
func BuildPlanPrompt(rawURL, objective string) string {
	var b strings.Builder
	b.WriteString("你是网页抓取计划生成器。根据目标URL和抓取目标,生成一个JSON格式的抓取计划。\n\n")
	fmt.Fprintf(&b, "目标URL: %s\n", rawURL)
	fmt.Fprintf(&b, "抓取目标: %s\n\n", objective)
	b.WriteString("只输出一个JSON对象,不要附加任何解释。格式如下:\n")
	b.WriteString(`{
  "url": "目标URL",
  "objective": "抓取目标",
  "steps": [
    {"action": "navigate", "params": {"url": "..."}},
    {"action": "wait", "params": {"condition_type": "selector", "condition": "body"}}
  ],
  "selectors": [
    {"name": "title", "kind": "css", "query": "h1", "extract": "text"},
    {"name": "links", "kind": "css", "query": "a[href]", "extract": "attribute", "attribute": "href", "multiple": true}
  ],
  "follow_selector": "a[href]",
  "follow_pattern": "",
  "max_depth": 1
}
`)
	b.WriteString("\n可用动作: navigate, click, fill, wait, scroll, evaluate, refresh, back, screenshot, select, press_key, get_cookies, set_cookies\n")
	b.WriteString("选择器类型(kind): css, xpath, tag;提取方式(extract): text, html, attribute\n")
	b.WriteString("第一个步骤必须是navigate到目标URL。\n")
	return b.String()
}
