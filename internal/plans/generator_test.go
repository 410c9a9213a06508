package plans

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// fakeCompleter 返回预置响应的假LLM协作方
type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

const validResponse = "```json\n" + `{
  "url": "https://example.com/products",
  "objective": "抓取商品列表",
  "steps": [
    {"action": "navigate", "params": {"url": "https://example.com/products"}},
    {"action": "wait", "params": {"condition_type": "selector", "condition": ".item"}}
  ],
  "selectors": [
    {"name": "names", "kind": "css", "query": ".item h2", "multiple": true}
  ],
  "follow_selector": ".pagination a",
  "max_depth": 2
}` + "\n```"

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"无围栏", `{"a":1}`, `{"a":1}`},
		{"json围栏", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"裸围栏", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"只有起始围栏", "```json\n{\"a\":1}", `{"a":1}`},
		{"围栏前有说明文字", "计划如下:\n```json\n{\"a\":1}\n```\n希望有帮助", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.content); got != tt.want {
				t.Errorf("StripCodeFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantOK  bool
	}{
		{"纯对象", `{"a":1}`, `{"a":1}`, true},
		{"前后有文字", `答案是 {"a":1} 以上`, `{"a":1}`, true},
		{"嵌套对象", `{"a":{"b":{"c":1}}}`, `{"a":{"b":{"c":1}}}`, true},
		{"字符串内的花括号", `{"a":"文本{不是}对象","b":1}`, `{"a":"文本{不是}对象","b":1}`, true},
		{"字符串内的转义引号", `{"a":"说\"你好\"{"}`, `{"a":"说\"你好\"{"}`, true},
		{"没有对象", "这里没有JSON", "", false},
		{"括号不配平", `{"a":{"b":1}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.content)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("extractJSONObject() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParsePlanResponse(t *testing.T) {
	plan, err := ParsePlanResponse(validResponse)
	if err != nil {
		t.Fatalf("ParsePlanResponse() error = %v", err)
	}
	if plan.Domain != "example.com" || len(plan.Steps) != 2 {
		t.Errorf("domain=%s steps=%d", plan.Domain, len(plan.Steps))
	}
	if plan.FollowSelector != ".pagination a" || plan.MaxDepth != 2 {
		t.Errorf("爬取提示未保留: %s / %d", plan.FollowSelector, plan.MaxDepth)
	}
	if len(plan.Selectors) != 1 || !plan.Selectors[0].Multiple {
		t.Errorf("selectors = %+v", plan.Selectors)
	}
}

func TestParsePlanResponseErrors(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantReason string
	}{
		{"没有JSON", "抱歉,我无法生成计划。", "没有JSON对象"},
		{"缺少url", `{"objective": "目标", "steps": [{"action": "navigate"}]}`, "url"},
		{"缺少objective", `{"url": "https://example.com", "steps": [{"action": "navigate"}]}`, "objective"},
		{"缺少steps", `{"url": "https://example.com", "objective": "目标"}`, "steps"},
		{"非法URL", `{"url": "ftp://x", "objective": "目标", "steps": [{"action": "navigate"}]}`, ""},
		{"步骤缺少动作", `{"url": "https://example.com", "objective": "目标", "steps": [{"params": {}}]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlanResponse(tt.content)
			if err == nil {
				t.Fatal("应当返回错误")
			}

			var validationErr *models.PlanValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("错误类型 = %T", err)
			}
			if tt.wantReason != "" && !strings.Contains(validationErr.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want包含%q", validationErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestParsePlanResponseExcerptTruncated(t *testing.T) {
	long := "前缀说明" + strings.Repeat("x", 500)
	_, err := ParsePlanResponse(long)

	var validationErr *models.PlanValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("错误类型 = %T", err)
	}
	if len(validationErr.Excerpt) > 200 {
		t.Errorf("摘录长度 = %d, 应不超过200", len(validationErr.Excerpt))
	}
}

func TestGenerate(t *testing.T) {
	completer := &fakeCompleter{response: validResponse}
	generator := NewPlanGenerator(completer)

	plan, err := generator.Generate(context.Background(), "https://example.com/products", "抓取商品列表")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if plan.Source != models.PlanSourceGenerated {
		t.Errorf("Source = %s", plan.Source)
	}
	if plan.Fingerprint != models.FingerprintURL("https://example.com/products") {
		t.Errorf("Fingerprint = %s", plan.Fingerprint)
	}

	// 提示词包含URL与目标
	if len(completer.prompts) != 1 {
		t.Fatalf("prompts = %d", len(completer.prompts))
	}
	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "https://example.com/products") || !strings.Contains(prompt, "抓取商品列表") {
		t.Error("提示词缺少URL或目标描述")
	}
}

func TestGenerateRekeysToRequestedURL(t *testing.T) {
	// 模型返回的URL与请求不一致,以请求为准派生指纹
	completer := &fakeCompleter{response: validResponse}
	generator := NewPlanGenerator(completer)

	requested := "https://example.com/catalog"
	plan, err := generator.Generate(context.Background(), requested, "抓取商品列表")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if plan.Fingerprint != models.FingerprintURL(requested) {
		t.Errorf("Fingerprint = %s, want按请求URL派生", plan.Fingerprint)
	}
	if plan.NormalizedURL != models.NormalizeURL(requested) {
		t.Errorf("NormalizedURL = %s", plan.NormalizedURL)
	}
	// 重建时保留模型给出的选择器与爬取提示
	if len(plan.Selectors) != 1 || plan.FollowSelector != ".pagination a" {
		t.Errorf("重建丢失字段: selectors=%d follow=%s", len(plan.Selectors), plan.FollowSelector)
	}
}

func TestGenerateErrors(t *testing.T) {
	generator := NewPlanGenerator(nil)
	if _, err := generator.Generate(context.Background(), "https://example.com", "目标"); err == nil {
		t.Error("未配置协作方应当返回错误")
	}

	withCompleter := NewPlanGenerator(&fakeCompleter{response: validResponse})
	if _, err := withCompleter.Generate(context.Background(), "https://example.com", ""); err == nil {
		t.Error("空目标描述应当返回错误")
	}

	failing := NewPlanGenerator(&fakeCompleter{err: errors.New("请求超时")})
	if _, err := failing.Generate(context.Background(), "https://example.com", "目标"); err == nil {
		t.Error("协作方失败应当返回错误")
	}
}
