// Package executor 按顺序执行计划中的浏览器动作并应用内容选择器。
//
// 失败策略: navigate与authenticate是关键动作,失败即中止本页剩余步骤;
// 其余动作的失败只记录不中断。单页的执行错误全部吸收进ScrapingResult,
// 不向调用方抛出。
package executor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/PlanCrawl/internal/driver"
	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// criticalActions 失败即中止本页执行的动作
var criticalActions = map[string]bool{
	"navigate":     true,
	"authenticate": true,
}

// legacyActions 旧版工具链的动作,记录日志后按无操作跳过
var legacyActions = map[string]bool{
	"loop":                true,
	"conditional":         true,
	"await_human":         true,
	"await_browser_event": true,
}

// Executor 步骤执行器
type Executor struct {
	driver   driver.Driver
	config   models.DriverConfig
	redactor *utils.StepRedactor
}

// NewExecutor 创建步骤执行器,驱动的生命周期由调用方管理
func NewExecutor(drv driver.Driver, config models.DriverConfig) *Executor {
	return &Executor{
		driver:   drv,
		config:   config,
		redactor: utils.NewStepRedactor(),
	}
}

// RunPlan 执行完整计划
func (e *Executor) RunPlan(ctx context.Context, plan *models.Plan) *models.ScrapingResult {
	utils.Infof("🚀 开始执行计划 [%s]: %s (%d个步骤)", plan.Name, plan.URL, len(plan.Steps))
	result := e.Run(ctx, plan.URL, plan.Steps, plan.Selectors)
	if result.Success {
		utils.Infof("✅ 计划执行完成 [%s]: 提取%d项数据", plan.Name, len(result.ExtractedData))
	} else {
		utils.Warnf("❌ 计划执行失败 [%s]: %s", plan.Name, result.ErrorMessage)
	}
	return result
}

// Run 执行临时步骤与选择器,无需完整计划
// 步骤全部执行后捕获页面源码并应用选择器;
// 关键步骤失败时中止,不再进行内容提取
func (e *Executor) Run(ctx context.Context, pageURL string, steps []models.PlanStep, selectors []models.Selector) *models.ScrapingResult {
	result := models.NewScrapingResult(pageURL)
	result.Metadata.DriverType = e.driver.Type()
	result.Metadata.StepCount = len(steps)
	defer result.Finish()

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			result.Abort(i, step.Action, fmt.Errorf("执行被取消: %w", err))
			return result
		}

		action := strings.ToLower(strings.TrimSpace(step.Action))
		if legacyActions[action] {
			utils.Warnf("跳过旧版动作 [步骤%d: %s]: 当前执行器不支持,按无操作处理", i, action)
			continue
		}

		utils.Infof("执行步骤 [%d/%d] %s %s", i+1, len(steps), action, e.redactor.RedactToString(step.Params))
		if err := e.runStep(ctx, action, step, result); err != nil {
			if criticalActions[action] {
				utils.Errorf("关键步骤失败 [步骤%d: %s]: %v", i, action, err)
				result.Abort(i, action, err)
				return result
			}
			utils.Warnf("步骤失败 [步骤%d: %s]: %v (继续执行)", i, action, err)
			result.RecordStepError(i, action, err)
		}

		// 步骤间延迟,最后一步之后不延迟
		if i < len(steps)-1 {
			if err := e.sleep(ctx, e.config.StepDelay()); err != nil {
				result.Abort(i, step.Action, fmt.Errorf("执行被取消: %w", err))
				return result
			}
		}
	}

	source, err := e.driver.PageSource(ctx)
	if err != nil {
		utils.Warnf("获取页面源码失败: %v", err)
	} else {
		result.RawContent = source
		result.ExtractedData = ExtractAll(source, selectors)
	}

	if result.URL == "" {
		if current, err := e.driver.CurrentURL(ctx); err == nil {
			result.URL = current
		}
	}
	return result
}

// runStep 按动作类型分发到驱动操作
func (e *Executor) runStep(ctx context.Context, action string, step models.PlanStep, result *models.ScrapingResult) error {
	switch action {
	case "navigate":
		pageURL := step.StringParam("url", "")
		if pageURL == "" {
			return fmt.Errorf("navigate动作缺少url参数")
		}
		return e.driver.Navigate(ctx, pageURL)

	case "authenticate":
		// 旧版动作,但登录失败继续执行没有意义,保持关键语义
		return fmt.Errorf("authenticate属于旧版工具链,当前执行器不支持")

	case "click":
		selector := step.StringParam("selector", "")
		if selector == "" {
			return fmt.Errorf("click动作缺少selector参数")
		}
		if timeout := stepSeconds(step, "timeout", 0); timeout > 0 {
			if err := e.driver.WaitForSelector(ctx, selector, timeout); err != nil {
				return err
			}
		}
		return e.driver.Click(ctx, selector)

	case "fill":
		selector := step.StringParam("selector", "")
		if selector == "" {
			return fmt.Errorf("fill动作缺少selector参数")
		}
		return e.driver.Fill(ctx, selector, step.StringParam("value", ""), driver.FillOptions{
			ClearFirst: step.BoolParam("clear_first", true),
			PressEnter: step.BoolParam("press_enter", false),
		})

	case "wait":
		return e.runWait(ctx, step)

	case "scroll":
		return e.runScroll(ctx, step)

	case "evaluate":
		return e.runEvaluate(ctx, step)

	case "refresh":
		if step.BoolParam("hard", false) {
			utils.Debugf("硬刷新请求,按普通刷新处理")
		}
		return e.driver.Reload(ctx)

	case "back":
		count := step.IntParam("steps", 1)
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			if err := e.driver.Back(ctx); err != nil {
				return err
			}
		}
		return nil

	case "screenshot":
		return e.runScreenshot(ctx, step, result)

	case "select":
		selector := step.StringParam("selector", "")
		if selector == "" {
			return fmt.Errorf("select动作缺少selector参数")
		}
		return e.driver.SelectOption(ctx, selector, selectTarget(step))

	case "press_key":
		keys := step.StringParam("keys", "")
		if keys == "" {
			return fmt.Errorf("press_key动作缺少keys参数")
		}
		return e.driver.PressKey(ctx, keys)

	case "hover":
		selector := step.StringParam("selector", "")
		if selector == "" {
			return fmt.Errorf("hover动作缺少selector参数")
		}
		return e.driver.Hover(ctx, selector)

	case "get_cookies":
		cookies, err := e.driver.Cookies(ctx)
		if err != nil {
			return err
		}
		result.Metadata.Extra["cookies"] = cookies
		utils.Debugf("读取到%d个Cookie", len(cookies))
		return nil

	case "set_cookies":
		return e.runSetCookies(ctx, step)

	default:
		return fmt.Errorf("未知动作: %s", action)
	}
}

// runWait 等待条件分发
func (e *Executor) runWait(ctx context.Context, step models.PlanStep) error {
	conditionType := strings.ToLower(step.StringParam("condition_type", "time"))
	switch conditionType {
	case "time", "sleep":
		return e.sleep(ctx, stepSeconds(step, "condition", 1))

	case "selector", "element":
		selector := step.StringParam("condition", "")
		if selector == "" {
			return fmt.Errorf("wait动作缺少condition参数(选择器)")
		}
		return e.driver.WaitForSelector(ctx, selector, stepSeconds(step, "timeout", 0))

	case "navigation":
		return e.driver.WaitForNavigation(ctx, stepSeconds(step, "timeout", 0))

	case "load_state":
		state := step.StringParam("condition", driver.LoadStateLoad)
		return e.driver.WaitForLoadState(ctx, state, stepSeconds(step, "timeout", 0))

	default:
		return fmt.Errorf("未知的等待条件类型: %s", conditionType)
	}
}

// runScroll 滚动页面或滚动到指定元素
func (e *Executor) runScroll(ctx context.Context, step models.PlanStep) error {
	if selector := step.StringParam("selector", ""); selector != "" {
		_, err := e.driver.Evaluate(ctx,
			`(sel) => { const el = document.querySelector(sel); if (el) el.scrollIntoView({ block: "center" }); }`,
			selector)
		return err
	}

	direction := strings.ToLower(step.StringParam("direction", "down"))
	amount := step.IntParam("amount", 500)

	var script string
	switch direction {
	case "up":
		script = fmt.Sprintf("() => window.scrollBy(0, -%d)", amount)
	case "down":
		script = fmt.Sprintf("() => window.scrollBy(0, %d)", amount)
	case "top":
		script = "() => window.scrollTo(0, 0)"
	case "bottom":
		script = "() => window.scrollTo(0, document.body.scrollHeight)"
	default:
		return fmt.Errorf("未知的滚动方向: %s", direction)
	}
	_, err := e.driver.Evaluate(ctx, script)
	return err
}

// runEvaluate 执行内联脚本或脚本文件
func (e *Executor) runEvaluate(ctx context.Context, step models.PlanStep) error {
	script := step.StringParam("script", "")
	if script == "" {
		if file := step.StringParam("script_file", ""); file != "" {
			loaded, err := utils.ReadScriptFile(file)
			if err != nil {
				return err
			}
			script = loaded
		}
	}
	if script == "" {
		return fmt.Errorf("evaluate动作缺少script或script_file参数")
	}
	return e.driver.ExecuteScript(ctx, script, scriptArgs(step)...)
}

// runScreenshot 截图,指定path时落盘,否则只记录大小
func (e *Executor) runScreenshot(ctx context.Context, step models.PlanStep, result *models.ScrapingResult) error {
	data, err := e.driver.Screenshot(ctx)
	if err != nil {
		return err
	}
	if path := step.StringParam("path", ""); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("保存截图失败 [%s]: %w", path, err)
		}
		result.Metadata.Extra["screenshot_path"] = path
		return nil
	}
	result.Metadata.Extra["screenshot_bytes"] = len(data)
	return nil
}

// runSetCookies 写入Cookie列表
func (e *Executor) runSetCookies(ctx context.Context, step models.PlanStep) error {
	raw, ok := step.Params["cookies"]
	if !ok {
		return fmt.Errorf("set_cookies动作缺少cookies参数")
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("cookies参数必须是列表")
	}

	cookies := make([]driver.Cookie, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cookie := driver.Cookie{
			Name:   stringField(m, "name"),
			Value:  stringField(m, "value"),
			Domain: stringField(m, "domain"),
			Path:   stringField(m, "path"),
		}
		if cookie.Name == "" {
			continue
		}
		if v, ok := m["expires"].(float64); ok {
			cookie.Expires = v
		}
		if v, ok := m["secure"].(bool); ok {
			cookie.Secure = v
		}
		if v, ok := m["http_only"].(bool); ok {
			cookie.HTTPOnly = v
		}
		cookies = append(cookies, cookie)
	}
	if len(cookies) == 0 {
		return fmt.Errorf("cookies参数中没有有效的Cookie")
	}
	return e.driver.SetCookies(ctx, cookies)
}

// sleep 可取消的延迟
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// selectTarget 从步骤参数解析下拉框选择目标
// value/text/index按声明顺序取第一个出现的参数
func selectTarget(step models.PlanStep) driver.SelectTarget {
	if _, ok := step.Params["value"]; ok {
		return driver.SelectTarget{Mode: "value", Value: step.StringParam("value", "")}
	}
	if _, ok := step.Params["text"]; ok {
		return driver.SelectTarget{Mode: "text", Text: step.StringParam("text", "")}
	}
	if _, ok := step.Params["index"]; ok {
		return driver.SelectTarget{Mode: "index", Index: step.IntParam("index", 0)}
	}
	return driver.SelectTarget{}
}

// stepSeconds 读取以秒为单位的时长参数,兼容数字与字符串
func stepSeconds(step models.PlanStep, key string, def float64) time.Duration {
	seconds := def
	if v, ok := step.Params[key]; ok {
		switch n := v.(type) {
		case float64:
			seconds = n
		case int:
			seconds = float64(n)
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				seconds = f
			}
		}
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// scriptArgs 读取evaluate动作的参数列表
func scriptArgs(step models.PlanStep) []any {
	if raw, ok := step.Params["args"]; ok {
		if list, ok := raw.([]any); ok {
			return list
		}
		return []any{raw}
	}
	return nil
}

// stringField 从map中读取字符串字段
func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
