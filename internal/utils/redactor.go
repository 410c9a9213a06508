package utils

import "strings"

var (
	// SensitiveKeywords 敏感字段名称关键字 (用于脱敏)
	SensitiveKeywords = []string{
		"authorization",
		"token",
		"key",
		"secret",
		"password",
		"passwd",
		"credential",
		"api-key",
		"session",
	}
)

// StepRedactor 步骤参数脱敏器
// 负责在日志输出前脱敏fill/set_cookies等动作携带的敏感值
type StepRedactor struct {
	sensitiveKeywords []string
}

// NewStepRedactor 创建步骤参数脱敏器
func NewStepRedactor() *StepRedactor {
	return &StepRedactor{
		sensitiveKeywords: SensitiveKeywords,
	}
}

// IsSensitiveField 检查字段是否为敏感字段
// 依据选择器表达式或参数名中的关键字判断
func (sr *StepRedactor) IsSensitiveField(name string) bool {
	nameLower := strings.ToLower(name)
	for _, keyword := range sr.sensitiveKeywords {
		if strings.Contains(nameLower, keyword) {
			return true
		}
	}
	return false
}

// RedactValue 脱敏单个字段值
// 根据值的格式选择不同的脱敏策略
func (sr *StepRedactor) RedactValue(field, value string) string {
	if !sr.IsSensitiveField(field) {
		return value
	}

	// 策略1: Bearer Token - 仅显示前缀
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}

	// 策略2: 长密钥 - 显示前4位+后4位
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}

	// 策略3: 短密钥 - 完全隐藏
	return "***"
}

// RedactParams 脱敏步骤参数map,返回可安全输出到日志的副本
// 选择器表达式命中敏感关键字时,value参数一并脱敏
func (sr *StepRedactor) RedactParams(params map[string]any) map[string]string {
	result := make(map[string]string)

	selectorSensitive := false
	if sel, ok := params["selector"].(string); ok {
		selectorSensitive = sr.IsSensitiveField(sel)
	}

	for name, raw := range params {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		if sr.IsSensitiveField(name) || (name == "value" && selectorSensitive) {
			result[name] = sr.RedactValue("password", value)
		} else {
			result[name] = value
		}
	}
	return result
}

// RedactToString 脱敏参数map并返回格式化字符串 (用于日志输出)
// 格式: "key1: value1, key2: value2, ..."
func (sr *StepRedactor) RedactToString(params map[string]any) string {
	redacted := sr.RedactParams(params)
	var parts []string
	for name, value := range redacted {
		parts = append(parts, name+": "+value)
	}
	return strings.Join(parts, ", ")
}
