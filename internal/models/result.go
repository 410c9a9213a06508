package models

import (
	"fmt"
	"time"
)

// ResultMetadata 抓取结果元数据
type ResultMetadata struct {
	StartedAt  time.Time      `json:"started_at"`            // 开始时间
	FinishedAt time.Time      `json:"finished_at,omitempty"` // 结束时间
	DriverType string         `json:"driver_type,omitempty"` // 使用的驱动后端
	StepCount  int            `json:"step_count"`            // 计划步骤总数
	Extra      map[string]any `json:"extra,omitempty"`       // 附加信息(截图大小、Cookie数量等)
}

// ScrapingResult 单页抓取结果
// 步骤错误被记录而非抛出,关键步骤失败时Aborted=true
type ScrapingResult struct {
	URL           string         `json:"url"`                      // 页面URL
	RawContent    string         `json:"raw_content,omitempty"`    // 最终页面源码
	ExtractedData map[string]any `json:"extracted_data,omitempty"` // 选择器名 → 值或值列表
	StepErrors    []StepError    `json:"step_errors,omitempty"`    // 逐条步骤错误
	Aborted       bool           `json:"aborted"`                  // 关键步骤失败导致中止
	Success       bool           `json:"success"`                  // 整体是否成功
	ErrorMessage  string         `json:"error_message,omitempty"`  // 汇总错误信息
	Metadata      ResultMetadata `json:"metadata"`                 // 元数据
}

// NewScrapingResult 创建抓取结果,初始状态为成功
func NewScrapingResult(pageURL string) *ScrapingResult {
	return &ScrapingResult{
		URL:           pageURL,
		ExtractedData: make(map[string]any),
		Success:       true,
		Metadata: ResultMetadata{
			StartedAt: time.Now(),
			Extra:     make(map[string]any),
		},
	}
}

// RecordStepError 记录一条可恢复的步骤错误,执行继续
func (r *ScrapingResult) RecordStepError(index int, action string, err error) {
	r.StepErrors = append(r.StepErrors, StepError{
		Index:   index,
		Action:  action,
		Message: err.Error(),
	})
}

// Abort 关键步骤失败: 记录错误并标记整体失败与中止
func (r *ScrapingResult) Abort(index int, action string, err error) {
	r.RecordStepError(index, action, err)
	r.Success = false
	r.Aborted = true
	r.ErrorMessage = fmt.Sprintf("关键步骤失败 [步骤%d: %s]: %v", index, action, err)
}

// Fail 整体失败(非步骤级,如驱动创建失败)
func (r *ScrapingResult) Fail(err error) {
	r.Success = false
	r.ErrorMessage = err.Error()
}

// Finish 结束抓取并记录结束时间
func (r *ScrapingResult) Finish() {
	r.Metadata.FinishedAt = time.Now()
}

// CrawlResult 多页爬取结果汇总
type CrawlResult struct {
	RunID           string            `json:"run_id"`                     // 本次爬取的唯一标识
	StartURL        string            `json:"start_url"`                  // 起始URL
	Depth           int               `json:"depth"`                      // 最大深度
	Strategy        string            `json:"strategy"`                   // 遍历策略: bfs/dfs
	Pages           []*ScrapingResult `json:"pages"`                      // 收集到的页面结果
	VisitedURLs     []string          `json:"visited_urls"`               // 成功访问的URL
	FailedURLs      []string          `json:"failed_urls"`                // 抓取失败的URL
	TotalPages      int               `json:"total_pages"`                // 处理的页面总数
	Duration        float64           `json:"duration"`                   // 总耗时(秒)
	PlanName        string            `json:"plan_name,omitempty"`        // 使用的计划名称
	PlanFingerprint string            `json:"plan_fingerprint,omitempty"` // 使用的计划指纹
	StartedAt       time.Time         `json:"started_at"`                 // 开始时间
	FinishedAt      time.Time         `json:"finished_at"`                // 结束时间
}

// NewCrawlResult 创建爬取结果容器
func NewCrawlResult(startURL string, depth int) *CrawlResult {
	return &CrawlResult{
		RunID:       NewRunID(),
		StartURL:    startURL,
		Depth:       depth,
		Pages:       make([]*ScrapingResult, 0),
		VisitedURLs: make([]string, 0),
		FailedURLs:  make([]string, 0),
		StartedAt:   time.Now(),
	}
}

// AddPage 记录一个成功抓取的页面
func (r *CrawlResult) AddPage(page *ScrapingResult) {
	r.Pages = append(r.Pages, page)
	r.VisitedURLs = append(r.VisitedURLs, page.URL)
	r.TotalPages++
}

// AddFailure 记录一个抓取失败的页面
func (r *CrawlResult) AddFailure(pageURL string) {
	r.FailedURLs = append(r.FailedURLs, pageURL)
	r.TotalPages++
}

// Finish 结束爬取并计算总耗时
func (r *CrawlResult) Finish() {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt).Seconds()
}
