package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
// 将抓取/爬取结果落盘为JSON,目录结构: {output_dir}/{domain}/reports/
type Reporter struct {
	outputDir string
	domain    string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string, domain string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		domain:    domain,
	}
}

// SaveCrawlReport 保存爬取结果报告
// 主报告之外单独落盘成功页面与失败URL列表,便于脚本消费
func (r *Reporter) SaveCrawlReport(result *models.CrawlResult) error {
	reportsDir := filepath.Join(r.outputDir, r.domain, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	// 主报告
	filename := fmt.Sprintf("crawl_%s.json", result.RunID)
	if err := r.saveJSONReport(reportsDir, filename, result); err != nil {
		return err
	}

	// 成功页面的提取数据
	extracted := make([]map[string]any, 0, len(result.Pages))
	for _, page := range result.Pages {
		extracted = append(extracted, map[string]any{
			"url":  page.URL,
			"data": page.ExtractedData,
		})
	}
	if err := r.saveJSONReport(reportsDir, "extracted_data.json", extracted); err != nil {
		return err
	}

	// 失败URL列表
	if err := r.saveJSONReport(reportsDir, "failed_urls.json", result.FailedURLs); err != nil {
		return err
	}

	Infof("✅ 报告已生成: %s", reportsDir)
	return nil
}

// SaveScrapeReport 保存单页抓取结果
func (r *Reporter) SaveScrapeReport(result *models.ScrapingResult) error {
	reportsDir := filepath.Join(r.outputDir, r.domain, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	filename := fmt.Sprintf("scrape_%s.json", models.FingerprintURL(result.URL))
	return r.saveJSONReport(reportsDir, filename, result)
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	filepath := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(filepath, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", filepath)
	return nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
