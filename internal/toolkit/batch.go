package toolkit

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// BatchScraper 批量抓取器
// 对URL列表逐个执行Scrape,单个失败可配置为继续或中止
type BatchScraper struct {
	toolkit       *Toolkit
	batchDelay    time.Duration
	continueOnErr bool
}

// BatchResult 单个URL的批量抓取结果
type BatchResult struct {
	URL         string
	Success     bool
	Error       error
	Result      *models.ScrapingResult
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量抓取摘要
type BatchSummary struct {
	TotalURLs      int
	SuccessCount   int
	FailCount      int
	TotalExtracted int // 提取到的数据项总数
	TotalDuration  float64
	Results        []BatchResult
}

// NewBatchScraper 创建批量抓取器
func NewBatchScraper(toolkit *Toolkit, batchDelay int, continueOnErr bool) *BatchScraper {
	return &BatchScraper{
		toolkit:       toolkit,
		batchDelay:    time.Duration(batchDelay) * time.Second,
		continueOnErr: continueOnErr,
	}
}

// ScrapeBatch 批量抓取URL列表
func (bs *BatchScraper) ScrapeBatch(ctx context.Context, urls []string, opts ScrapeOptions) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量抓取: %d个URL", len(urls))

	summary := &BatchSummary{
		TotalURLs: len(urls),
		Results:   make([]BatchResult, 0, len(urls)),
	}

	startTime := time.Now()
	bar := utils.NewProgressBar(len(urls), "批量抓取")

	for i, targetURL := range urls {
		if ctx.Err() != nil {
			utils.Warnf("批量抓取被取消: %v", ctx.Err())
			break
		}

		utils.Infof("\n==================== [%d/%d] ====================", i+1, len(urls))
		utils.Infof("目标URL: %s", targetURL)

		result := bs.scrapeSingleURL(ctx, targetURL, opts)
		summary.Results = append(summary.Results, result)
		_ = bar.Add(1)

		if result.Success {
			summary.SuccessCount++
			summary.TotalExtracted += len(result.Result.ExtractedData)
		} else {
			summary.FailCount++
			utils.Errorf("❌ 抓取失败: %v", result.Error)

			if !bs.continueOnErr {
				utils.Warn("批量抓取中止 (continue-on-error=false)")
				break
			}
		}

		// 批量延迟(最后一个URL不需要延迟)
		if i < len(urls)-1 && bs.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个URL...", bs.batchDelay.Seconds())
			select {
			case <-ctx.Done():
			case <-time.After(bs.batchDelay):
			}
		}
	}

	summary.TotalDuration = time.Since(startTime).Seconds()
	bs.printSummary(summary)
	return summary, nil
}

// scrapeSingleURL 抓取单个URL
func (bs *BatchScraper) scrapeSingleURL(ctx context.Context, targetURL string, opts ScrapeOptions) BatchResult {
	result := BatchResult{
		URL:         targetURL,
		ProcessedAt: time.Now(),
	}

	startTime := time.Now()

	scraped, err := bs.toolkit.Scrape(ctx, targetURL, opts)
	if err != nil {
		result.Success = false
		result.Error = fmt.Errorf("抓取失败: %w", err)
		result.Duration = time.Since(startTime).Seconds()
		return result
	}

	result.Result = scraped
	result.Duration = time.Since(startTime).Seconds()
	if !scraped.Success {
		result.Success = false
		result.Error = fmt.Errorf("计划执行失败: %s", scraped.ErrorMessage)
		return result
	}

	result.Success = true
	return result
}

// printSummary 打印批量抓取摘要
func (bs *BatchScraper) printSummary(summary *BatchSummary) {
	utils.Info("\n==================================================")
	utils.Info("📊 批量抓取摘要")
	utils.Info("==================================================")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📦 提取数据项: %d", summary.TotalExtracted)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("\n失败的URL:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.URL, result.Error)
			}
		}
	}
}
