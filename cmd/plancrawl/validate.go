package main

import (
	"fmt"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// 可拦截的资源类型
var blockableResources = map[string]bool{
	"document":   true,
	"stylesheet": true,
	"image":      true,
	"media":      true,
	"font":       true,
	"script":     true,
	"xhr":        true,
	"fetch":      true,
	"websocket":  true,
	"other":      true,
}

// validateDriverType 验证驱动后端名称(空值表示使用配置文件)
func validateDriverType(driverType string) error {
	switch driverType {
	case "", models.DriverTypeRod, models.DriverTypePlaywright, models.DriverTypeStatic:
		return nil
	default:
		return fmt.Errorf("无效的驱动后端: %s (有效值: rod, playwright, static)", driverType)
	}
}

// ValidateScrapeFlags 验证抓取命令的标志
func ValidateScrapeFlags(targetURL, driverType string, batchDelay int, blockResources []string) error {
	if targetURL != "" {
		if err := models.ValidateURL(targetURL); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	if err := validateDriverType(driverType); err != nil {
		return err
	}

	if batchDelay < 0 || batchDelay > 3600 {
		return fmt.Errorf("批量延迟必须在0-3600秒之间,当前值: %d", batchDelay)
	}

	for _, kind := range blockResources {
		if !blockableResources[kind] {
			return fmt.Errorf("无效的资源类型: %s (有效值: document, stylesheet, image, media, font, script, xhr, fetch, websocket, other)", kind)
		}
	}

	return nil
}

// ValidateCrawlFlags 验证爬取命令的标志
func ValidateCrawlFlags(targetURL, driverType, strategy string, depth, maxPages, concurrency int) error {
	if err := models.ValidateURL(targetURL); err != nil {
		return fmt.Errorf("无效的起始URL: %w", err)
	}

	if err := validateDriverType(driverType); err != nil {
		return err
	}

	switch strategy {
	case "", "bfs", "dfs":
	default:
		return fmt.Errorf("无效的遍历策略: %s (有效值: bfs, dfs)", strategy)
	}

	if depth < 0 || depth > 10 {
		return fmt.Errorf("爬取深度必须在0-10之间,当前值: %d", depth)
	}

	if maxPages < 0 {
		return fmt.Errorf("页面数上限不能为负数,当前值: %d", maxPages)
	}

	if concurrency < 0 || concurrency > 100 {
		return fmt.Errorf("并发数必须在0-100之间,当前值: %d", concurrency)
	}

	return nil
}
