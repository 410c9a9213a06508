// Package crawl 实现计划驱动的多页爬取
// 引擎以图+策略组织遍历,抓取逻辑通过ScrapeFunc注入,
// 单页失败只标记节点,不中断整体爬取
package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// ScrapeFunc 单页抓取函数,由调用方注入
// 返回的ScrapingResult.RawContent用于链接发现
type ScrapeFunc func(ctx context.Context, pageURL string, plan *models.Plan) (*models.ScrapingResult, error)

// EngineOptions 爬取引擎配置
type EngineOptions struct {
	Strategy      string            // 遍历策略: bfs/dfs,默认bfs
	Concurrency   int               // 每轮并发抓取数,默认1(顺序模式)
	LinkSelector  string            // 链接选择器,计划未指定时生效
	AllowPattern  string            // 链接白名单正则,计划未指定时生效
	AllowExternal bool              // 是否允许跨域链接
	Governor      *ResourceGovernor // 可选的资源调速器
}

// CrawlEngine 多页爬取引擎
// 遍历顺序由策略决定,并发模式按轮次推进:
// 每轮取出至多concurrency个节点并行处理,全部完成后再开始下一轮
type CrawlEngine struct {
	scrapeFn ScrapeFunc
	strategy CrawlStrategy
	opts     EngineOptions
}

// NewCrawlEngine 创建爬取引擎
func NewCrawlEngine(scrapeFn ScrapeFunc, opts EngineOptions) (*CrawlEngine, error) {
	if scrapeFn == nil {
		return nil, fmt.Errorf("抓取函数不能为空")
	}

	strategy, err := NewStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &CrawlEngine{
		scrapeFn: scrapeFn,
		strategy: strategy,
		opts:     opts,
	}, nil
}

// Run 从startURL开始爬取
// depth为最大深度,maxPages≤0表示不限页数
// 计划中的爬取提示(follow_selector等)优先于引擎配置
func (e *CrawlEngine) Run(ctx context.Context, startURL string, plan *models.Plan, depth, maxPages int) (*models.CrawlResult, error) {
	if startURL == "" {
		return nil, fmt.Errorf("起始URL不能为空")
	}
	if depth < 0 {
		depth = 0
	}

	linkSelector := e.opts.LinkSelector
	allowPattern := e.opts.AllowPattern
	maxDepth := depth
	if plan != nil {
		if plan.FollowSelector != "" {
			linkSelector = plan.FollowSelector
		}
		if plan.FollowPattern != "" {
			allowPattern = plan.FollowPattern
		}
		if plan.MaxDepth > 0 {
			maxDepth = plan.MaxDepth
		}
	}

	discoverer, err := NewLinkDiscoverer(startURL, DiscovererOptions{
		LinkSelector:  linkSelector,
		AllowPattern:  allowPattern,
		AllowExternal: e.opts.AllowExternal,
		MaxDepth:      maxDepth,
	})
	if err != nil {
		return nil, err
	}

	result := models.NewCrawlResult(startURL, maxDepth)
	result.Strategy = e.strategy.Name()
	if plan != nil {
		result.PlanName = plan.Name
		result.PlanFingerprint = plan.Fingerprint
	}

	graph := NewCrawlGraph()
	if _, err := graph.AddRoot(startURL); err != nil {
		return nil, err
	}

	utils.Infof("🗺️ 开始爬取: %s (策略=%s 深度=%d 并发=%d)", startURL, e.strategy.Name(), maxDepth, e.opts.Concurrency)

	var mu sync.Mutex
	for {
		if ctx.Err() != nil {
			utils.Warnf("爬取被取消: %v", ctx.Err())
			break
		}
		if graph.FrontierLen() == 0 {
			break
		}

		batch := e.batchSize(maxPages, result.TotalPages)
		if batch == 0 {
			utils.Infof("已达页数上限 %d,停止爬取", maxPages)
			break
		}

		nodes := make([]*models.CrawlNode, 0, batch)
		for len(nodes) < batch {
			node, ok := e.strategy.Next(graph)
			if !ok {
				break
			}
			nodes = append(nodes, node)
		}
		if len(nodes) == 0 {
			break
		}

		if len(nodes) == 1 {
			e.processNode(ctx, nodes[0], plan, graph, discoverer, result, &mu, maxDepth)
			continue
		}

		var wg sync.WaitGroup
		for _, node := range nodes {
			wg.Add(1)
			go func(n *models.CrawlNode) {
				defer wg.Done()
				e.processNode(ctx, n, plan, graph, discoverer, result, &mu, maxDepth)
			}(node)
		}
		wg.Wait()
	}

	result.Finish()
	e.logSummary(result)
	return result, nil
}

// batchSize 计算本轮派发的节点数
// 受并发配置、资源调速器和剩余页数预算共同约束,0表示预算已用尽
func (e *CrawlEngine) batchSize(maxPages, processed int) int {
	workers := e.opts.Concurrency
	if e.opts.Governor != nil {
		if ok, reason := e.opts.Governor.CheckAvailability(); !ok {
			utils.Warnf("资源受限,本轮降为单任务: %s", reason)
			workers = 1
		} else {
			workers = e.opts.Governor.ClampConcurrency(workers)
		}
	}

	if maxPages > 0 {
		remaining := maxPages - processed
		if remaining <= 0 {
			return 0
		}
		if workers > remaining {
			workers = remaining
		}
	}
	return workers
}

// processNode 处理单个节点: 抓取、记录结果、发现并入队子链接
// 抓取失败只标记该节点,爬取继续
func (e *CrawlEngine) processNode(ctx context.Context, node *models.CrawlNode, plan *models.Plan, graph *CrawlGraph, discoverer *LinkDiscoverer, result *models.CrawlResult, mu *sync.Mutex, maxDepth int) {
	node.MarkScraping()
	utils.Infof("🌐 抓取页面 [深度%d]: %s", node.Depth, node.URL)

	pageResult, err := e.scrapeFn(ctx, node.URL, plan)
	if err != nil {
		node.MarkFailed(err)
		mu.Lock()
		result.AddFailure(node.URL)
		mu.Unlock()
		utils.Errorf("❌ 页面抓取失败 [%s]: %v", node.URL, err)
		return
	}

	node.MarkDone(pageResult)
	mu.Lock()
	result.AddPage(pageResult)
	mu.Unlock()

	if node.Depth >= maxDepth || pageResult.RawContent == "" {
		return
	}

	baseURL := pageResult.URL
	if baseURL == "" {
		baseURL = node.URL
	}
	links := discoverer.Discover(pageResult.RawContent, baseURL, node.Depth)
	if len(links) == 0 {
		return
	}

	children := make([]*models.CrawlNode, 0, len(links))
	for _, link := range links {
		children = append(children, models.NewCrawlNode(link, node.Depth+1, node.URL))
	}
	added := e.strategy.Enqueue(graph, children)
	node.DiscoveredLinks = links
	utils.Debugf("🔍 发现链接 %d 个,新入队 %d 个: %s", len(links), added, node.URL)
}

// logSummary 打印爬取摘要
func (e *CrawlEngine) logSummary(result *models.CrawlResult) {
	utils.Info("\n==================================================")
	utils.Info("📊 爬取摘要")
	utils.Info("==================================================")
	utils.Infof("起始URL: %s", result.StartURL)
	utils.Infof("遍历策略: %s (深度≤%d)", result.Strategy, result.Depth)
	utils.Infof("✅ 成功: %d", len(result.VisitedURLs))
	utils.Infof("❌ 失败: %d", len(result.FailedURLs))
	utils.Infof("⏱️  总耗时: %.2f秒", result.Duration)
	utils.Info("==================================================")
}
