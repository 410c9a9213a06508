package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/PlanCrawl/internal/config"
	"github.com/RecoveryAshes/PlanCrawl/internal/crawl"
	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/toolkit"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 驱动参数
	driverType      string
	browserName     string
	headless        bool
	mobile          bool
	dismissOverlays bool

	// 计划与输出参数
	plansDir   string
	planFile   string
	objective  string
	outputDir  string
	saveReport bool

	// 抓取参数
	targetURL      string
	urlFile        string
	pdfPath        string
	harPath        string
	tracePath      string
	blockResources []string

	// 批量处理参数
	batchDelay      int
	continueOnError bool

	// 爬取参数
	strategy      string
	depth         int
	maxPages      int
	concurrency   int
	linkSelector  string
	allowPattern  string
	allowExternal bool
)

// PersistentPreRunE加载后供各命令使用
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "plancrawl",
	Short: "计划驱动的浏览器自动化抓取工具",
	Long: `PlanCrawl - 计划驱动的浏览器自动化与多页爬取工具

以声明式计划(有序浏览器动作+内容选择器)驱动抓取,支持:
  • rod/playwright/static三种驱动后端
  • 计划指纹缓存与三级URL匹配
  • BFS/DFS多页爬取,深度/页数/并发可控
  • 失败隔离: 单页失败不中断整体爬取
  • PDF导出、HAR录制、执行追踪(playwright后端)

使用示例:
  # 使用缓存计划抓取单页
  plancrawl -u https://example.com

  # 指定计划文件抓取
  plancrawl -u https://example.com --plan-file plans/example.json

  # 多页爬取
  plancrawl crawl -u https://example.com -d 2 --max-pages 20

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = loaded

		logConfig := utils.LogConfig{
			Level:      appConfig.Logging.Level,
			LogDir:     appConfig.Logging.LogDir,
			MaxSize:    appConfig.Logging.Rotation.MaxSize,
			MaxBackups: appConfig.Logging.Rotation.MaxBackups,
			MaxAge:     appConfig.Logging.Rotation.MaxAge,
			Compress:   appConfig.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		return nil
	},
	RunE: runScrape,
}

// runScrape 单URL或批量抓取
func runScrape(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if targetURL == "" && urlFile == "" {
		return cmd.Help()
	}

	if err := ValidateScrapeFlags(targetURL, driverType, batchDelay, blockResources); err != nil {
		return err
	}

	mergeDriverFlags()
	if err := appConfig.Validate(); err != nil {
		return err
	}

	tk, err := buildToolkit(nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tk.Close(context.Background()); err != nil {
			utils.Warnf("关闭驱动失败: %v", err)
		}
	}()

	scrapeOpts := toolkit.ScrapeOptions{
		Objective:      objective,
		PDFPath:        pdfPath,
		HARPath:        harPath,
		TracePath:      tracePath,
		BlockResources: blockResources,
	}
	if planFile != "" {
		plan, err := loadPlanFile(planFile)
		if err != nil {
			return err
		}
		scrapeOpts.Plan = plan
	}

	// 批量处理模式
	if urlFile != "" {
		urls, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return fmt.Errorf("读取URL文件失败: %w", err)
		}

		batch := toolkit.NewBatchScraper(tk, batchDelay, continueOnError)
		if _, err := batch.ScrapeBatch(ctx, urls, scrapeOpts); err != nil {
			return fmt.Errorf("批量抓取失败: %w", err)
		}

		utils.Info("✨ 批量抓取任务完成!")
		return nil
	}

	// 单URL抓取模式
	result, err := tk.Scrape(ctx, targetURL, scrapeOpts)
	if errors.Is(err, models.ErrNoPlanAvailable) {
		utils.Infof("未找到缓存计划,使用默认抓取计划: %s", targetURL)
		fallback, planErr := defaultPlan(targetURL)
		if planErr != nil {
			return planErr
		}
		scrapeOpts.Plan = fallback
		result, err = tk.Scrape(ctx, targetURL, scrapeOpts)
	}
	if err != nil {
		return fmt.Errorf("抓取失败: %w", err)
	}

	printScrapeResult(result)

	if saveReport {
		if err := newReporter(targetURL).SaveScrapeReport(result); err != nil {
			utils.Warnf("保存报告失败: %v", err)
		}
	}

	utils.Info("✨ 抓取任务完成!")
	return nil
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "从起始URL开始多页爬取",
	Long: `从起始URL开始按BFS或DFS遍历同域链接,对每个页面执行计划并提取内容。

使用示例:
  plancrawl crawl -u https://example.com -d 2 --max-pages 20
  plancrawl crawl -u https://example.com --strategy dfs --concurrency 4
  plancrawl crawl -u https://example.com --allow-pattern '/docs/.*'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if targetURL == "" {
			return cmd.Help()
		}

		if err := ValidateCrawlFlags(targetURL, driverType, strategy, depth, maxPages, concurrency); err != nil {
			return err
		}

		mergeDriverFlags()
		appConfig.MergeCLIFlags("", "", headless, depth, maxPages, concurrency, strategy, plansDir)
		if err := appConfig.Validate(); err != nil {
			return err
		}

		// 资源调速器约束每轮并发
		governor := crawl.NewResourceGovernor(governorConfig())
		governor.StartMonitoring(2 * time.Second)
		defer governor.StopMonitoring()

		tk, err := buildToolkit(governor)
		if err != nil {
			return err
		}
		defer func() {
			if err := tk.Close(context.Background()); err != nil {
				utils.Warnf("关闭驱动失败: %v", err)
			}
		}()

		crawlOpts := toolkit.CrawlOptions{
			Objective:     objective,
			Strategy:      appConfig.Crawl.Strategy,
			Depth:         appConfig.Crawl.Depth,
			MaxPages:      appConfig.Crawl.MaxPages,
			Concurrency:   appConfig.Crawl.Concurrency,
			LinkSelector:  linkSelector,
			AllowPattern:  allowPattern,
			AllowExternal: allowExternal || appConfig.Crawl.AllowExternal,
		}
		if crawlOpts.LinkSelector == "" {
			crawlOpts.LinkSelector = appConfig.Crawl.LinkSelector
		}
		if planFile != "" {
			plan, err := loadPlanFile(planFile)
			if err != nil {
				return err
			}
			crawlOpts.Plan = plan
		}

		result, err := tk.Crawl(ctx, targetURL, crawlOpts)
		if errors.Is(err, models.ErrNoPlanAvailable) {
			utils.Infof("未找到缓存计划,使用默认抓取计划: %s", targetURL)
			fallback, planErr := defaultPlan(targetURL)
			if planErr != nil {
				return planErr
			}
			crawlOpts.Plan = fallback
			result, err = tk.Crawl(ctx, targetURL, crawlOpts)
		}
		if err != nil {
			return fmt.Errorf("爬取失败: %w", err)
		}

		printCrawlResult(result)

		if saveReport {
			if err := newReporter(targetURL).SaveCrawlReport(result); err != nil {
				utils.Warnf("保存报告失败: %v", err)
			}
		}

		utils.Info("✨ 爬取任务完成!")
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "管理缓存的爬取计划",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已缓存的计划",
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := buildToolkit(nil)
		if err != nil {
			return err
		}

		entries := tk.ListPlans()
		if len(entries) == 0 {
			fmt.Println("计划缓存为空")
			return nil
		}

		fmt.Printf("%-24s %-6s %-18s %-10s %s\n", "名称", "版本", "指纹", "使用次数", "URL")
		for _, entry := range entries {
			fmt.Printf("%-24s v%-5d %-18s %-10d %s\n",
				entry.Name, entry.Version, entry.Fingerprint, entry.UseCount, entry.URL)
		}
		fmt.Printf("\n共 %d 个计划\n", len(entries))
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <指纹>",
	Short: "显示指定计划的完整内容",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := buildToolkit(nil)
		if err != nil {
			return err
		}

		plan, err := tk.GetPlan(args[0])
		if err != nil {
			return err
		}

		data, err := plan.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(data)
		return nil
	},
}

var planRemoveCmd = &cobra.Command{
	Use:   "remove <名称>",
	Short: "删除指定名称的计划(含全部版本)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tk, err := buildToolkit(nil)
		if err != nil {
			return err
		}

		if err := tk.RemovePlan(args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ 已删除计划: %s\n", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PlanCrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Println("计划驱动的浏览器自动化抓取工具")
	},
}

// mergeDriverFlags 将驱动相关命令行参数合并进配置
func mergeDriverFlags() {
	appConfig.MergeCLIFlags(driverType, browserName, headless, 0, 0, 0, "", plansDir)
	appConfig.Driver.Mobile = mobile
	if dismissOverlays {
		appConfig.Driver.DismissOverlays = true
	}
}

// buildToolkit 按当前配置组装门面
func buildToolkit(governor *crawl.ResourceGovernor) (*toolkit.Toolkit, error) {
	tk, err := toolkit.New(toolkit.Options{
		DriverConfig:          appConfig.Driver,
		PlansDir:              appConfig.Plans.Dir,
		Governor:              governor,
		DisableGeneratedCache: !appConfig.Plans.CacheGenerated,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	return tk, nil
}

// newReporter 按输出配置构造报告生成器
func newReporter(rawURL string) *utils.Reporter {
	dir := outputDir
	if dir == "" {
		dir = appConfig.Output.BaseDir
	}
	domain := ""
	if appConfig.Output.DomainSeparation {
		domain = models.DomainOf(rawURL)
	}
	return utils.NewReporter(dir, domain)
}

// governorConfig 将配置中的MB值换算为调速器的字节配置
func governorConfig() crawl.GovernorConfig {
	return crawl.GovernorConfig{
		SafetyReserveMemory: int64(appConfig.Crawl.SafetyReserveMemory) * 1024 * 1024,
		SafetyThreshold:     int64(appConfig.Crawl.SafetyThreshold) * 1024 * 1024,
		CPULoadThreshold:    appConfig.Crawl.CPULoadThreshold,
		MaxWorkersLimit:     appConfig.Crawl.MaxWorkersLimit,
	}
}

// loadPlanFile 从文件加载计划
func loadPlanFile(path string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取计划文件失败: %w", err)
	}
	plan, err := models.PlanFromJSON(string(data))
	if err != nil {
		return nil, fmt.Errorf("计划文件无效 [%s]: %w", path, err)
	}
	return plan, nil
}

// defaultPlan 构造仅导航+通用提取的兜底计划
func defaultPlan(rawURL string) (*models.Plan, error) {
	steps := []models.PlanStep{
		{Action: "navigate", Params: map[string]any{"url": rawURL}},
		{Action: "wait", Params: map[string]any{"condition_type": "load_state", "condition": "load"}},
	}
	plan, err := models.NewPlan(rawURL, "抓取页面标题与正文", steps)
	if err != nil {
		return nil, err
	}
	plan.Selectors = []models.Selector{
		{Name: "title", Kind: models.SelectorKindCSS, Query: "title", Extract: models.ExtractText},
		{Name: "content", Kind: models.SelectorKindCSS, Query: "body", Extract: models.ExtractText},
		{Name: "links", Kind: models.SelectorKindCSS, Query: "a[href]", Extract: models.ExtractAttribute, Attribute: "href", Multiple: true},
	}
	return plan, nil
}

// printScrapeResult 打印单页抓取统计
func printScrapeResult(result *models.ScrapingResult) {
	fmt.Println("\n==================================================")
	fmt.Println("📊 抓取统计")
	fmt.Println("==================================================")
	fmt.Printf("页面URL: %s\n", result.URL)
	if result.Success {
		fmt.Println("✅ 执行成功")
	} else {
		fmt.Printf("❌ 执行失败: %s\n", result.ErrorMessage)
	}
	fmt.Printf("执行步骤: %d\n", result.Metadata.StepCount)
	fmt.Printf("步骤错误: %d\n", len(result.StepErrors))
	fmt.Printf("提取数据项: %d\n", len(result.ExtractedData))
	for name := range result.ExtractedData {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("==================================================")
}

// printCrawlResult 打印爬取统计
func printCrawlResult(result *models.CrawlResult) {
	fmt.Println("\n==================================================")
	fmt.Println("📊 爬取统计")
	fmt.Println("==================================================")
	fmt.Printf("任务ID: %s\n", result.RunID)
	fmt.Printf("起始URL: %s\n", result.StartURL)
	fmt.Printf("遍历策略: %s (深度≤%d)\n", result.Strategy, result.Depth)
	fmt.Printf("✅ 成功页面: %d\n", len(result.VisitedURLs))
	fmt.Printf("❌ 失败页面: %d\n", len(result.FailedURLs))
	fmt.Printf("📄 页面总数: %d\n", result.TotalPages)
	if result.PlanName != "" {
		fmt.Printf("使用计划: %s (指纹%s)\n", result.PlanName, result.PlanFingerprint)
	}
	fmt.Printf("⏱️  总耗时: %.2f秒\n", result.Duration)
	fmt.Println("==================================================")
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// 驱动参数
	rootCmd.PersistentFlags().StringVar(&driverType, "driver", "", "驱动后端 (rod|playwright|static)")
	rootCmd.PersistentFlags().StringVar(&browserName, "browser", "", "浏览器名称 (chrome|chromium|edge|firefox|webkit|safari)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.PersistentFlags().BoolVar(&mobile, "mobile", false, "移动端仿真")
	rootCmd.PersistentFlags().BoolVar(&dismissOverlays, "dismiss-overlays", false, "导航后自动关闭遮罩层")

	// 计划与输出参数
	rootCmd.PersistentFlags().StringVar(&plansDir, "plans-dir", "", "计划缓存目录")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "输出目录(默认取配置值)")
	rootCmd.PersistentFlags().BoolVar(&saveReport, "save-report", false, "保存JSON报告")

	// 抓取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	rootCmd.Flags().StringVar(&planFile, "plan-file", "", "计划文件路径(优先于缓存)")
	rootCmd.Flags().StringVar(&objective, "objective", "", "抓取目标描述(缓存未命中时用于生成计划)")
	rootCmd.Flags().StringVar(&pdfPath, "pdf", "", "导出页面PDF到该路径(需playwright后端)")
	rootCmd.Flags().StringVar(&harPath, "har", "", "录制HAR到该路径(需playwright后端)")
	rootCmd.Flags().StringVar(&tracePath, "trace", "", "录制执行追踪到该路径(需playwright后端)")
	rootCmd.Flags().StringSliceVar(&blockResources, "block", []string{}, "拦截的资源类型,如image,media,font(需playwright后端)")

	// 批量处理参数
	rootCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理URL间延迟(秒)")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	// 爬取参数
	crawlCmd.Flags().StringVarP(&targetURL, "url", "u", "", "起始URL (必需)")
	crawlCmd.Flags().StringVar(&planFile, "plan-file", "", "计划文件路径(优先于缓存)")
	crawlCmd.Flags().StringVar(&objective, "objective", "", "抓取目标描述(缓存未命中时用于生成计划)")
	crawlCmd.Flags().StringVar(&strategy, "strategy", "", "遍历策略 (bfs|dfs)")
	crawlCmd.Flags().IntVarP(&depth, "depth", "d", 0, "最大爬取深度 (0-10)")
	crawlCmd.Flags().IntVar(&maxPages, "max-pages", 0, "页面数上限(0表示使用配置值)")
	crawlCmd.Flags().IntVar(&concurrency, "concurrency", 0, "每轮并发抓取数")
	crawlCmd.Flags().StringVar(&linkSelector, "link-selector", "", "链接元素选择器")
	crawlCmd.Flags().StringVar(&allowPattern, "allow-pattern", "", "链接白名单正则")
	crawlCmd.Flags().BoolVar(&allowExternal, "allow-external", false, "允许跨域链接")

	// 添加子命令
	planCmd.AddCommand(planListCmd, planShowCmd, planRemoveCmd)
	rootCmd.AddCommand(crawlCmd, planCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
