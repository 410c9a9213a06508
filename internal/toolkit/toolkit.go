// Package toolkit 对外门面,组合驱动、执行器、计划缓存与爬取引擎
// 计划解析链: 显式计划 → 注册表缓存 → LLM生成 → 失败
// 驱动生命周期: fresh模式每次调用新建并退出,session模式复用单个驱动
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/PlanCrawl/internal/crawl"
	"github.com/RecoveryAshes/PlanCrawl/internal/driver"
	"github.com/RecoveryAshes/PlanCrawl/internal/executor"
	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/plans"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// 未指定计划目录时的默认值
const defaultPlansDir = "plans"

// Options 门面配置
type Options struct {
	DriverConfig models.DriverConfig     // 驱动配置,Type为空时使用默认配置
	PlansDir     string                  // 计划缓存目录,默认./plans
	Session      bool                    // 会话模式: 懒启动一个驱动并在多次调用间复用
	Completer    plans.Completer         // 可选的LLM协作方,缺省时无法生成新计划
	Drivers      *driver.Registry        // 驱动注册表,缺省使用内置后端
	Governor     *crawl.ResourceGovernor // 可选的资源调速器,传给爬取引擎

	// 解析链中生成的计划默认自动写回缓存,置true关闭
	DisableGeneratedCache bool
}

// ScrapeOptions 单页抓取选项
type ScrapeOptions struct {
	Plan      *models.Plan            // 显式计划,优先级最高
	Objective string                  // 缓存未命中时用于生成计划
	Overrides *models.DriverOverrides // 本次调用的驱动配置覆盖(仅fresh模式生效)

	// 以下为扩展产物,需要后端支持对应能力
	PDFPath        string                         // 抓取完成后导出页面PDF
	HARPath        string                         // 录制HAR到该路径
	TracePath      string                         // 录制执行追踪到该路径
	BlockResources []string                       // 拦截的资源类型(image/media/font等)
	MockRoutes     map[string]driver.MockResponse // URL模式 → 模拟响应
}

// CrawlOptions 多页爬取选项
type CrawlOptions struct {
	Plan          *models.Plan // 显式计划,优先级最高
	Objective     string       // 缓存未命中时用于生成计划
	Strategy      string       // 遍历策略: bfs/dfs,默认bfs
	Depth         int          // 最大深度
	MaxPages      int          // 页数上限,≤0不限
	Concurrency   int          // 每轮并发数,默认1
	LinkSelector  string       // 链接选择器(计划提示优先)
	AllowPattern  string       // 链接白名单正则(计划提示优先)
	AllowExternal bool         // 是否允许跨域链接
}

// Toolkit 计划驱动抓取门面
type Toolkit struct {
	opts      Options
	drivers   *driver.Registry
	store     *plans.PlanStore
	registry  *plans.PlanRegistry
	generator *plans.PlanGenerator

	// 会话模式驱动状态,busy标记防止并发复用
	sessionMu   sync.Mutex
	sessionDrv  driver.Driver
	sessionBusy bool
}

// New 创建门面实例
func New(opts Options) (*Toolkit, error) {
	if opts.DriverConfig.Type == "" {
		opts.DriverConfig = models.DefaultDriverConfig()
	}
	if err := opts.DriverConfig.Validate(); err != nil {
		return nil, fmt.Errorf("驱动配置无效: %w", err)
	}
	if opts.PlansDir == "" {
		opts.PlansDir = defaultPlansDir
	}
	if opts.Drivers == nil {
		opts.Drivers = driver.Default()
	}

	t := &Toolkit{
		opts:     opts,
		drivers:  opts.Drivers,
		store:    plans.NewPlanStore(opts.PlansDir),
		registry: plans.NewPlanRegistry(opts.PlansDir),
	}
	if opts.Completer != nil {
		t.generator = plans.NewPlanGenerator(opts.Completer)
	}
	return t, nil
}

// Close 退出会话模式驱动,fresh模式下为空操作
func (t *Toolkit) Close(ctx context.Context) error {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()

	if t.sessionDrv == nil {
		return nil
	}
	err := t.sessionDrv.Quit(ctx)
	t.sessionDrv = nil
	t.sessionBusy = false
	return err
}

// ResolvePlan 按解析链确定URL适用的计划
// 缓存命中时返回的副本Source为cached并已Touch计数;
// 生成的计划会尽力写回缓存,写回失败不影响返回
func (t *Toolkit) ResolvePlan(ctx context.Context, rawURL string, explicit *models.Plan, objective string) (*models.Plan, error) {
	if explicit != nil {
		utils.Debugf("使用显式计划: %s v%d", explicit.Name, explicit.Version)
		return explicit, nil
	}

	if entry, ok := t.registry.Lookup(rawURL); ok {
		plan, err := t.store.Load(entry.RelativePath)
		if err != nil {
			utils.Warnf("缓存计划加载失败,按未命中处理 [%s]: %v", entry.RelativePath, err)
		} else {
			if err := t.registry.Touch(entry.Fingerprint); err != nil {
				utils.Warnf("更新计划使用计数失败 [%s]: %v", entry.Fingerprint, err)
			}
			utils.Infof("📦 命中缓存计划: %s v%d (指纹%s)", entry.Name, entry.Version, entry.Fingerprint)
			cached := *plan
			cached.Source = models.PlanSourceCached
			return &cached, nil
		}
	}

	if t.generator != nil && objective != "" {
		plan, err := t.generator.Generate(ctx, rawURL, objective)
		if err != nil {
			return nil, err
		}
		if !t.opts.DisableGeneratedCache {
			t.cacheBack(plan)
		}
		return plan, nil
	}

	return nil, fmt.Errorf("%w: %s (提供显式计划,或附带目标描述以生成)", models.ErrNoPlanAvailable, rawURL)
}

// cacheBack 将生成的计划写回缓存,失败仅告警
// 缓存文件损坏后重新生成的场景下旧索引项仍在,因此覆盖注册
func (t *Toolkit) cacheBack(plan *models.Plan) {
	relativePath, err := t.store.Save(plan)
	if err != nil {
		utils.Warnf("计划写入缓存失败 [%s]: %v", plan.Name, err)
		return
	}
	if err := t.registry.Register(plan, relativePath, true); err != nil {
		utils.Warnf("计划注册失败 [%s]: %v", plan.Name, err)
	}
}

// Scrape 对单个URL执行计划并提取内容
func (t *Toolkit) Scrape(ctx context.Context, rawURL string, opts ScrapeOptions) (*models.ScrapingResult, error) {
	plan, err := t.ResolvePlan(ctx, rawURL, opts.Plan, opts.Objective)
	if err != nil {
		return nil, err
	}

	config := t.opts.DriverConfig
	if opts.Overrides != nil {
		if t.opts.Session {
			utils.Warnf("会话模式下忽略本次调用的驱动配置覆盖")
		} else {
			config = config.Merge(*opts.Overrides)
		}
	}

	drv, release, err := t.acquireDriver(ctx, config)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := t.setupExtras(ctx, drv, opts); err != nil {
		return nil, err
	}

	exec := executor.NewExecutor(drv, config)
	result := exec.Run(ctx, rawURL, retargetSteps(plan, rawURL), plan.Selectors)

	t.collectExtras(ctx, drv, opts, result)
	return result, nil
}

// Crawl 从startURL开始多页爬取
// 会话模式下并发数大于1属于调用方错误
func (t *Toolkit) Crawl(ctx context.Context, startURL string, opts CrawlOptions) (*models.CrawlResult, error) {
	if t.opts.Session && opts.Concurrency > 1 {
		return nil, fmt.Errorf("%w: 并发数%d", models.ErrSessionConcurrency, opts.Concurrency)
	}

	plan, err := t.ResolvePlan(ctx, startURL, opts.Plan, opts.Objective)
	if err != nil {
		return nil, err
	}

	scrapeFn := func(ctx context.Context, pageURL string, p *models.Plan) (*models.ScrapingResult, error) {
		result, err := t.runPlanOnce(ctx, pageURL, p)
		if err != nil {
			return nil, &models.PageFetchError{URL: pageURL, Err: err}
		}
		if result.Aborted {
			return nil, &models.PageFetchError{URL: pageURL, Err: errors.New(result.ErrorMessage)}
		}
		return result, nil
	}

	engine, err := crawl.NewCrawlEngine(scrapeFn, crawl.EngineOptions{
		Strategy:      opts.Strategy,
		Concurrency:   opts.Concurrency,
		LinkSelector:  opts.LinkSelector,
		AllowPattern:  opts.AllowPattern,
		AllowExternal: opts.AllowExternal,
		Governor:      t.opts.Governor,
	})
	if err != nil {
		return nil, err
	}

	return engine.Run(ctx, startURL, plan, opts.Depth, opts.MaxPages)
}

// GeneratePlan 为URL生成新计划并写入缓存
func (t *Toolkit) GeneratePlan(ctx context.Context, rawURL, objective string) (*models.Plan, error) {
	if t.generator == nil {
		return nil, fmt.Errorf("未配置LLM协作方,无法生成计划")
	}
	plan, err := t.generator.Generate(ctx, rawURL, objective)
	if err != nil {
		return nil, err
	}
	t.cacheBack(plan)
	return plan, nil
}

// SavePlan 持久化计划并注册到索引
func (t *Toolkit) SavePlan(plan *models.Plan, overwrite bool) error {
	if plan == nil {
		return fmt.Errorf("计划不能为空")
	}
	relativePath, err := t.store.Save(plan)
	if err != nil {
		return err
	}
	return t.registry.Register(plan, relativePath, overwrite)
}

// ListPlans 列出索引中的全部计划
func (t *Toolkit) ListPlans() []plans.PlanRegistryEntry {
	return t.registry.List()
}

// GetPlan 按指纹加载计划全文
func (t *Toolkit) GetPlan(fingerprint string) (*models.Plan, error) {
	entry, ok := t.registry.Get(fingerprint)
	if !ok {
		return nil, fmt.Errorf("索引中不存在指纹: %s", fingerprint)
	}
	return t.store.Load(entry.RelativePath)
}

// RemovePlan 从索引移除计划并删除对应文件
func (t *Toolkit) RemovePlan(name string) error {
	removed, err := t.registry.Remove(name)
	if err != nil {
		return err
	}
	for _, entry := range removed {
		if err := t.store.Delete(entry.RelativePath); err != nil {
			utils.Warnf("删除计划文件失败 [%s]: %v", entry.RelativePath, err)
		}
	}
	return nil
}

// runPlanOnce 按生命周期策略取得驱动并执行一次计划
func (t *Toolkit) runPlanOnce(ctx context.Context, pageURL string, plan *models.Plan) (*models.ScrapingResult, error) {
	drv, release, err := t.acquireDriver(ctx, t.opts.DriverConfig)
	if err != nil {
		return nil, err
	}
	defer release()

	exec := executor.NewExecutor(drv, t.opts.DriverConfig)
	return exec.Run(ctx, pageURL, retargetSteps(plan, pageURL), plan.Selectors), nil
}

// acquireDriver 按生命周期策略取得已启动的驱动
// fresh模式: 新建驱动,release时退出
// session模式: 懒启动并复用,busy期间的并发获取是调用方错误
func (t *Toolkit) acquireDriver(ctx context.Context, config models.DriverConfig) (driver.Driver, func(), error) {
	if !t.opts.Session {
		drv, err := t.drivers.Create(config)
		if err != nil {
			return nil, nil, err
		}
		if err := drv.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("驱动启动失败: %w", err)
		}
		release := func() {
			if err := drv.Quit(ctx); err != nil {
				utils.Warnf("驱动退出失败: %v", err)
			}
		}
		return drv, release, nil
	}

	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()

	if t.sessionBusy {
		return nil, nil, models.ErrSessionConcurrency
	}
	if t.sessionDrv == nil {
		drv, err := t.drivers.Create(t.opts.DriverConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := drv.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("会话驱动启动失败: %w", err)
		}
		t.sessionDrv = drv
		utils.Debugf("会话驱动已启动: %s", drv.Type())
	}

	t.sessionBusy = true
	release := func() {
		t.sessionMu.Lock()
		t.sessionBusy = false
		t.sessionMu.Unlock()
	}
	return t.sessionDrv, release, nil
}

// setupExtras 在执行计划前配置扩展产物(拦截、HAR、追踪、路由模拟)
// HAR与追踪必须在导航前开启,任一失败都会中止本次抓取
func (t *Toolkit) setupExtras(ctx context.Context, drv driver.Driver, opts ScrapeOptions) error {
	ext, err := extendedFor(drv, opts)
	if err != nil || ext == nil {
		return err
	}

	if len(opts.BlockResources) > 0 {
		blocked := make(map[string]bool, len(opts.BlockResources))
		for _, kind := range opts.BlockResources {
			blocked[kind] = true
		}
		handler := func(requestURL, resourceType string) bool {
			return !blocked[resourceType]
		}
		if err := ext.InterceptRequests(ctx, handler); err != nil {
			return fmt.Errorf("配置请求拦截失败: %w", err)
		}
	}

	for pattern, response := range opts.MockRoutes {
		if err := ext.MockRoute(ctx, pattern, response); err != nil {
			return fmt.Errorf("配置路由模拟失败 [%s]: %w", pattern, err)
		}
	}

	if opts.HARPath != "" {
		if err := ext.RecordHAR(ctx, opts.HARPath); err != nil {
			return fmt.Errorf("开启HAR录制失败: %w", err)
		}
	}

	if opts.TracePath != "" {
		if err := ext.StartTracing(ctx, "scrape"); err != nil {
			return fmt.Errorf("开启执行追踪失败: %w", err)
		}
	}

	return nil
}

// collectExtras 在执行计划后收集扩展产物
// 此时抓取结果已经产生,失败仅告警并记入结果元数据
func (t *Toolkit) collectExtras(ctx context.Context, drv driver.Driver, opts ScrapeOptions, result *models.ScrapingResult) {
	ext, err := extendedFor(drv, opts)
	if err != nil || ext == nil {
		return
	}

	if opts.TracePath != "" {
		if err := ext.StopTracing(ctx, opts.TracePath); err != nil {
			utils.Warnf("保存执行追踪失败 [%s]: %v", opts.TracePath, err)
			result.Metadata.Extra["trace_error"] = err.Error()
		} else {
			result.Metadata.Extra["trace_path"] = opts.TracePath
		}
	}

	if opts.PDFPath != "" {
		if err := ext.SavePDF(ctx, opts.PDFPath); err != nil {
			utils.Warnf("导出PDF失败 [%s]: %v", opts.PDFPath, err)
			result.Metadata.Extra["pdf_error"] = err.Error()
		} else {
			result.Metadata.Extra["pdf_path"] = opts.PDFPath
		}
	}

	if opts.HARPath != "" {
		result.Metadata.Extra["har_path"] = opts.HARPath
	}
}

// extendedFor 检查扩展产物请求并返回扩展驱动
// 未请求任何扩展产物时返回(nil, nil),后端不支持时返回错误
func extendedFor(drv driver.Driver, opts ScrapeOptions) (driver.ExtendedDriver, error) {
	required := make([]driver.Capability, 0, 5)
	if len(opts.BlockResources) > 0 {
		required = append(required, driver.CapInterceptRequests)
	}
	if len(opts.MockRoutes) > 0 {
		required = append(required, driver.CapMockRoute)
	}
	if opts.HARPath != "" {
		required = append(required, driver.CapRecordHAR)
	}
	if opts.TracePath != "" {
		required = append(required, driver.CapTracing)
	}
	if opts.PDFPath != "" {
		required = append(required, driver.CapSavePDF)
	}
	if len(required) == 0 {
		return nil, nil
	}

	for _, capability := range required {
		if !drv.Supports(capability) {
			return nil, fmt.Errorf("%w: %s后端不支持%s", models.ErrUnsupportedCapability, drv.Type(), capability)
		}
	}

	ext, ok := drv.(driver.ExtendedDriver)
	if !ok {
		return nil, fmt.Errorf("%w: %s后端未实现扩展契约", models.ErrUnsupportedCapability, drv.Type())
	}
	return ext, nil
}

// retargetSteps 将计划步骤指向目标URL
// 首个navigate步骤的url参数被替换,没有navigate步骤时前插一个;
// 计划本身不被修改,同域缓存计划因此可以复用到其他页面
func retargetSteps(plan *models.Plan, pageURL string) []models.PlanStep {
	steps := make([]models.PlanStep, len(plan.Steps))
	copy(steps, plan.Steps)

	for i, step := range steps {
		if step.Action != "navigate" {
			continue
		}
		params := make(map[string]any, len(step.Params)+1)
		for k, v := range step.Params {
			params[k] = v
		}
		params["url"] = pageURL
		steps[i] = models.PlanStep{Action: step.Action, Params: params}
		return steps
	}

	navigate := models.PlanStep{Action: "navigate", Params: map[string]any{"url": pageURL}}
	return append([]models.PlanStep{navigate}, steps...)
}
