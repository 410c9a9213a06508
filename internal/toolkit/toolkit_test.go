package toolkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/PlanCrawl/internal/driver"
	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// stubDriver 预置页面内容的假驱动
type stubDriver struct {
	driver.UnsupportedExtras

	pages      map[string]string
	failNav    map[string]error
	currentURL string
	navigated  []string
	starts     int
	quits      int
}

func newStubDriver(pages map[string]string) *stubDriver {
	return &stubDriver{
		pages:   pages,
		failNav: make(map[string]error),
	}
}

func (d *stubDriver) Start(ctx context.Context) error { d.starts++; return nil }
func (d *stubDriver) Quit(ctx context.Context) error  { d.quits++; return nil }

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	if err := d.failNav[url]; err != nil {
		return err
	}
	d.currentURL = url
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *stubDriver) Back(ctx context.Context) error    { return nil }
func (d *stubDriver) Forward(ctx context.Context) error { return nil }
func (d *stubDriver) Reload(ctx context.Context) error  { return nil }

func (d *stubDriver) Click(ctx context.Context, selector string) error { return nil }
func (d *stubDriver) Fill(ctx context.Context, selector, value string, opts driver.FillOptions) error {
	return nil
}
func (d *stubDriver) SelectOption(ctx context.Context, selector string, target driver.SelectTarget) error {
	return nil
}
func (d *stubDriver) Hover(ctx context.Context, selector string) error { return nil }
func (d *stubDriver) PressKey(ctx context.Context, keys string) error  { return nil }

func (d *stubDriver) PageSource(ctx context.Context) (string, error) {
	return d.pages[d.currentURL], nil
}

func (d *stubDriver) Text(ctx context.Context, selector string) (string, error) { return "", nil }
func (d *stubDriver) Attribute(ctx context.Context, selector, name string) (string, error) {
	return "", nil
}
func (d *stubDriver) AllTexts(ctx context.Context, selector string) ([]string, error) {
	return nil, nil
}
func (d *stubDriver) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (d *stubDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (d *stubDriver) WaitForNavigation(ctx context.Context, timeout time.Duration) error { return nil }
func (d *stubDriver) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	return nil
}

func (d *stubDriver) ExecuteScript(ctx context.Context, script string, args ...any) error { return nil }
func (d *stubDriver) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}

func (d *stubDriver) Cookies(ctx context.Context) ([]driver.Cookie, error) { return nil, nil }

func (d *stubDriver) SetCookies(ctx context.Context, cookies []driver.Cookie) error { return nil }

func (d *stubDriver) CurrentURL(ctx context.Context) (string, error) { return d.currentURL, nil }

func (d *stubDriver) Type() string                      { return "stub" }
func (d *stubDriver) Supports(_ driver.Capability) bool { return false }

// extendedStubDriver 支持全部扩展能力的假驱动
type extendedStubDriver struct {
	stubDriver

	pdfErr   error
	traceErr error
	pdfPaths []string
	harPaths []string
	traced   []string
	handler  driver.RequestHandler
	mocks    map[string]driver.MockResponse
}

func (d *extendedStubDriver) Supports(_ driver.Capability) bool { return true }

func (d *extendedStubDriver) InterceptRequests(ctx context.Context, handler driver.RequestHandler) error {
	d.handler = handler
	return nil
}

func (d *extendedStubDriver) RecordHAR(ctx context.Context, path string) error {
	d.harPaths = append(d.harPaths, path)
	return nil
}

func (d *extendedStubDriver) SavePDF(ctx context.Context, path string) error {
	if d.pdfErr != nil {
		return d.pdfErr
	}
	d.pdfPaths = append(d.pdfPaths, path)
	return nil
}

func (d *extendedStubDriver) StartTracing(ctx context.Context, name string) error { return nil }

func (d *extendedStubDriver) StopTracing(ctx context.Context, path string) error {
	if d.traceErr != nil {
		return d.traceErr
	}
	d.traced = append(d.traced, path)
	return nil
}

func (d *extendedStubDriver) MockRoute(ctx context.Context, pattern string, response driver.MockResponse) error {
	if d.mocks == nil {
		d.mocks = make(map[string]driver.MockResponse)
	}
	d.mocks[pattern] = response
	return nil
}

// stubCompleter 返回预置响应的LLM协作方
type stubCompleter struct {
	response string
	err      error
	calls    int
}

func (c *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls++
	return c.response, c.err
}

const generatedPlanJSON = `{
  "url": "https://example.com/docs",
  "objective": "抓取文档标题",
  "steps": [{"action": "navigate", "params": {"url": "https://example.com/docs"}}],
  "selectors": [{"name": "title", "kind": "css", "query": "title"}]
}`

// stubToolkit 用注入的驱动构造门面,计划目录指向临时目录
func stubToolkit(t *testing.T, drv driver.Driver, mutate func(*Options)) *Toolkit {
	t.Helper()

	registry := driver.NewRegistry()
	registry.Register(models.DriverTypeRod, func(config models.DriverConfig) (driver.Driver, error) {
		return drv, nil
	})

	config := models.DefaultDriverConfig()
	config.ActionDelay = 0

	opts := Options{
		DriverConfig: config,
		PlansDir:     t.TempDir(),
		Drivers:      registry,
	}
	if mutate != nil {
		mutate(&opts)
	}

	tk, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tk
}

func navPlan(t *testing.T, rawURL string) *models.Plan {
	t.Helper()
	plan, err := models.NewPlan(rawURL, "抓取页面标题", []models.PlanStep{
		{Action: "navigate", Params: map[string]any{"url": rawURL}},
	})
	if err != nil {
		t.Fatalf("构造计划失败: %v", err)
	}
	plan.Selectors = []models.Selector{
		{Name: "title", Kind: models.SelectorKindCSS, Query: "title"},
	}
	return plan
}

func TestNewToolkit(t *testing.T) {
	tk, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tk.opts.DriverConfig.Type != models.DriverTypeRod {
		t.Errorf("默认驱动类型 = %s", tk.opts.DriverConfig.Type)
	}
	if tk.opts.PlansDir != defaultPlansDir {
		t.Errorf("默认计划目录 = %s", tk.opts.PlansDir)
	}

	bad := models.DefaultDriverConfig()
	bad.Timeout = 999
	if _, err := New(Options{DriverConfig: bad}); err == nil {
		t.Error("非法驱动配置应当返回错误")
	}
}

func TestRetargetSteps(t *testing.T) {
	plan := navPlan(t, "https://example.com")
	plan.Steps[0].Params["referer"] = "https://example.com/home"

	steps := retargetSteps(plan, "https://example.com/target")

	if steps[0].Params["url"] != "https://example.com/target" {
		t.Errorf("navigate未重定向: %v", steps[0].Params["url"])
	}
	if steps[0].Params["referer"] != "https://example.com/home" {
		t.Error("其余参数未保留")
	}
	// 原计划不被修改
	if plan.Steps[0].Params["url"] != "https://example.com" {
		t.Errorf("原计划被修改: %v", plan.Steps[0].Params["url"])
	}
}

func TestRetargetStepsPrependsNavigate(t *testing.T) {
	plan, err := models.NewPlan("https://example.com", "目标", []models.PlanStep{
		{Action: "wait", Params: map[string]any{"condition_type": "load_state"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	steps := retargetSteps(plan, "https://example.com/page")

	if len(steps) != 2 {
		t.Fatalf("步骤数 = %d, want 2", len(steps))
	}
	if steps[0].Action != "navigate" || steps[0].Params["url"] != "https://example.com/page" {
		t.Errorf("前插步骤 = %+v", steps[0])
	}
	if len(plan.Steps) != 1 {
		t.Error("原计划被修改")
	}
}

func TestResolvePlanExplicit(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)
	plan := navPlan(t, "https://example.com")

	resolved, err := tk.ResolvePlan(context.Background(), "https://example.com", plan, "")
	if err != nil {
		t.Fatalf("ResolvePlan() error = %v", err)
	}
	if resolved != plan {
		t.Error("显式计划应原样返回")
	}
}

func TestResolvePlanCacheHit(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)
	plan := navPlan(t, "https://example.com/docs")
	if err := tk.SavePlan(plan, false); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	resolved, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "")
	if err != nil {
		t.Fatalf("ResolvePlan() error = %v", err)
	}
	if resolved.Source != models.PlanSourceCached {
		t.Errorf("Source = %s, want cached", resolved.Source)
	}
	if resolved.Fingerprint != plan.Fingerprint {
		t.Errorf("Fingerprint = %s", resolved.Fingerprint)
	}

	// 命中计数被更新
	entry, ok := tk.registry.Get(plan.Fingerprint)
	if !ok || entry.UseCount != 1 {
		t.Errorf("UseCount = %d, want 1", entry.UseCount)
	}
}

func TestResolvePlanGeneratesAndCachesBack(t *testing.T) {
	completer := &stubCompleter{response: generatedPlanJSON}
	tk := stubToolkit(t, newStubDriver(nil), func(o *Options) {
		o.Completer = completer
	})

	resolved, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "抓取文档标题")
	if err != nil {
		t.Fatalf("ResolvePlan() error = %v", err)
	}
	if resolved.Source != models.PlanSourceGenerated {
		t.Errorf("Source = %s, want generated", resolved.Source)
	}

	// 第二次解析命中缓存,不再调用协作方
	again, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "抓取文档标题")
	if err != nil {
		t.Fatalf("第二次ResolvePlan() error = %v", err)
	}
	if again.Source != models.PlanSourceCached {
		t.Errorf("第二次Source = %s, want cached", again.Source)
	}
	if completer.calls != 1 {
		t.Errorf("协作方调用次数 = %d, want 1", completer.calls)
	}
}

func TestResolvePlanCacheDisabled(t *testing.T) {
	completer := &stubCompleter{response: generatedPlanJSON}
	tk := stubToolkit(t, newStubDriver(nil), func(o *Options) {
		o.Completer = completer
		o.DisableGeneratedCache = true
	})

	for i := 0; i < 2; i++ {
		resolved, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "抓取文档标题")
		if err != nil {
			t.Fatalf("第%d次ResolvePlan() error = %v", i+1, err)
		}
		if resolved.Source != models.PlanSourceGenerated {
			t.Errorf("第%d次Source = %s, want generated", i+1, resolved.Source)
		}
	}

	// 关闭写回后每次都重新生成,索引保持为空
	if completer.calls != 2 {
		t.Errorf("协作方调用次数 = %d, want 2", completer.calls)
	}
	if len(tk.ListPlans()) != 0 {
		t.Errorf("索引应为空, got %d", len(tk.ListPlans()))
	}
}

func TestResolvePlanCorruptCacheRegenerated(t *testing.T) {
	completer := &stubCompleter{response: generatedPlanJSON}
	tk := stubToolkit(t, newStubDriver(nil), func(o *Options) {
		o.Completer = completer
	})

	plan := navPlan(t, "https://example.com/docs")
	if err := tk.SavePlan(plan, false); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	// 破坏磁盘上的计划文件,索引仍指向它
	planFile := filepath.Join(tk.opts.PlansDir, plan.RelativePath())
	if err := os.WriteFile(planFile, []byte("{损坏"), 0644); err != nil {
		t.Fatal(err)
	}

	resolved, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "抓取文档标题")
	if err != nil {
		t.Fatalf("ResolvePlan() error = %v", err)
	}
	if resolved.Source != models.PlanSourceGenerated {
		t.Errorf("损坏缓存后应重新生成, Source = %s", resolved.Source)
	}
	if completer.calls != 1 {
		t.Errorf("协作方调用次数 = %d", completer.calls)
	}

	// 重新生成的计划覆盖了损坏文件,下次解析恢复命中
	again, err := tk.ResolvePlan(context.Background(), "https://example.com/docs", nil, "")
	if err != nil {
		t.Fatalf("恢复后ResolvePlan() error = %v", err)
	}
	if again.Source != models.PlanSourceCached {
		t.Errorf("恢复后Source = %s, want cached", again.Source)
	}
}

func TestResolvePlanUnavailable(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)

	_, err := tk.ResolvePlan(context.Background(), "https://example.com", nil, "")
	if !errors.Is(err, models.ErrNoPlanAvailable) {
		t.Errorf("error = %v, want ErrNoPlanAvailable", err)
	}

	// 有目标描述但没有协作方,同样无法生成
	_, err = tk.ResolvePlan(context.Background(), "https://example.com", nil, "抓取标题")
	if !errors.Is(err, models.ErrNoPlanAvailable) {
		t.Errorf("error = %v, want ErrNoPlanAvailable", err)
	}
}

func TestScrapeRetargetsToRequestedURL(t *testing.T) {
	stub := newStubDriver(map[string]string{
		"https://example.com/other": `<html><head><title>另一页</title></head><body></body></html>`,
	})
	tk := stubToolkit(t, stub, nil)
	plan := navPlan(t, "https://example.com")

	result, err := tk.Scrape(context.Background(), "https://example.com/other", ScrapeOptions{Plan: plan})
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if len(stub.navigated) != 1 || stub.navigated[0] != "https://example.com/other" {
		t.Errorf("navigated = %v", stub.navigated)
	}
	if !result.Success || result.ExtractedData["title"] != "另一页" {
		t.Errorf("success=%v title=%v", result.Success, result.ExtractedData["title"])
	}
	// fresh模式调用结束后驱动退出
	if stub.quits != 1 {
		t.Errorf("quits = %d, want 1", stub.quits)
	}
}

func TestScrapeUnsupportedCapability(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)
	plan := navPlan(t, "https://example.com")

	_, err := tk.Scrape(context.Background(), "https://example.com", ScrapeOptions{
		Plan:    plan,
		PDFPath: "out.pdf",
	})
	if !errors.Is(err, models.ErrUnsupportedCapability) {
		t.Errorf("error = %v, want ErrUnsupportedCapability", err)
	}
}

func TestScrapeExtrasCollected(t *testing.T) {
	ext := &extendedStubDriver{stubDriver: stubDriver{
		pages: map[string]string{
			"https://example.com": `<html><head><title>首页</title></head><body></body></html>`,
		},
		failNav: make(map[string]error),
	}}
	tk := stubToolkit(t, ext, nil)
	plan := navPlan(t, "https://example.com")

	result, err := tk.Scrape(context.Background(), "https://example.com", ScrapeOptions{
		Plan:           plan,
		PDFPath:        "page.pdf",
		HARPath:        "session.har",
		TracePath:      "trace.zip",
		BlockResources: []string{"image", "media"},
		MockRoutes: map[string]driver.MockResponse{
			"**/api/*": {Status: 200, ContentType: "application/json", Body: []byte(`{}`)},
		},
	})
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if result.Metadata.Extra["pdf_path"] != "page.pdf" {
		t.Errorf("pdf_path = %v", result.Metadata.Extra["pdf_path"])
	}
	if result.Metadata.Extra["har_path"] != "session.har" {
		t.Errorf("har_path = %v", result.Metadata.Extra["har_path"])
	}
	if result.Metadata.Extra["trace_path"] != "trace.zip" {
		t.Errorf("trace_path = %v", result.Metadata.Extra["trace_path"])
	}

	if len(ext.harPaths) != 1 || ext.harPaths[0] != "session.har" {
		t.Errorf("HAR录制 = %v", ext.harPaths)
	}
	if len(ext.traced) != 1 || len(ext.pdfPaths) != 1 {
		t.Errorf("traced=%v pdfPaths=%v", ext.traced, ext.pdfPaths)
	}
	if _, ok := ext.mocks["**/api/*"]; !ok {
		t.Error("路由模拟未注册")
	}

	// 拦截回调: 屏蔽列表中的资源被中止,其余放行
	if ext.handler == nil {
		t.Fatal("请求拦截未配置")
	}
	if ext.handler("https://example.com/bg.png", "image") {
		t.Error("image资源未被拦截")
	}
	if !ext.handler("https://example.com/", "document") {
		t.Error("document资源被误拦截")
	}
}

func TestScrapePDFFailureAnnotates(t *testing.T) {
	ext := &extendedStubDriver{
		stubDriver: stubDriver{
			pages:   map[string]string{"https://example.com": "<html><body>内容</body></html>"},
			failNav: make(map[string]error),
		},
		pdfErr: errors.New("渲染进程崩溃"),
	}
	tk := stubToolkit(t, ext, nil)
	plan := navPlan(t, "https://example.com")

	result, err := tk.Scrape(context.Background(), "https://example.com", ScrapeOptions{
		Plan:    plan,
		PDFPath: "page.pdf",
	})
	if err != nil {
		t.Fatalf("执行后的产物失败不应使抓取报错: %v", err)
	}

	if !result.Success {
		t.Error("抓取本身应当成功")
	}
	if result.Metadata.Extra["pdf_error"] == nil {
		t.Error("pdf_error未记录")
	}
	if _, ok := result.Metadata.Extra["pdf_path"]; ok {
		t.Error("失败时不应记录pdf_path")
	}
}

func TestSessionDriverReuse(t *testing.T) {
	stub := newStubDriver(map[string]string{
		"https://example.com": "<html><head><title>首页</title></head><body></body></html>",
	})
	created := 0

	registry := driver.NewRegistry()
	registry.Register(models.DriverTypeRod, func(config models.DriverConfig) (driver.Driver, error) {
		created++
		return stub, nil
	})

	config := models.DefaultDriverConfig()
	config.ActionDelay = 0
	tk, err := New(Options{
		DriverConfig: config,
		PlansDir:     t.TempDir(),
		Session:      true,
		Drivers:      registry,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plan := navPlan(t, "https://example.com")
	for i := 0; i < 3; i++ {
		if _, err := tk.Scrape(context.Background(), "https://example.com", ScrapeOptions{Plan: plan}); err != nil {
			t.Fatalf("第%d次Scrape error = %v", i+1, err)
		}
	}

	if created != 1 {
		t.Errorf("会话模式创建了%d个驱动, want 1", created)
	}
	if stub.quits != 0 {
		t.Errorf("Close之前驱动被退出: quits=%d", stub.quits)
	}

	if err := tk.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if stub.quits != 1 {
		t.Errorf("quits = %d, want 1", stub.quits)
	}

	// 重复Close为空操作
	if err := tk.Close(context.Background()); err != nil {
		t.Errorf("重复Close error = %v", err)
	}
}

func TestSessionConcurrentAcquire(t *testing.T) {
	stub := newStubDriver(nil)
	tk := stubToolkit(t, stub, func(o *Options) {
		o.Session = true
	})

	first, release, err := tk.acquireDriver(context.Background(), tk.opts.DriverConfig)
	if err != nil {
		t.Fatalf("acquireDriver() error = %v", err)
	}

	// 占用期间的并发获取是调用方错误
	if _, _, err := tk.acquireDriver(context.Background(), tk.opts.DriverConfig); !errors.Is(err, models.ErrSessionConcurrency) {
		t.Errorf("并发获取 error = %v, want ErrSessionConcurrency", err)
	}

	release()

	second, release2, err := tk.acquireDriver(context.Background(), tk.opts.DriverConfig)
	if err != nil {
		t.Fatalf("释放后再获取 error = %v", err)
	}
	if second != first {
		t.Error("会话驱动未复用")
	}
	release2()
}

func TestCrawlSessionConcurrencyRejected(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), func(o *Options) {
		o.Session = true
	})

	_, err := tk.Crawl(context.Background(), "https://example.com", CrawlOptions{Concurrency: 2})
	if !errors.Is(err, models.ErrSessionConcurrency) {
		t.Errorf("error = %v, want ErrSessionConcurrency", err)
	}
}

func TestCrawlThroughToolkit(t *testing.T) {
	stub := newStubDriver(map[string]string{
		"https://example.com":   `<html><body><a href="/a">A</a><a href="/b">B</a></body></html>`,
		"https://example.com/a": `<html><body>页面A</body></html>`,
		"https://example.com/b": `<html><body>页面B</body></html>`,
	})
	tk := stubToolkit(t, stub, nil)
	plan := navPlan(t, "https://example.com")

	result, err := tk.Crawl(context.Background(), "https://example.com", CrawlOptions{
		Plan:  plan,
		Depth: 1,
	})
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if result.TotalPages != 3 || len(result.FailedURLs) != 0 {
		t.Errorf("total=%d failed=%d", result.TotalPages, len(result.FailedURLs))
	}
	// 每个节点的navigate都指向自己的URL
	if len(stub.navigated) != 3 || stub.navigated[0] != "https://example.com" {
		t.Errorf("navigated = %v", stub.navigated)
	}
	if result.PlanFingerprint != plan.Fingerprint {
		t.Errorf("PlanFingerprint = %s", result.PlanFingerprint)
	}
}

func TestCrawlAbortedPageIsFailure(t *testing.T) {
	stub := newStubDriver(map[string]string{
		"https://example.com":   `<html><body><a href="/a">A</a><a href="/b">B</a></body></html>`,
		"https://example.com/b": `<html><body>页面B</body></html>`,
	})
	stub.failNav["https://example.com/a"] = errors.New("连接超时")

	tk := stubToolkit(t, stub, nil)
	plan := navPlan(t, "https://example.com")

	result, err := tk.Crawl(context.Background(), "https://example.com", CrawlOptions{
		Plan:  plan,
		Depth: 1,
	})
	if err != nil {
		t.Fatalf("单页失败不应中断爬取: %v", err)
	}

	if len(result.FailedURLs) != 1 || result.FailedURLs[0] != "https://example.com/a" {
		t.Errorf("FailedURLs = %v", result.FailedURLs)
	}
	if result.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", result.TotalPages)
	}
}

func TestPlanLifecycle(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)
	plan := navPlan(t, "https://example.com/docs")

	if err := tk.SavePlan(nil, false); err == nil {
		t.Error("nil计划应当返回错误")
	}
	if err := tk.SavePlan(plan, false); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	entries := tk.ListPlans()
	if len(entries) != 1 || entries[0].Fingerprint != plan.Fingerprint {
		t.Fatalf("ListPlans() = %+v", entries)
	}

	loaded, err := tk.GetPlan(plan.Fingerprint)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if loaded.URL != plan.URL || len(loaded.Steps) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}

	if _, err := tk.GetPlan("ffff000000000000"); err == nil {
		t.Error("未知指纹GetPlan应当返回错误")
	}

	if err := tk.RemovePlan(plan.Name); err != nil {
		t.Fatalf("RemovePlan() error = %v", err)
	}
	if len(tk.ListPlans()) != 0 {
		t.Error("删除后索引仍有条目")
	}
	if _, err := os.Stat(filepath.Join(tk.opts.PlansDir, plan.RelativePath())); !os.IsNotExist(err) {
		t.Error("删除后计划文件仍存在")
	}
}

func TestGeneratePlanRequiresCompleter(t *testing.T) {
	tk := stubToolkit(t, newStubDriver(nil), nil)

	if _, err := tk.GeneratePlan(context.Background(), "https://example.com", "目标"); err == nil {
		t.Error("未配置协作方应当返回错误")
	}
}
