package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Driver  models.DriverConfig `mapstructure:"driver"`
	Plans   PlansConfig         `mapstructure:"plans"`
	Crawl   CrawlConfig         `mapstructure:"crawl"`
	Logging LoggingConfig       `mapstructure:"logging"`
	Output  OutputConfig        `mapstructure:"output"`
}

// PlansConfig 计划缓存配置
type PlansConfig struct {
	Dir            string `mapstructure:"dir"`             // 计划存储目录
	CacheGenerated bool   `mapstructure:"cache_generated"` // 自动缓存LLM生成的计划
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	Strategy      string `mapstructure:"strategy"`       // 遍历策略: bfs/dfs
	Depth         int    `mapstructure:"depth"`          // 最大爬取深度
	MaxPages      int    `mapstructure:"max_pages"`      // 页面数上限(0表示不限制)
	Concurrency   int    `mapstructure:"concurrency"`    // 并发批次大小
	LinkSelector  string `mapstructure:"link_selector"`  // 链接元素选择器
	AllowExternal bool   `mapstructure:"allow_external"` // 允许跨域链接

	// 资源监控
	SafetyReserveMemory int `mapstructure:"safety_reserve_memory"` // 安全保留内存(MB)
	SafetyThreshold     int `mapstructure:"safety_threshold"`      // 安全阈值(MB)
	CPULoadThreshold    int `mapstructure:"cpu_load_threshold"`    // CPU负载阈值(%)
	MaxWorkersLimit     int `mapstructure:"max_workers_limit"`     // 绝对最大并发数
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir          string `mapstructure:"base_dir"`
	DomainSeparation bool   `mapstructure:"domain_separation"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".plancrawl"))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 环境变量覆盖: PLANCRAWL_DRIVER_TYPE、PLANCRAWL_CRAWL_DEPTH等
	v.SetEnvPrefix("PLANCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在,使用默认值
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 驱动配置默认值
	v.SetDefault("driver.type", models.DriverTypeRod)
	v.SetDefault("driver.browser", models.BrowserChrome)
	v.SetDefault("driver.headless", true)
	v.SetDefault("driver.mobile", false)
	v.SetDefault("driver.timeout", 30)
	v.SetDefault("driver.page_load_timeout", 60)
	v.SetDefault("driver.retry_count", 2)
	v.SetDefault("driver.action_delay", 0.5)
	v.SetDefault("driver.dismiss_overlays", false)

	// 计划缓存默认值
	v.SetDefault("plans.dir", "plans")
	v.SetDefault("plans.cache_generated", true)

	// 爬取配置默认值
	v.SetDefault("crawl.strategy", "bfs")
	v.SetDefault("crawl.depth", 2)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.concurrency", 2)
	v.SetDefault("crawl.link_selector", "a[href]")
	v.SetDefault("crawl.allow_external", false)
	v.SetDefault("crawl.safety_reserve_memory", 512)
	v.SetDefault("crawl.safety_threshold", 300)
	v.SetDefault("crawl.cpu_load_threshold", 90)
	v.SetDefault("crawl.max_workers_limit", 8)

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.domain_separation", true)
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if err := c.Driver.Validate(); err != nil {
		return fmt.Errorf("驱动配置无效: %w", err)
	}

	if c.Crawl.Strategy != "bfs" && c.Crawl.Strategy != "dfs" {
		return fmt.Errorf("无效的遍历策略: %s (有效值: bfs, dfs)", c.Crawl.Strategy)
	}
	if c.Crawl.Depth < 0 || c.Crawl.Depth > 10 {
		return fmt.Errorf("爬取深度必须在0-10之间,当前值: %d", c.Crawl.Depth)
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("页面数上限不能为负数,当前值: %d", c.Crawl.MaxPages)
	}
	if c.Crawl.Concurrency < 1 || c.Crawl.Concurrency > 100 {
		return fmt.Errorf("并发数必须在1-100之间,当前值: %d", c.Crawl.Concurrency)
	}
	if c.Plans.Dir == "" {
		return fmt.Errorf("计划存储目录不能为空")
	}
	return nil
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(
	driverType string,
	browser string,
	headless bool,
	depth int,
	maxPages int,
	concurrency int,
	strategy string,
	plansDir string,
) {
	if driverType != "" {
		c.Driver.Type = driverType
	}
	if browser != "" {
		c.Driver.Browser = browser
	}
	c.Driver.Headless = headless
	if depth > 0 {
		c.Crawl.Depth = depth
	}
	if maxPages > 0 {
		c.Crawl.MaxPages = maxPages
	}
	if concurrency > 0 {
		c.Crawl.Concurrency = concurrency
	}
	if strategy != "" {
		c.Crawl.Strategy = strategy
	}
	if plansDir != "" {
		c.Plans.Dir = plansDir
	}
}
