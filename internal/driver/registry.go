package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// Factory 驱动构造函数
// 收到的配置已补全默认值并通过校验
type Factory func(config models.DriverConfig) (Driver, error)

// Registry 驱动类型到构造函数的映射
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register 注册驱动类型,重复注册时覆盖
func (r *Registry) Register(driverType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driverType] = factory
}

// Types 已注册的驱动类型列表(字典序)
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create 按配置创建驱动
// 空字段先补全默认值,未知类型返回包装了ErrUnknownDriverType的配置错误
func (r *Registry) Create(config models.DriverConfig) (Driver, error) {
	config = withDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	factory, ok := r.factories[config.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &models.ConfigError{
			Field:  "driver.type",
			Value:  config.Type,
			Reason: fmt.Sprintf("未注册的驱动类型 (可用: %v)", r.Types()),
			Err:    models.ErrUnknownDriverType,
		}
	}

	return factory(config)
}

// withDefaults 补全空配置字段
// 只补全类型、浏览器与超时,重试次数和动作延迟的零值是合法取值
func withDefaults(config models.DriverConfig) models.DriverConfig {
	defaults := models.DefaultDriverConfig()
	if config.Type == "" {
		config.Type = defaults.Type
	}
	if config.Browser == "" {
		config.Browser = defaults.Browser
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.PageLoadTimeout <= 0 {
		config.PageLoadTimeout = defaults.PageLoadTimeout
	}
	return config
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default 内置注册表,预注册全部驱动后端
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(models.DriverTypeRod, NewRodDriver)
		defaultRegistry.Register(models.DriverTypePlaywright, NewPlaywrightDriver)
		defaultRegistry.Register(models.DriverTypeStatic, NewStaticDriver)
	})
	return defaultRegistry
}

// New 用内置注册表创建驱动
func New(config models.DriverConfig) (Driver, error) {
	return Default().Create(config)
}
