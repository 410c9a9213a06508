package crawl

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// GovernorConfig 资源调速器配置
type GovernorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	SafetyThreshold     int64 // 可用内存低于该值时暂停派发(字节)
	WorkerMemoryUsage   int64 // 单个工作协程平均内存消耗(字节)
	CPULoadThreshold    int   // CPU负载阈值(%),≥200视为禁用检查
	MaxWorkersLimit     int   // 绝对最大并发数
}

// ResourceGovernor 资源调速器
// 职责: 监控内存和CPU,动态计算并发上限,爬取引擎每轮派发前据此收缩批次
type ResourceGovernor struct {
	config GovernorConfig

	// 系统总内存(字节)
	totalMemory uint64

	// 缓存的内存统计数据
	lastMemStats runtime.MemStats
	mu           sync.RWMutex

	// CPU使用率缓存
	lastCPUUsage float64
	cpuMu        sync.RWMutex

	// MaxWorkers计算结果缓存(每秒更新一次)
	cachedMaxWorkers int
	lastCacheTime    time.Time
	cacheMu          sync.RWMutex

	// 监控控制
	cancelFunc context.CancelFunc
	isRunning  bool
}

// MemorySnapshot 当前内存状态
type MemorySnapshot struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AllocatedMemory uint64 // 当前程序已分配内存(字节)
	AvailableMemory int64  // 可用内存(字节)
	Pressure        string // 内存压力等级: normal/warning/critical/emergency
}

// NewResourceGovernor 创建资源调速器
func NewResourceGovernor(config GovernorConfig) *ResourceGovernor {
	if config.SafetyReserveMemory == 0 {
		config.SafetyReserveMemory = 500 * 1024 * 1024 // 500MB
	}
	if config.SafetyThreshold == 0 {
		config.SafetyThreshold = 300 * 1024 * 1024 // 300MB
	}
	if config.WorkerMemoryUsage == 0 {
		config.WorkerMemoryUsage = 150 * 1024 * 1024 // 150MB,含浏览器页面开销
	}
	if config.CPULoadThreshold == 0 {
		config.CPULoadThreshold = 85
	}
	if config.MaxWorkersLimit == 0 {
		config.MaxWorkersLimit = 16
	}

	// 获取系统总内存(使用gopsutil获取真实系统内存)
	var totalMem uint64
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		utils.Warnf("获取系统内存失败,使用默认值4GB: %v", err)
		totalMem = 4 * 1024 * 1024 * 1024
	} else {
		totalMem = vmStat.Total
		utils.Debugf("系统总内存: %.2f GB", float64(totalMem)/(1024*1024*1024))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &ResourceGovernor{
		config:       config,
		totalMemory:  totalMem,
		lastMemStats: memStats,
	}
}

// StartMonitoring 启动后台采样,幂等
func (g *ResourceGovernor) StartMonitoring(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancelFunc = cancel
	g.isRunning = true

	go g.monitoringLoop(ctx, interval)
}

// monitoringLoop 周期性采样内存和CPU
func (g *ResourceGovernor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)

			g.mu.Lock()
			g.lastMemStats = memStats
			g.mu.Unlock()

			usage := g.sampleCPUUsage()
			g.cpuMu.Lock()
			g.lastCPUUsage = usage
			g.cpuMu.Unlock()
		}
	}
}

// sampleCPUUsage 采样系统CPU使用率(百分比)
// 100毫秒采样间隔,perCPU=false返回所有核心的平均值
func (g *ResourceGovernor) sampleCPUUsage() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		utils.Warnf("获取CPU使用率失败: %v", err)
		return 0.0
	}
	if len(percentages) == 0 {
		return 0.0
	}
	return percentages[0]
}

// StopMonitoring 停止后台采样
func (g *ResourceGovernor) StopMonitoring() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isRunning && g.cancelFunc != nil {
		g.cancelFunc()
		g.isRunning = false
		g.cancelFunc = nil
	}
}

// MaxWorkers 动态计算当前允许的最大并发数
// 结果缓存1秒,避免每轮派发都重新计算
func (g *ResourceGovernor) MaxWorkers() int {
	g.cacheMu.RLock()
	if time.Since(g.lastCacheTime) < time.Second && g.cachedMaxWorkers > 0 {
		cached := g.cachedMaxWorkers
		g.cacheMu.RUnlock()
		return cached
	}
	g.cacheMu.RUnlock()

	available := g.availableMemory()

	// 基于可用内存计算上限
	byMemory := 1
	if available > g.config.SafetyThreshold {
		surplus := available - g.config.SafetyThreshold
		byMemory = int(surplus / g.config.WorkerMemoryUsage)
		if byMemory < 1 {
			byMemory = 1
		}
	}

	// 基于CPU核心数计算上限
	byCPU := runtime.NumCPU()

	result := byMemory
	if byCPU < result {
		result = byCPU
	}
	if g.config.MaxWorkersLimit < result {
		result = g.config.MaxWorkersLimit
	}
	if result < 1 {
		result = 1
	}

	g.cacheMu.Lock()
	g.cachedMaxWorkers = result
	g.lastCacheTime = time.Now()
	g.cacheMu.Unlock()

	return result
}

// CheckAvailability 检查当前资源是否允许派发新任务
// 返回canDispatch和不允许时的原因
func (g *ResourceGovernor) CheckAvailability() (canDispatch bool, reason string) {
	available := g.availableMemory()
	if available < g.config.SafetyThreshold {
		availableMB := available / (1024 * 1024)
		utils.Warnf("可用内存不足(当前%dMB),任务派发受限", availableMB)
		return false, fmt.Sprintf("内存不足(当前%dMB)", availableMB)
	}

	if g.config.CPULoadThreshold < 200 {
		g.cpuMu.RLock()
		usage := g.lastCPUUsage
		g.cpuMu.RUnlock()

		if usage > float64(g.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", usage)
		}
	}

	return true, ""
}

// ClampConcurrency 将请求的并发数收缩到资源允许的范围,至少为1
func (g *ResourceGovernor) ClampConcurrency(requested int) int {
	if requested < 1 {
		requested = 1
	}
	limit := g.MaxWorkers()
	if requested > limit {
		utils.Debugf("并发数受限: 请求%d,资源允许%d", requested, limit)
		return limit
	}
	return requested
}

// Snapshot 获取当前内存状态
func (g *ResourceGovernor) Snapshot() MemorySnapshot {
	g.mu.RLock()
	memStats := g.lastMemStats
	g.mu.RUnlock()

	available := int64(g.totalMemory) - int64(memStats.Alloc) - g.config.SafetyReserveMemory
	availableMB := available / (1024 * 1024)

	var pressure string
	switch {
	case availableMB < 200:
		pressure = "emergency"
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	return MemorySnapshot{
		TotalMemory:     g.totalMemory,
		AllocatedMemory: memStats.Alloc,
		AvailableMemory: available,
		Pressure:        pressure,
	}
}

// availableMemory 计算扣除安全保留后的可用内存
func (g *ResourceGovernor) availableMemory() int64 {
	g.mu.RLock()
	memStats := g.lastMemStats
	g.mu.RUnlock()
	return int64(g.totalMemory) - int64(memStats.Alloc) - g.config.SafetyReserveMemory
}
