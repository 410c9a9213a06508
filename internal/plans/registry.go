package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// 索引文件名
const registryFileName = "registry.json"

// PlanRegistryEntry 索引条目,计划的投影
// register时创建,touch更新使用统计,remove删除
type PlanRegistryEntry struct {
	Name         string    `json:"name"`                   // 计划名称
	Version      int       `json:"version"`                // 计划版本
	URL          string    `json:"url"`                    // 原始URL
	Domain       string    `json:"domain"`                 // 规范化域名
	Fingerprint  string    `json:"fingerprint"`            // 计划指纹
	RelativePath string    `json:"relative_path"`          // 计划文件相对路径
	CreatedAt    time.Time `json:"created_at"`             // 注册时间
	LastUsedAt   time.Time `json:"last_used_at,omitempty"` // 最近使用时间
	UseCount     int       `json:"use_count"`              // 使用次数
	Tags         []string  `json:"tags,omitempty"`         // 标签
}

// PlanRegistry 磁盘索引
// 变更在单个互斥锁下串行化并整体重写索引文件;
// 查询走无锁的内存快照,写入者的磁盘IO不阻塞读取
type PlanRegistry struct {
	dir       string
	indexPath string

	mu       sync.Mutex
	loadOnce sync.Once
	snapshot atomic.Pointer[map[string]PlanRegistryEntry]
}

// NewPlanRegistry 创建计划索引,首次使用时加载索引文件
func NewPlanRegistry(dir string) *PlanRegistry {
	return &PlanRegistry{
		dir:       dir,
		indexPath: filepath.Join(dir, registryFileName),
	}
}

// ensureLoaded 首次使用时加载索引
// 文件缺失或损坏都按空索引处理,记录日志但不报错
func (r *PlanRegistry) ensureLoaded() {
	r.loadOnce.Do(func() {
		index := make(map[string]PlanRegistryEntry)

		data, err := os.ReadFile(r.indexPath)
		if err != nil {
			if !os.IsNotExist(err) {
				utils.Warnf("读取索引文件失败 [%s]: %v (按空索引处理)", r.indexPath, err)
			}
			r.snapshot.Store(&index)
			return
		}

		if err := json.Unmarshal(data, &index); err != nil {
			utils.Warnf("索引文件损坏 [%s]: %v (按空索引处理)", r.indexPath, err)
			index = make(map[string]PlanRegistryEntry)
		}
		r.snapshot.Store(&index)
		utils.Debugf("索引已加载: %d个计划", len(index))
	})
}

// current 当前内存快照
func (r *PlanRegistry) current() map[string]PlanRegistryEntry {
	r.ensureLoaded()
	return *r.snapshot.Load()
}

// persistLocked 替换快照并整体重写索引文件,调用方必须持有mu
func (r *PlanRegistry) persistLocked(next map[string]PlanRegistryEntry) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化索引失败: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("创建计划目录失败: %w", err)
	}
	if err := os.WriteFile(r.indexPath, data, 0644); err != nil {
		return fmt.Errorf("写入索引文件失败 [%s]: %w", r.indexPath, err)
	}
	r.snapshot.Store(&next)
	return nil
}

// clone 复制快照供变更使用
func clone(index map[string]PlanRegistryEntry) map[string]PlanRegistryEntry {
	next := make(map[string]PlanRegistryEntry, len(index)+1)
	for k, v := range index {
		next[k] = v
	}
	return next
}

// Register 注册计划
// 同指纹的计划已存在且未指定覆盖时报错
func (r *PlanRegistry) Register(plan *models.Plan, relativePath string, overwrite bool) error {
	r.ensureLoaded()
	r.mu.Lock()
	defer r.mu.Unlock()

	index := *r.snapshot.Load()
	if existing, ok := index[plan.Fingerprint]; ok && !overwrite {
		return fmt.Errorf("计划已存在 already exists [%s v%d, 指纹%s],如需覆盖请显式指定",
			existing.Name, existing.Version, existing.Fingerprint)
	}

	next := clone(index)
	next[plan.Fingerprint] = PlanRegistryEntry{
		Name:         plan.Name,
		Version:      plan.Version,
		URL:          plan.URL,
		Domain:       plan.Domain,
		Fingerprint:  plan.Fingerprint,
		RelativePath: relativePath,
		CreatedAt:    time.Now(),
		Tags:         plan.Tags,
	}
	if err := r.persistLocked(next); err != nil {
		return err
	}

	utils.Infof("📦 计划已注册 [%s v%d]: %s", plan.Name, plan.Version, plan.Fingerprint)
	return nil
}

// Touch 记录一次计划使用: use_count加一,更新last_used_at
func (r *PlanRegistry) Touch(fingerprint string) error {
	r.ensureLoaded()
	r.mu.Lock()
	defer r.mu.Unlock()

	index := *r.snapshot.Load()
	entry, ok := index[fingerprint]
	if !ok {
		return fmt.Errorf("索引中不存在指纹: %s", fingerprint)
	}

	entry.UseCount++
	entry.LastUsedAt = time.Now()
	next := clone(index)
	next[fingerprint] = entry
	return r.persistLocked(next)
}

// Remove 按名称删除索引条目,返回被删除的条目供调用方清理计划文件
// 同名的所有版本一并删除
func (r *PlanRegistry) Remove(name string) ([]PlanRegistryEntry, error) {
	r.ensureLoaded()
	r.mu.Lock()
	defer r.mu.Unlock()

	index := *r.snapshot.Load()
	var removed []PlanRegistryEntry
	next := clone(index)
	for fingerprint, entry := range index {
		if entry.Name == name {
			removed = append(removed, entry)
			delete(next, fingerprint)
		}
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("索引中不存在计划: %s", name)
	}

	if err := r.persistLocked(next); err != nil {
		return nil, err
	}
	utils.Infof("🗑️ 已删除计划 [%s]: %d个条目", name, len(removed))
	return removed, nil
}

// Get 按指纹取条目
func (r *PlanRegistry) Get(fingerprint string) (PlanRegistryEntry, bool) {
	entry, ok := r.current()[fingerprint]
	return entry, ok
}

// List 全部条目,按域名、名称、版本排序
func (r *PlanRegistry) List() []PlanRegistryEntry {
	index := r.current()
	entries := make([]PlanRegistryEntry, 0, len(index))
	for _, entry := range index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Version < entries[j].Version
	})
	return entries
}

// Lookup 按URL三级查找适用的计划
// 1. 规范化URL的精确指纹
// 2. 同域名下规范化路径是输入路径最长前缀的条目
// 3. 同域名下的任意条目(使用次数多者优先)
// 查询走内存快照,不加锁
func (r *PlanRegistry) Lookup(rawURL string) (PlanRegistryEntry, bool) {
	index := r.current()
	if len(index) == 0 {
		return PlanRegistryEntry{}, false
	}

	// 第一级: 精确指纹
	fingerprint := models.FingerprintURL(rawURL)
	if entry, ok := index[fingerprint]; ok {
		utils.Debugf("计划查找命中 [精确]: %s → %s", rawURL, entry.Name)
		return entry, true
	}

	domain := models.DomainOf(rawURL)
	if domain == "" {
		return PlanRegistryEntry{}, false
	}
	inputPath := models.NormalizedPathOf(rawURL)

	// 第二级: 最长路径前缀
	var prefixBest PlanRegistryEntry
	prefixLen := -1
	// 第三级: 同域名兜底
	var domainBest PlanRegistryEntry
	domainFound := false

	for _, entry := range index {
		if entry.Domain != domain {
			continue
		}

		entryPath := models.NormalizedPathOf(entry.URL)
		if strings.HasPrefix(inputPath, entryPath) && len(entryPath) > prefixLen {
			prefixBest = entry
			prefixLen = len(entryPath)
		}

		if !domainFound || betterFallback(entry, domainBest) {
			domainBest = entry
			domainFound = true
		}
	}

	if prefixLen >= 0 {
		utils.Debugf("计划查找命中 [路径前缀]: %s → %s", rawURL, prefixBest.Name)
		return prefixBest, true
	}
	if domainFound {
		utils.Debugf("计划查找命中 [域名兜底]: %s → %s", rawURL, domainBest.Name)
		return domainBest, true
	}
	return PlanRegistryEntry{}, false
}

// betterFallback 域名兜底的择优: 使用次数多者优先,再按指纹字典序保证确定性
func betterFallback(a, b PlanRegistryEntry) bool {
	if a.UseCount != b.UseCount {
		return a.UseCount > b.UseCount
	}
	return a.Fingerprint < b.Fingerprint
}
