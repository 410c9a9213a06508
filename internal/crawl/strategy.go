package crawl

import (
	"fmt"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// 支持的遍历策略名
const (
	StrategyBFS = "bfs" // 广度优先,逐层推进
	StrategyDFS = "dfs" // 深度优先,沿链路下探
)

// CrawlStrategy 遍历策略,决定节点的出队顺序
type CrawlStrategy interface {
	// Name 策略名
	Name() string
	// Next 按策略顺序取出下一个待处理节点
	Next(graph *CrawlGraph) (*models.CrawlNode, bool)
	// Enqueue 批量入队新发现的节点,返回实际入队数(去重后)
	Enqueue(graph *CrawlGraph, nodes []*models.CrawlNode) int
}

// NewStrategy 按名称创建策略
func NewStrategy(name string) (CrawlStrategy, error) {
	switch name {
	case StrategyBFS, "":
		return &BFSStrategy{}, nil
	case StrategyDFS:
		return &DFSStrategy{}, nil
	default:
		return nil, fmt.Errorf("未知的遍历策略: %s (支持: %s, %s)", name, StrategyBFS, StrategyDFS)
	}
}

// BFSStrategy 广度优先策略,队列头部出队
type BFSStrategy struct{}

// Name 策略名
func (s *BFSStrategy) Name() string { return StrategyBFS }

// Next 取队列头部节点
func (s *BFSStrategy) Next(graph *CrawlGraph) (*models.CrawlNode, bool) {
	return graph.PopFront()
}

// Enqueue 按发现顺序追加到队列尾部
func (s *BFSStrategy) Enqueue(graph *CrawlGraph, nodes []*models.CrawlNode) int {
	added := 0
	for _, node := range nodes {
		if graph.Enqueue(node) {
			added++
		}
	}
	return added
}

// DFSStrategy 深度优先策略,队列尾部出队
type DFSStrategy struct{}

// Name 策略名
func (s *DFSStrategy) Name() string { return StrategyDFS }

// Next 取队列尾部节点
func (s *DFSStrategy) Next(graph *CrawlGraph) (*models.CrawlNode, bool) {
	return graph.PopBack()
}

// Enqueue 按发现顺序追加到队列尾部
// 尾部出队时后追加的先被处理,形成深度优先
func (s *DFSStrategy) Enqueue(graph *CrawlGraph, nodes []*models.CrawlNode) int {
	added := 0
	for _, node := range nodes {
		if graph.Enqueue(node) {
			added++
		}
	}
	return added
}
