package crawl

import (
	"fmt"
	"sync"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// CrawlGraph 爬取图,职责:
// 1. 维护所有已发现节点(按规范化URL索引)
// 2. 维护待处理队列(frontier),支持两端弹出以实现BFS/DFS
// 3. 维护visited集合保证同一URL只入队一次
// 所有方法并发安全,visited集合只增不减
type CrawlGraph struct {
	mu       sync.Mutex
	nodes    map[string]*models.CrawlNode // 规范化URL → 节点
	frontier []*models.CrawlNode          // 待处理队列
	visited  map[string]bool              // 已入队的规范化URL
}

// NewCrawlGraph 创建空爬取图
func NewCrawlGraph() *CrawlGraph {
	return &CrawlGraph{
		nodes:   make(map[string]*models.CrawlNode),
		visited: make(map[string]bool),
	}
}

// AddRoot 添加深度为0的根节点
// 重复添加同一URL时返回已存在的节点
func (g *CrawlGraph) AddRoot(rawURL string) (*models.CrawlNode, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("根节点URL不能为空")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	node := models.NewCrawlNode(rawURL, 0, "")
	if existing, ok := g.nodes[node.NormalizedURL]; ok {
		return existing, nil
	}

	g.nodes[node.NormalizedURL] = node
	g.visited[node.NormalizedURL] = true
	g.frontier = append(g.frontier, node)
	return node, nil
}

// Enqueue 将节点加入待处理队列
// 该URL已入队过时返回false,节点被丢弃
func (g *CrawlGraph) Enqueue(node *models.CrawlNode) bool {
	if node == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.visited[node.NormalizedURL] {
		return false
	}

	g.visited[node.NormalizedURL] = true
	g.nodes[node.NormalizedURL] = node
	g.frontier = append(g.frontier, node)
	return true
}

// PopFront 从队列头部取出节点(先进先出)
func (g *CrawlGraph) PopFront() (*models.CrawlNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.frontier) == 0 {
		return nil, false
	}
	node := g.frontier[0]
	g.frontier = g.frontier[1:]
	return node, true
}

// PopBack 从队列尾部取出节点(后进先出)
func (g *CrawlGraph) PopBack() (*models.CrawlNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.frontier) == 0 {
		return nil, false
	}
	last := len(g.frontier) - 1
	node := g.frontier[last]
	g.frontier = g.frontier[:last]
	return node, true
}

// FrontierLen 当前待处理队列长度
func (g *CrawlGraph) FrontierLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.frontier)
}

// Node 按URL查找节点(接受原始或规范化URL)
func (g *CrawlGraph) Node(rawURL string) (*models.CrawlNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[models.NormalizeURL(rawURL)]
	return node, ok
}

// Visited 该URL是否已入队过
func (g *CrawlGraph) Visited(rawURL string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visited[models.NormalizeURL(rawURL)]
}

// VisitedCount 已入队的URL总数
func (g *CrawlGraph) VisitedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visited)
}
