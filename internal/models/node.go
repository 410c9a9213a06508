package models

import "time"

// NodeStatus 爬取节点状态
type NodeStatus string

const (
	NodePending  NodeStatus = "pending"  // 等待处理
	NodeScraping NodeStatus = "scraping" // 抓取中
	NodeDone     NodeStatus = "done"     // 完成(终态)
	NodeFailed   NodeStatus = "failed"   // 失败(终态)
)

// CrawlNode 爬取图中的单个页面节点
// 状态转换: pending → scraping → done|failed
// 终态不可再变更,去重由所属图的visited集合保证
type CrawlNode struct {
	URL             string          `json:"url"`                        // 原始URL
	NormalizedURL   string          `json:"normalized_url"`             // 去重键
	Depth           int             `json:"depth"`                      // 距根节点的深度
	ParentURL       string          `json:"parent_url,omitempty"`       // 发现该节点的父页面
	Status          NodeStatus      `json:"status"`                     // 当前状态
	Result          *ScrapingResult `json:"result,omitempty"`           // 抓取结果
	DiscoveredLinks []string        `json:"discovered_links,omitempty"` // 从该页面发现的链接
	StartedAt       time.Time       `json:"started_at,omitempty"`       // 开始抓取时间
	FinishedAt      time.Time       `json:"finished_at,omitempty"`      // 结束时间
	Error           string          `json:"error,omitempty"`            // 失败原因
}

// NewCrawlNode 创建待处理节点
func NewCrawlNode(rawURL string, depth int, parentURL string) *CrawlNode {
	return &CrawlNode{
		URL:           rawURL,
		NormalizedURL: NormalizeURL(rawURL),
		Depth:         depth,
		ParentURL:     parentURL,
		Status:        NodePending,
	}
}

// MarkScraping 标记节点开始抓取
func (n *CrawlNode) MarkScraping() {
	if n.IsTerminal() {
		return
	}
	n.Status = NodeScraping
	n.StartedAt = time.Now()
}

// MarkDone 标记节点抓取完成
func (n *CrawlNode) MarkDone(result *ScrapingResult) {
	if n.IsTerminal() {
		return
	}
	n.Status = NodeDone
	n.Result = result
	n.FinishedAt = time.Now()
}

// MarkFailed 标记节点抓取失败
func (n *CrawlNode) MarkFailed(err error) {
	if n.IsTerminal() {
		return
	}
	n.Status = NodeFailed
	if err != nil {
		n.Error = err.Error()
	}
	n.FinishedAt = time.Now()
}

// IsTerminal 节点是否已处于终态
func (n *CrawlNode) IsTerminal() bool {
	return n.Status == NodeDone || n.Status == NodeFailed
}
