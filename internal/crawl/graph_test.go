package crawl

import (
	"testing"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

func TestCrawlGraphAddRoot(t *testing.T) {
	graph := NewCrawlGraph()

	root, err := graph.AddRoot("https://example.com")
	if err != nil {
		t.Fatalf("AddRoot() error = %v", err)
	}
	if root.Depth != 0 || root.ParentURL != "" {
		t.Errorf("根节点 depth=%d parent=%q", root.Depth, root.ParentURL)
	}
	if graph.FrontierLen() != 1 || graph.VisitedCount() != 1 {
		t.Errorf("frontier=%d visited=%d", graph.FrontierLen(), graph.VisitedCount())
	}

	// 同一URL的不同写法返回已存在的节点
	again, err := graph.AddRoot("https://www.Example.com/")
	if err != nil {
		t.Fatalf("AddRoot() error = %v", err)
	}
	if again != root {
		t.Error("重复添加根节点未返回已存在的节点")
	}
	if graph.FrontierLen() != 1 {
		t.Errorf("重复添加后frontier = %d", graph.FrontierLen())
	}

	if _, err := graph.AddRoot(""); err == nil {
		t.Error("空URL应当返回错误")
	}
}

func TestCrawlGraphEnqueueDedup(t *testing.T) {
	graph := NewCrawlGraph()

	first := models.NewCrawlNode("https://example.com/page", 1, "https://example.com")
	if !graph.Enqueue(first) {
		t.Fatal("首次入队应当成功")
	}

	// 查询串不同但规范化后相同的URL被拒绝
	dup := models.NewCrawlNode("https://www.example.com/page?utm=x", 1, "https://example.com")
	if graph.Enqueue(dup) {
		t.Error("规范化后重复的URL不应再次入队")
	}

	if graph.Enqueue(nil) {
		t.Error("nil节点不应入队")
	}

	if graph.FrontierLen() != 1 || graph.VisitedCount() != 1 {
		t.Errorf("frontier=%d visited=%d", graph.FrontierLen(), graph.VisitedCount())
	}
	if !graph.Visited("https://example.com/page#section") {
		t.Error("Visited未按规范化URL判断")
	}
}

func TestCrawlGraphPopOrder(t *testing.T) {
	graph := NewCrawlGraph()
	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		graph.Enqueue(models.NewCrawlNode(u, 0, ""))
	}

	// 头部弹出保持先进先出
	front, ok := graph.PopFront()
	if !ok || front.URL != "https://example.com/1" {
		t.Errorf("PopFront() = %v", front)
	}

	// 尾部弹出取最后入队的
	back, ok := graph.PopBack()
	if !ok || back.URL != "https://example.com/3" {
		t.Errorf("PopBack() = %v", back)
	}

	if graph.FrontierLen() != 1 {
		t.Errorf("FrontierLen() = %d, want 1", graph.FrontierLen())
	}

	graph.PopFront()
	if _, ok := graph.PopFront(); ok {
		t.Error("空队列PopFront应返回false")
	}
	if _, ok := graph.PopBack(); ok {
		t.Error("空队列PopBack应返回false")
	}
}

func TestCrawlGraphNodeLookup(t *testing.T) {
	graph := NewCrawlGraph()
	node := models.NewCrawlNode("https://example.com/docs", 1, "https://example.com")
	graph.Enqueue(node)

	// 原始写法与规范化写法都能命中
	for _, q := range []string{"https://example.com/docs", "https://WWW.example.com/docs/", "https://example.com/docs?v=2"} {
		got, ok := graph.Node(q)
		if !ok || got != node {
			t.Errorf("Node(%q)未命中", q)
		}
	}

	if _, ok := graph.Node("https://example.com/other"); ok {
		t.Error("未入队的URL不应命中")
	}
}
