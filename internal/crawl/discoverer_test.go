package crawl

import (
	"reflect"
	"testing"
)

func TestNewLinkDiscoverer(t *testing.T) {
	if _, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2}); err != nil {
		t.Errorf("NewLinkDiscoverer() error = %v", err)
	}

	if _, err := NewLinkDiscoverer("not a url", DiscovererOptions{}); err == nil {
		t.Error("无法解析域名的URL应当返回错误")
	}

	if _, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{AllowPattern: "[invalid"}); err == nil {
		t.Error("非法正则应当返回错误")
	}
}

func TestDiscoverFilters(t *testing.T) {
	page := `<html><body>
	<a href="/docs/intro">相对链接</a>
	<a href="https://example.com/pricing">绝对同域</a>
	<a href="https://www.example.com/docs/intro?ref=nav">规范化后重复</a>
	<a href="https://other.com/page">跨域</a>
	<a href="mailto:hi@example.com">邮件</a>
	<a href="javascript:void(0)">脚本</a>
	<a href="#section">页内锚点</a>
	<a href="">空链接</a>
	<a href="ftp://example.com/file">FTP</a>
</body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 3})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	links := d.Discover(page, "https://example.com", 0)
	want := []string{
		"https://example.com/docs/intro",
		"https://example.com/pricing",
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("Discover() = %v, want %v", links, want)
	}
}

func TestDiscoverAllowExternal(t *testing.T) {
	page := `<html><body><a href="https://other.com/page">外站</a></body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2, AllowExternal: true})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	links := d.Discover(page, "https://example.com", 0)
	if len(links) != 1 || links[0] != "https://other.com/page" {
		t.Errorf("放开跨域后 Discover() = %v", links)
	}
}

func TestDiscoverAllowPattern(t *testing.T) {
	page := `<html><body>
	<a href="/docs/a">文档</a>
	<a href="/blog/b">博客</a>
	<a href="/docs/c">文档</a>
</body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2, AllowPattern: `/docs/`})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	links := d.Discover(page, "https://example.com", 0)
	want := []string{"https://example.com/docs/a", "https://example.com/docs/c"}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("Discover() = %v, want %v", links, want)
	}
}

func TestDiscoverCustomSelector(t *testing.T) {
	page := `<html><body>
	<nav><a href="/in-nav">导航内</a></nav>
	<footer><a href="/in-footer">导航外</a></footer>
</body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2, LinkSelector: "nav a"})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	links := d.Discover(page, "https://example.com", 0)
	if len(links) != 1 || links[0] != "https://example.com/in-nav" {
		t.Errorf("Discover() = %v", links)
	}
}

func TestDiscoverDepthGuard(t *testing.T) {
	page := `<html><body><a href="/next">下一页</a></body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	if links := d.Discover(page, "https://example.com", 2); links != nil {
		t.Errorf("已达最大深度仍返回链接: %v", links)
	}
	if links := d.Discover(page, "https://example.com", 1); len(links) != 1 {
		t.Errorf("未达最大深度时 Discover() = %v", links)
	}
}

func TestDiscoverEmptyPage(t *testing.T) {
	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	if links := d.Discover("", "https://example.com", 0); links != nil {
		t.Errorf("空页面应返回nil, got %v", links)
	}
}

func TestDiscoverRelativeResolution(t *testing.T) {
	page := `<html><body>
	<a href="chapter2">同级相对路径</a>
	<a href="../index">上级相对路径</a>
</body></html>`

	d, err := NewLinkDiscoverer("https://example.com", DiscovererOptions{MaxDepth: 2})
	if err != nil {
		t.Fatalf("NewLinkDiscoverer() error = %v", err)
	}

	links := d.Discover(page, "https://example.com/docs/chapter1", 0)
	want := []string{
		"https://example.com/docs/chapter2",
		"https://example.com/index",
	}
	if !reflect.DeepEqual(links, want) {
		t.Errorf("Discover() = %v, want %v", links, want)
	}
}
