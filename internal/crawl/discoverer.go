package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// 未指定链接选择器时的默认值
const defaultLinkSelector = "a[href]"

// DiscovererOptions 链接发现配置
type DiscovererOptions struct {
	LinkSelector  string // 提取链接的CSS选择器,默认a[href]
	AllowPattern  string // 链接白名单正则,空则不过滤
	AllowExternal bool   // 是否允许跨域链接
	MaxDepth      int    // 最大爬取深度,达到后不再发现新链接
}

// LinkDiscoverer 从页面HTML中发现后续爬取链接,职责:
// 1. 按选择器提取href并解析为绝对URL
// 2. 过滤锚点、非HTTP协议、跨域链接(除非放开)
// 3. 按白名单正则过滤,按规范化URL去重
type LinkDiscoverer struct {
	baseDomain    string
	linkSelector  string
	allowPattern  *regexp.Regexp
	allowExternal bool
	maxDepth      int
}

// NewLinkDiscoverer 创建链接发现器,baseDomain取自起始URL
func NewLinkDiscoverer(startURL string, opts DiscovererOptions) (*LinkDiscoverer, error) {
	domain := models.DomainOf(startURL)
	if domain == "" {
		return nil, fmt.Errorf("无法从起始URL解析域名: %s", startURL)
	}

	selector := opts.LinkSelector
	if selector == "" {
		selector = defaultLinkSelector
	}

	var pattern *regexp.Regexp
	if opts.AllowPattern != "" {
		compiled, err := regexp.Compile(opts.AllowPattern)
		if err != nil {
			return nil, fmt.Errorf("链接过滤正则无效 [%s]: %w", opts.AllowPattern, err)
		}
		pattern = compiled
	}

	return &LinkDiscoverer{
		baseDomain:    domain,
		linkSelector:  selector,
		allowPattern:  pattern,
		allowExternal: opts.AllowExternal,
		maxDepth:      opts.MaxDepth,
	}, nil
}

// Discover 从页面HTML中提取符合条件的绝对URL
// currentDepth已达最大深度时直接返回nil,不做解析
func (d *LinkDiscoverer) Discover(pageHTML, baseURL string, currentDepth int) []string {
	if currentDepth >= d.maxDepth {
		return nil
	}
	if pageHTML == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		utils.Warnf("解析页面HTML失败 [%s]: %v", baseURL, err)
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		utils.Warnf("解析基准URL失败 [%s]: %v", baseURL, err)
		return nil
	}

	selection, err := utils.SafeSelect(doc, d.linkSelector)
	if err != nil {
		utils.Warnf("链接选择器执行失败: %v", err)
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	selection.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		absolute := resolved.String()
		if !d.allowExternal && models.DomainOf(absolute) != d.baseDomain {
			return
		}
		if d.allowPattern != nil && !d.allowPattern.MatchString(absolute) {
			return
		}

		key := models.NormalizeURL(absolute)
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, absolute)
	})

	return links
}
