package executor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// ExtractAll 对页面源码应用全部选择器
// 每个选择器独立执行: 无匹配得到空值,表达式错误记录警告后得到空值,
// 任何情况下都不中断其余选择器
func ExtractAll(pageHTML string, selectors []models.Selector) map[string]any {
	data := make(map[string]any, len(selectors))
	if len(selectors) == 0 || pageHTML == "" {
		for _, sel := range selectors {
			data[sel.Name] = emptyValue(sel)
		}
		return data
	}

	var doc *goquery.Document
	var root *html.Node

	for _, sel := range selectors {
		var value any
		var err error

		switch sel.Kind {
		case models.SelectorKindCSS:
			if doc == nil {
				doc, err = goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
				if err != nil {
					err = fmt.Errorf("解析HTML失败: %w", err)
				}
			}
			if err == nil {
				value, err = extractCSS(doc, sel)
			}

		case models.SelectorKindXPath:
			if root == nil {
				root, err = htmlquery.Parse(strings.NewReader(pageHTML))
				if err != nil {
					err = fmt.Errorf("解析HTML失败: %w", err)
				}
			}
			if err == nil {
				value, err = extractXPath(root, sel)
			}

		case models.SelectorKindTag:
			if root == nil {
				root, err = htmlquery.Parse(strings.NewReader(pageHTML))
				if err != nil {
					err = fmt.Errorf("解析HTML失败: %w", err)
				}
			}
			if err == nil {
				value = extractTag(root, sel)
			}

		default:
			err = fmt.Errorf("未知的选择器类型: %s", sel.Kind)
		}

		if err != nil {
			utils.Warnf("选择器执行失败 [%s]: %v", sel.Name, err)
			data[sel.Name] = emptyValue(sel)
			continue
		}
		data[sel.Name] = value
	}
	return data
}

// emptyValue 选择器的空结果: 列表模式为空列表,单值模式为空串
func emptyValue(sel models.Selector) any {
	if sel.Multiple {
		return []string{}
	}
	return ""
}

// extractCSS CSS选择器提取(goquery)
func extractCSS(doc *goquery.Document, sel models.Selector) (any, error) {
	selection, err := utils.SafeSelect(doc, sel.Query)
	if err != nil {
		return nil, err
	}

	if sel.Multiple {
		values := make([]string, 0, selection.Length())
		selection.Each(func(_ int, s *goquery.Selection) {
			if v, err := selectionValue(s, sel); err == nil {
				values = append(values, v)
			}
		})
		return values, nil
	}

	if selection.Length() == 0 {
		return "", nil
	}
	return selectionValue(selection.First(), sel)
}

// selectionValue 按提取方式取goquery选区的值
func selectionValue(s *goquery.Selection, sel models.Selector) (string, error) {
	switch sel.Extract {
	case models.ExtractHTML:
		return goquery.OuterHtml(s)
	case models.ExtractAttribute:
		value, _ := s.Attr(sel.Attribute)
		return value, nil
	default:
		return strings.TrimSpace(s.Text()), nil
	}
}

// extractXPath XPath选择器提取(htmlquery)
func extractXPath(root *html.Node, sel models.Selector) (any, error) {
	nodes, err := htmlquery.QueryAll(root, sel.Query)
	if err != nil {
		return nil, fmt.Errorf("XPath表达式错误: %w", err)
	}

	if sel.Multiple {
		values := make([]string, 0, len(nodes))
		for _, n := range nodes {
			values = append(values, nodeValue(n, sel))
		}
		return values, nil
	}

	if len(nodes) == 0 {
		return "", nil
	}
	return nodeValue(nodes[0], sel), nil
}

// extractTag 标签名选择器提取,深度优先遍历DOM树
func extractTag(root *html.Node, sel models.Selector) any {
	tag := strings.ToLower(strings.TrimSpace(sel.Query))
	nodes := findByTag(root, tag)

	if sel.Multiple {
		values := make([]string, 0, len(nodes))
		for _, n := range nodes {
			values = append(values, nodeValue(n, sel))
		}
		return values
	}

	if len(nodes) == 0 {
		return ""
	}
	return nodeValue(nodes[0], sel)
}

// findByTag 收集所有匹配标签名的元素节点(文档序)
func findByTag(root *html.Node, tag string) []*html.Node {
	var nodes []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
			nodes = append(nodes, n)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return nodes
}

// nodeValue 按提取方式取HTML节点的值
func nodeValue(n *html.Node, sel models.Selector) string {
	switch sel.Extract {
	case models.ExtractHTML:
		return htmlquery.OutputHTML(n, true)
	case models.ExtractAttribute:
		return htmlquery.SelectAttr(n, sel.Attribute)
	default:
		return strings.TrimSpace(htmlquery.InnerText(n))
	}
}
