package utils

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// SafeSelect goquery查询的安全包装
// goquery对非法CSS选择器会panic,这里转为错误返回
func SafeSelect(doc *goquery.Document, selector string) (selection *goquery.Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("非法CSS选择器 [%s]: %v", selector, r)
		}
	}()
	return doc.Find(selector), nil
}
