package driver

import (
	"errors"
	"reflect"
	"testing"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

// fakeDriver 仅用于注册表测试,方法不会被调用
type fakeDriver struct {
	Driver
	config models.DriverConfig
}

func TestRegistryCreateDefaults(t *testing.T) {
	registry := NewRegistry()

	var captured models.DriverConfig
	registry.Register(models.DriverTypeRod, func(config models.DriverConfig) (Driver, error) {
		captured = config
		return &fakeDriver{config: config}, nil
	})

	if _, err := registry.Create(models.DriverConfig{}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	defaults := models.DefaultDriverConfig()
	if captured.Type != defaults.Type {
		t.Errorf("Type = %q, want %q", captured.Type, defaults.Type)
	}
	if captured.Browser != defaults.Browser {
		t.Errorf("Browser = %q, want %q", captured.Browser, defaults.Browser)
	}
	if captured.Timeout != defaults.Timeout {
		t.Errorf("Timeout = %d, want %d", captured.Timeout, defaults.Timeout)
	}
	if captured.PageLoadTimeout != defaults.PageLoadTimeout {
		t.Errorf("PageLoadTimeout = %d, want %d", captured.PageLoadTimeout, defaults.PageLoadTimeout)
	}
}

func TestRegistryCreatePreservesExplicitValues(t *testing.T) {
	registry := NewRegistry()

	var captured models.DriverConfig
	registry.Register(models.DriverTypeStatic, func(config models.DriverConfig) (Driver, error) {
		captured = config
		return &fakeDriver{config: config}, nil
	})

	input := models.DriverConfig{
		Type:            models.DriverTypeStatic,
		Browser:         models.BrowserFirefox,
		Timeout:         10,
		PageLoadTimeout: 20,
		RetryCount:      5,
	}
	if _, err := registry.Create(input); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if captured.Browser != models.BrowserFirefox || captured.Timeout != 10 || captured.RetryCount != 5 {
		t.Errorf("显式配置被补全逻辑覆盖: %+v", captured)
	}
}

func TestRegistryCreateUnknownType(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Create(models.DriverConfig{Type: "selenium"})
	if err == nil {
		t.Fatal("未注册的驱动类型应当返回错误")
	}
	if !errors.Is(err, models.ErrUnknownDriverType) {
		t.Errorf("错误链未包含ErrUnknownDriverType: %v", err)
	}

	var configErr *models.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("错误类型 = %T, want *models.ConfigError", err)
	}
	if configErr.Field != "driver.type" || configErr.Value != "selenium" {
		t.Errorf("ConfigError字段 = %s/%s", configErr.Field, configErr.Value)
	}
}

func TestRegistryCreateInvalidConfig(t *testing.T) {
	registry := NewRegistry()
	registry.Register(models.DriverTypeRod, func(config models.DriverConfig) (Driver, error) {
		t.Fatal("校验失败时不应调用构造函数")
		return nil, nil
	})

	_, err := registry.Create(models.DriverConfig{Timeout: 500})
	if err == nil {
		t.Fatal("超出范围的超时应当校验失败")
	}
	if errors.Is(err, models.ErrUnknownDriverType) {
		t.Errorf("配置范围错误不应归类为未知驱动类型: %v", err)
	}
}

func TestRegistryTypes(t *testing.T) {
	registry := NewRegistry()
	factory := func(config models.DriverConfig) (Driver, error) {
		return &fakeDriver{config: config}, nil
	}
	registry.Register("static", factory)
	registry.Register("rod", factory)
	registry.Register("playwright", factory)

	want := []string{"playwright", "rod", "static"}
	if got := registry.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestNewRodDriverBrowserMapping(t *testing.T) {
	tests := []struct {
		name    string
		browser string
		wantErr bool
	}{
		{"chrome", models.BrowserChrome, false},
		{"chromium", models.BrowserChromium, false},
		{"edge", models.BrowserEdge, false},
		{"firefox不支持", models.BrowserFirefox, true},
		{"webkit不支持", models.BrowserWebKit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := models.DefaultDriverConfig()
			config.Browser = tt.browser
			_, err := NewRodDriver(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRodDriver() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, models.ErrUnmappableBrowser) {
				t.Errorf("错误链未包含ErrUnmappableBrowser: %v", err)
			}
		})
	}
}

func TestNewPlaywrightDriverBrowserMapping(t *testing.T) {
	supported := []string{
		models.BrowserChrome, models.BrowserChromium, models.BrowserEdge,
		models.BrowserFirefox, models.BrowserWebKit, models.BrowserSafari,
	}
	for _, browser := range supported {
		config := models.DefaultDriverConfig()
		config.Type = models.DriverTypePlaywright
		config.Browser = browser
		if _, err := NewPlaywrightDriver(config); err != nil {
			t.Errorf("NewPlaywrightDriver(%s) error = %v", browser, err)
		}
	}

	config := models.DefaultDriverConfig()
	config.Browser = "opera"
	if _, err := NewPlaywrightDriver(config); !errors.Is(err, models.ErrUnmappableBrowser) {
		t.Errorf("未知浏览器应当返回ErrUnmappableBrowser, got %v", err)
	}
}

func TestDetectSelectorKind(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		want     string
	}{
		{"绝对XPath", "//div[@class='item']", models.SelectorKindXPath},
		{"相对XPath", "./span", models.SelectorKindXPath},
		{"带括号的XPath", "(//a)[1]", models.SelectorKindXPath},
		{"CSS类选择器", ".item > a", models.SelectorKindCSS},
		{"CSS标签选择器", "div#main", models.SelectorKindCSS},
		{"属性选择器", "a[href]", models.SelectorKindCSS},
		{"前导空白的XPath", "  //div", models.SelectorKindXPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSelectorKind(tt.selector); got != tt.want {
				t.Errorf("DetectSelectorKind(%q) = %s, want %s", tt.selector, got, tt.want)
			}
		})
	}
}
