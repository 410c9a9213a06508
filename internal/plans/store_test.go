package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
)

func testPlan(t *testing.T, rawURL string) *models.Plan {
	t.Helper()
	plan, err := models.NewPlan(rawURL, "抓取页面内容", []models.PlanStep{
		{Action: "navigate", Params: map[string]any{"url": rawURL}},
	})
	if err != nil {
		t.Fatalf("构造计划失败: %v", err)
	}
	return plan
}

func TestPlanStoreSaveLoad(t *testing.T) {
	store := NewPlanStore(t.TempDir())
	plan := testPlan(t, "https://example.com/docs")

	relativePath, err := store.Save(plan)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if relativePath != plan.RelativePath() {
		t.Errorf("relativePath = %q, want %q", relativePath, plan.RelativePath())
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), relativePath)); err != nil {
		t.Fatalf("计划文件未落盘: %v", err)
	}

	loaded, err := store.Load(relativePath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Fingerprint != plan.Fingerprint || loaded.URL != plan.URL {
		t.Errorf("回读计划不一致: %s / %s", loaded.Fingerprint, loaded.URL)
	}
	if len(loaded.Steps) != len(plan.Steps) {
		t.Errorf("步骤数 = %d, want %d", len(loaded.Steps), len(plan.Steps))
	}
}

func TestPlanStoreSaveInvalid(t *testing.T) {
	store := NewPlanStore(t.TempDir())
	plan := testPlan(t, "https://example.com")
	plan.Version = 0

	if _, err := store.Save(plan); err == nil {
		t.Error("校验失败的计划不应落盘")
	}
}

func TestPlanStoreLoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewPlanStore(dir)

	if _, err := store.Load("missing/plan.json"); err == nil {
		t.Error("缺失文件应当返回错误")
	}

	// 损坏的计划文件
	corrupt := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(corrupt, []byte("{不是JSON"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("broken.json"); err == nil {
		t.Error("损坏文件应当返回错误")
	}
}

func TestPlanStoreDelete(t *testing.T) {
	store := NewPlanStore(t.TempDir())
	plan := testPlan(t, "https://example.com")

	relativePath, err := store.Save(plan)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Delete(relativePath); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), relativePath)); !os.IsNotExist(err) {
		t.Error("删除后文件仍存在")
	}

	// 重复删除不算错误
	if err := store.Delete(relativePath); err != nil {
		t.Errorf("重复删除 error = %v", err)
	}
}
