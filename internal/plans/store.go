// Package plans 负责爬取计划的持久化、索引与生成。
//
// 计划文件按 {plans_dir}/{domain}/{name}_v{version}_{fingerprint}.json 存储,
// 索引文件registry.json记录指纹到条目的映射,每次变更整体重写。
package plans

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/PlanCrawl/internal/models"
	"github.com/RecoveryAshes/PlanCrawl/internal/utils"
)

// PlanStore 计划文件的磁盘存取
type PlanStore struct {
	dir string
}

// NewPlanStore 创建计划存储,目录在首次写入时创建
func NewPlanStore(dir string) *PlanStore {
	return &PlanStore{dir: dir}
}

// Dir 计划根目录
func (s *PlanStore) Dir() string {
	return s.dir
}

// Save 写入计划文件,返回相对路径
func (s *PlanStore) Save(plan *models.Plan) (string, error) {
	if err := plan.Validate(); err != nil {
		return "", err
	}

	relativePath := plan.RelativePath()
	fullPath := filepath.Join(s.dir, relativePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("创建计划目录失败: %w", err)
	}

	data, err := plan.ToJSON()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, []byte(data), 0644); err != nil {
		return "", fmt.Errorf("写入计划文件失败 [%s]: %w", fullPath, err)
	}

	utils.Debugf("计划已保存: %s", relativePath)
	return relativePath, nil
}

// Load 按相对路径读取并校验计划文件
func (s *PlanStore) Load(relativePath string) (*models.Plan, error) {
	fullPath := filepath.Join(s.dir, relativePath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取计划文件失败 [%s]: %w", fullPath, err)
	}

	plan, err := models.PlanFromJSON(string(data))
	if err != nil {
		return nil, fmt.Errorf("计划文件损坏 [%s]: %w", fullPath, err)
	}
	return plan, nil
}

// Delete 删除计划文件,文件不存在不算错误
func (s *PlanStore) Delete(relativePath string) error {
	fullPath := filepath.Join(s.dir, relativePath)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除计划文件失败 [%s]: %w", fullPath, err)
	}
	return nil
}
