package db

import "gorm.io/gorm"

// Preference 模拟原生平台的偏好存储：每个键保存一段 JSON 文本。
// 习惯集合整体存放在 habits 键下，按日完成记录存放在 completions_<date> 键下。
type Preference struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (Preference) TableName() string {
	return "preferences"
}
