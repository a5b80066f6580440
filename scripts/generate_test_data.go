package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/habitflow/internal/config"
	"github.com/habitflow/internal/model"
	"github.com/habitflow/internal/storage"
)

// seedHabit 描述一个示例习惯
type seedHabit struct {
	ID           string
	Name         string
	Emoji        string
	TrackingType model.TrackingType
	Target       float64
	Unit         string
}

var seedHabits = []seedHabit{
	{ID: "seed-read", Name: "阅读 30 分钟", Emoji: "📚", TrackingType: model.TrackingCheckbox},
	{ID: "seed-water", Name: "喝水", Emoji: "🌱", TrackingType: model.TrackingQuantity, Target: 8, Unit: "杯"},
	{ID: "seed-mood", Name: "心情打分", Emoji: "🙂", TrackingType: model.TrackingRating},
}

// seedSummary 汇总写入的数据量
type seedSummary struct {
	Habits      int
	Dates       int
	Completions int
}

// 测试数据生成器：写入旧版扁平存储格式，用于演练迁移
func main() {
	days := flag.Int("days", 30, "生成最近多少天的完成记录")
	out := flag.String("out", "", "扁平存储文件路径，默认使用 LEGACY_STORE_PATH")
	flag.Parse()

	path := *out
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal("读取配置失败:", err)
		}
		path = cfg.LegacyStorePath
	}

	store, err := storage.NewFileStore(path)
	if err != nil {
		log.Fatal("打开扁平存储失败:", err)
	}

	fmt.Println("开始生成测试数据...")
	summary, err := seedLegacyData(store, time.Now().UTC(), *days)
	if err != nil {
		log.Fatal("生成测试数据失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("文件: %s\n", path)
	fmt.Printf("习惯: %d 个\n", summary.Habits)
	fmt.Printf("完成记录: %d 天，共 %d 条\n", summary.Dates, summary.Completions)
}

// seedLegacyData 按旧版格式写入习惯与完成记录：
// checkbox 习惯使用 ID 数组，数值习惯使用不带版本的记录数组
func seedLegacyData(store storage.FlatStore, today time.Time, days int) (seedSummary, error) {
	if days < 1 {
		days = 1
	}
	var summary seedSummary

	habits := make([]map[string]any, 0, len(seedHabits))
	for _, h := range seedHabits {
		item := map[string]any{
			"id":      h.ID,
			"name":    h.Name,
			"emoji":   h.Emoji,
			"streaks": 0,
		}
		// 旧数据没有 trackingType 时视为 checkbox
		if h.TrackingType != model.TrackingCheckbox {
			item["trackingType"] = h.TrackingType
			item["targetValue"] = h.Target
			item["unit"] = h.Unit
		}
		habits = append(habits, item)
	}
	if err := writeJSON(store, "habits", habits); err != nil {
		return summary, err
	}
	summary.Habits = len(habits)

	for offset := days - 1; offset >= 0; offset-- {
		date := model.FormatDate(today.AddDate(0, 0, -offset))

		var ids []string
		var records []map[string]any
		for i, h := range seedHabits {
			// 每隔几天留空，让连胜有断点
			if (offset+i)%4 == 3 {
				continue
			}
			switch h.TrackingType {
			case model.TrackingCheckbox:
				ids = append(ids, h.ID)
			case model.TrackingRating:
				records = append(records, map[string]any{"habitId": h.ID, "value": 5 + offset%5})
			default:
				records = append(records, map[string]any{"habitId": h.ID, "value": 4 + offset%5})
			}
		}

		key := "completions_" + date
		switch {
		case len(records) > 0:
			for _, id := range ids {
				records = append(records, map[string]any{"habitId": id, "value": true})
			}
			if err := writeJSON(store, key, records); err != nil {
				return summary, err
			}
			summary.Completions += len(records)
		case len(ids) > 0:
			if err := writeJSON(store, key, ids); err != nil {
				return summary, err
			}
			summary.Completions += len(ids)
		default:
			continue
		}
		summary.Dates++
	}

	if err := writeJSON(store, "settings", map[string]any{"maxHabits": 5, "theme": "system"}); err != nil {
		return summary, err
	}
	return summary, nil
}

func writeJSON(store storage.FlatStore, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.SetItem(key, string(raw)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
