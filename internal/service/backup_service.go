package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/habitflow/internal/model"
	"golang.org/x/mod/semver"
)

// BackupVersion 是当前写入的备份格式版本
const BackupVersion = "1.0.0"

// DeviceInfo 描述生成备份的设备
type DeviceInfo struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
	UserAgent  string `json:"userAgent"`
}

// DateRange 是备份中完成记录的日期范围
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BackupMetadata 汇总备份内容
type BackupMetadata struct {
	HabitCount      int       `json:"habitCount"`
	CompletionCount int       `json:"completionCount"`
	DateRange       DateRange `json:"dateRange"`
	ID              string    `json:"id"`
}

// Bundle 是备份文件的完整结构
type Bundle struct {
	Version    string           `json:"version"`
	Timestamp  string           `json:"timestamp"`
	DeviceInfo DeviceInfo       `json:"deviceInfo"`
	Metadata   BackupMetadata   `json:"metadata"`
	Data       model.ExportData `json:"data"`
}

// ValidationResult 是结构校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// RestoreError 在备份未通过校验时返回，列出全部问题
type RestoreError struct {
	Issues []string
}

func (e *RestoreError) Error() string {
	return "invalid backup: " + strings.Join(e.Issues, "; ")
}

// BackupService 负责备份的生成、校验与恢复
type BackupService struct {
	engine *HabitEngine
	device DeviceInfo
	now    func() time.Time
}

// NewBackupService 构造 BackupService，userAgent 为空时自动生成
func NewBackupService(engine *HabitEngine, platform, appVersion string) *BackupService {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		platform = runtime.GOOS
	}
	appVersion = strings.TrimSpace(appVersion)
	if appVersion == "" {
		appVersion = BackupVersion
	}
	return &BackupService{
		engine: engine,
		device: DeviceInfo{
			Platform:   platform,
			AppVersion: appVersion,
			UserAgent:  fmt.Sprintf("habitflow/%s (%s; %s/%s)", appVersion, platform, runtime.GOOS, runtime.GOARCH),
		},
		now: engine.now,
	}
}

// CreateBackup 导出全部数据并附加元信息
func (s *BackupService) CreateBackup(ctx context.Context) (*Bundle, error) {
	data, err := s.engine.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	if data.Habits == nil {
		data.Habits = []model.Habit{}
	}
	if data.Completions == nil {
		data.Completions = model.DailyCompletions{}
	}

	now := s.now()
	today := s.engine.Today()
	dateRange := DateRange{Start: today, End: today}
	if dates := data.Completions.Dates(); len(dates) > 0 {
		dateRange = DateRange{Start: dates[0], End: dates[len(dates)-1]}
	}

	bundle := &Bundle{
		Version:    BackupVersion,
		Timestamp:  now.UTC().Format(time.RFC3339),
		DeviceInfo: s.device,
		Metadata: BackupMetadata{
			HabitCount:      len(data.Habits),
			CompletionCount: data.Completions.Count(),
			DateRange:       dateRange,
			ID:              uuid.NewString(),
		},
		Data: data,
	}
	log.Printf("[backup] created backup %s: habits=%d completions=%d", bundle.Metadata.ID, bundle.Metadata.HabitCount, bundle.Metadata.CompletionCount)
	return bundle, nil
}

func semverOf(version string) string {
	return "v" + strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// ValidateBackup 检查备份结构，不会返回错误，问题全部列在 Issues 中
func (s *BackupService) ValidateBackup(raw []byte) ValidationResult {
	var issues []string
	addIssue := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return ValidationResult{Valid: false, Issues: []string{"backup is not a JSON object"}}
	}

	var version string
	if v, ok := top["version"]; !ok || json.Unmarshal(v, &version) != nil || strings.TrimSpace(version) == "" {
		addIssue("missing version")
	} else if !semver.IsValid(semverOf(version)) {
		addIssue("version %q is not a semantic version", version)
	} else if semver.Compare(semver.Major(semverOf(version)), semver.Major(semverOf(BackupVersion))) > 0 {
		addIssue("version %s is newer than supported %s", version, BackupVersion)
	}

	var timestamp string
	if v, ok := top["timestamp"]; !ok || json.Unmarshal(v, &timestamp) != nil || timestamp == "" {
		addIssue("missing timestamp")
	} else if _, err := time.Parse(time.RFC3339, timestamp); err != nil {
		addIssue("timestamp %q is not ISO-8601", timestamp)
	}

	if v, ok := top["metadata"]; !ok || !isJSONObject(v) {
		addIssue("missing metadata")
	}

	data, ok := top["data"]
	if !ok || !isJSONObject(data) {
		addIssue("missing data")
		return ValidationResult{Valid: false, Issues: issues}
	}
	var payload map[string]json.RawMessage
	_ = json.Unmarshal(data, &payload)

	if habits, ok := payload["habits"]; !ok || !isJSONArray(habits) {
		addIssue("data.habits must be a list")
	} else {
		var list []model.Habit
		if err := json.Unmarshal(habits, &list); err != nil {
			addIssue("data.habits contains malformed habits: %v", err)
		}
		for i, h := range list {
			if strings.TrimSpace(h.ID) == "" {
				addIssue("data.habits[%d] has no id", i)
			}
		}
	}

	if completions, ok := payload["completions"]; !ok || !isJSONObject(completions) {
		addIssue("data.completions must be a mapping of date to list")
	} else {
		var byDate map[string]json.RawMessage
		_ = json.Unmarshal(completions, &byDate)
		for date, list := range byDate {
			if !model.IsDate(date) {
				addIssue("data.completions key %q is not a date", date)
				continue
			}
			var records []model.Completion
			if !isJSONArray(list) || json.Unmarshal(list, &records) != nil {
				addIssue("data.completions[%s] must be a list of completions", date)
			}
		}
	}

	if settings, ok := payload["settings"]; ok && !isJSONObject(settings) && !isJSONNull(settings) {
		addIssue("data.settings must be an object")
	}

	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// RestoreFromBackup 校验后替换全部数据，校验失败时返回 *RestoreError 且不写入任何数据
func (s *BackupService) RestoreFromBackup(ctx context.Context, raw []byte) (*Bundle, error) {
	result := s.ValidateBackup(raw)
	if !result.Valid {
		return nil, &RestoreError{Issues: result.Issues}
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, &RestoreError{Issues: []string{fmt.Sprintf("decode backup: %v", err)}}
	}
	if bundle.Data.Completions == nil {
		bundle.Data.Completions = model.DailyCompletions{}
	}

	if err := s.engine.Import(ctx, bundle.Data); err != nil {
		return nil, fmt.Errorf("restore backup: %w", err)
	}
	log.Printf("[backup] restored backup %s: habits=%d completions=%d", bundle.Metadata.ID, len(bundle.Data.Habits), bundle.Data.Completions.Count())
	return &bundle, nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isJSONObject(raw json.RawMessage) bool { return firstByte(raw) == '{' }

func isJSONArray(raw json.RawMessage) bool { return firstByte(raw) == '[' }

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
