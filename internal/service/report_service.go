package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/store"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ReportService 报表：迟到/早退在读取时按当前规则计算，不落库
type ReportService interface {
	Records(ctx context.Context, filter ReportFilter) ([]AnnotatedRecord, error)
	ExportXLSX(ctx context.Context, filter ReportFilter) ([]byte, error)
	Summary(ctx context.Context, filter ReportFilter) string
}

// ReportFilter 报表过滤条件
type ReportFilter struct {
	HospitalID  string     `json:"hospitalId"`
	UserID      string     `json:"userId,omitempty"`
	From        *time.Time `json:"from,omitempty"` // 签到时间 >= From
	To          *time.Time `json:"to,omitempty"`   // 签到时间 < To
	FlaggedOnly bool       `json:"flaggedOnly,omitempty"`
}

// AnnotatedRecord 带派生标注的考勤记录
type AnnotatedRecord struct {
	domain.AttendanceRecord
	Late       bool   `json:"late"`
	EarlyLeave bool   `json:"earlyLeave"`
	Notes      string `json:"notes"`
}

// ReportPolicy 迟到/早退规则
type ReportPolicy struct {
	Location    *time.Location
	LateAfter   string // HH:MM
	EarlyBefore string // HH:MM
}

type reportService struct {
	local      *store.LocalStore
	summarizer SummaryClient
	loc        *time.Location
	lateAfter  int // 当日分钟数
	earlyUntil int
	logger     *zap.Logger
}

// NewReportService 创建 ReportService 实例；规则格式错误时返回 error
func NewReportService(local *store.LocalStore, summarizer SummaryClient, policy ReportPolicy, logger *zap.Logger) (ReportService, error) {
	late, err := parseClock(policy.LateAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid late deadline: %w", err)
	}
	early, err := parseClock(policy.EarlyBefore)
	if err != nil {
		return nil, fmt.Errorf("invalid early-leave deadline: %w", err)
	}
	if policy.Location == nil {
		policy.Location = time.Local
	}
	if summarizer == nil {
		summarizer = placeholderSummarizer{}
	}
	return &reportService{
		local:      local,
		summarizer: summarizer,
		loc:        policy.Location,
		lateAfter:  late,
		earlyUntil: early,
		logger:     logger,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Annotate 计算迟到/早退和备注
func (s *reportService) Annotate(r domain.AttendanceRecord) AnnotatedRecord {
	a := AnnotatedRecord{AttendanceRecord: r}
	a.Late = minuteOfDay(r.CheckInTime.In(s.loc)) > s.lateAfter
	if r.CheckOutTime != nil {
		a.EarlyLeave = minuteOfDay(r.CheckOutTime.In(s.loc)) < s.earlyUntil
	}

	var notes []string
	if r.Flagged {
		notes = append(notes, fmt.Sprintf("Outside geofence (%.0fm from center)", r.DistanceFromCenter))
	}
	if r.Anomaly == domain.AnomalyDeviceMismatch {
		notes = append(notes, "Device mismatch at check-out")
	}
	if r.IsOpen() {
		notes = append(notes, "Shift open")
	} else if r.CheckOutCoords == nil {
		notes = append(notes, "Checked out without location")
	}
	if r.CheckInDeviceID != "" {
		notes = append(notes, "Device …"+domain.DeviceSuffix(r.CheckInDeviceID))
	}
	a.Notes = strings.Join(notes, "; ")
	return a
}

func (s *reportService) Records(ctx context.Context, filter ReportFilter) ([]AnnotatedRecord, error) {
	records, err := s.local.Records.Find(ctx, func(r domain.AttendanceRecord) bool {
		if filter.HospitalID != "" && r.HospitalID != filter.HospitalID {
			return false
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			return false
		}
		if filter.From != nil && r.CheckInTime.Before(*filter.From) {
			return false
		}
		if filter.To != nil && !r.CheckInTime.Before(*filter.To) {
			return false
		}
		if filter.FlaggedOnly && !r.Flagged && r.Anomaly == domain.AnomalyNone {
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CheckInTime.Before(records[j].CheckInTime)
	})

	out := make([]AnnotatedRecord, len(records))
	for i, r := range records {
		out[i] = s.Annotate(r)
	}
	return out, nil
}

var reportHeaders = []string{
	"Staff", "Hospital", "Date", "Check-in", "Check-out", "Duration (min)",
	"Distance (m)", "Flagged", "Late", "Early leave", "Anomaly", "Notes",
}

// ExportXLSX 每条记录一行
func (s *reportService) ExportXLSX(ctx context.Context, filter ReportFilter) ([]byte, error) {
	records, err := s.Records(ctx, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	for i, h := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	for i, r := range records {
		checkIn := r.CheckInTime.In(s.loc)
		checkOut, duration := "", ""
		if r.CheckOutTime != nil {
			checkOut = r.CheckOutTime.In(s.loc).Format("15:04")
		}
		if r.DurationMinutes != nil {
			duration = fmt.Sprintf("%d", *r.DurationMinutes)
		}
		values := []any{
			r.UserName,
			r.HospitalName,
			checkIn.Format("2006-01-02"),
			checkIn.Format("15:04"),
			checkOut,
			duration,
			fmt.Sprintf("%.1f", r.DistanceFromCenter),
			yesNo(r.Flagged),
			yesNo(r.Late),
			yesNo(r.EarlyLeave),
			string(r.Anomaly),
			r.Notes,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	s.logger.Info("Attendance report rendered",
		zap.String("hospital_id", filter.HospitalID),
		zap.Int("rows", len(records)),
	)
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Summary 文本摘要；失败时返回占位文本，不返回错误
func (s *reportService) Summary(ctx context.Context, filter ReportFilter) string {
	records, err := s.Records(ctx, filter)
	if err != nil {
		s.logger.Warn("Summary skipped: failed to load records", zap.Error(err))
		return SummaryUnavailable
	}
	return s.summarizer.Summarize(ctx, records)
}
