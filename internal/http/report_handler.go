package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

// ReportHandler 考勤报表（迟到/早退在读取时计算）
type ReportHandler struct {
	reports service.ReportService
	loc     *time.Location
	logger  *zap.Logger
}

func NewReportHandler(reports service.ReportService, loc *time.Location, logger *zap.Logger) *ReportHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ReportHandler{reports: reports, loc: loc, logger: logger}
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := h.parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if filter == nil {
		writeJSON(w, http.StatusForbidden, Fail("hospital out of scope"))
		return
	}

	switch r.URL.Path {
	case "/report/api/v1/records":
		records, err := h.reports.Records(r.Context(), *filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(records))
	case "/report/api/v1/export":
		doc, err := h.reports.ExportXLSX(r.Context(), *filter)
		if err != nil {
			h.logger.Error("Report export failed", zap.Error(err))
			writeError(w, err)
			return
		}
		name := fmt.Sprintf("attendance-%s.xlsx", time.Now().In(h.loc).Format("2006-01-02"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc)
	case "/report/api/v1/summary":
		writeJSON(w, http.StatusOK, Ok(map[string]string{"summary": h.reports.Summary(r.Context(), *filter)}))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// parseFilter 解析查询参数；越权访问其他医院时返回 nil
// to 为纯日期时包含当天
func (h *ReportHandler) parseFilter(r *http.Request) (*service.ReportFilter, error) {
	q := r.URL.Query()
	hospitalID, ok := scopeHospital(claimsFrom(r.Context()), q.Get("hospitalId"))
	if !ok {
		return nil, nil
	}
	from, err := parseTimeParam(q.Get("from"), h.loc)
	if err != nil {
		return nil, err
	}
	to, err := parseTimeParam(q.Get("to"), h.loc)
	if err != nil {
		return nil, err
	}
	if to != nil && len(strings.TrimSpace(q.Get("to"))) == len("2006-01-02") {
		next := to.AddDate(0, 0, 1)
		to = &next
	}
	flagged := q.Get("flagged")
	return &service.ReportFilter{
		HospitalID:  hospitalID,
		UserID:      q.Get("userId"),
		From:        from,
		To:          to,
		FlaggedOnly: flagged == "1" || strings.EqualFold(flagged, "true"),
	}, nil
}
