package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 摘要占位文本
const (
	SummaryNoRecords     = "No attendance records to summarize."
	SummaryOffline       = "Summary unavailable: summarization service is offline."
	SummaryNotConfigured = "Summary unavailable: no summarization service configured."
	SummaryUnavailable   = "Summary unavailable."
)

// DefaultSummarySample 发送给摘要服务的最大记录数
const DefaultSummarySample = 50

// SummaryClient 外部文本摘要；返回值始终可直接展示
type SummaryClient interface {
	Summarize(ctx context.Context, records []AnnotatedRecord) string
}

type placeholderSummarizer struct{}

func (placeholderSummarizer) Summarize(_ context.Context, records []AnnotatedRecord) string {
	if len(records) == 0 {
		return SummaryNoRecords
	}
	return SummaryNotConfigured
}

// SummaryRequest 摘要请求
type SummaryRequest struct {
	Total   int             `json:"total"`
	Records []SummaryRecord `json:"records"`
}

// SummaryRecord 发送给摘要服务的精简记录
type SummaryRecord struct {
	UserName        string     `json:"userName"`
	HospitalName    string     `json:"hospitalName"`
	CheckInTime     time.Time  `json:"checkInTime"`
	CheckOutTime    *time.Time `json:"checkOutTime,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	Flagged         bool       `json:"flagged"`
	Late            bool       `json:"late"`
	EarlyLeave      bool       `json:"earlyLeave"`
	Anomaly         string     `json:"anomaly,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// SummaryResponse 摘要响应
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// RestSummaryClient 通过 HTTP 调用摘要服务
type RestSummaryClient struct {
	httpClient *resty.Client
	url        string
	sampleSize int
	logger     *zap.Logger
}

// NewRestSummaryClient 创建摘要客户端
func NewRestSummaryClient(url, token string, sampleSize int, logger *zap.Logger) *RestSummaryClient {
	if sampleSize <= 0 {
		sampleSize = DefaultSummarySample
	}
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RestSummaryClient{httpClient: client, url: url, sampleSize: sampleSize, logger: logger}
}

// sample 异常记录优先，再按时间取最近的
func (c *RestSummaryClient) sample(records []AnnotatedRecord) []SummaryRecord {
	var flagged, normal []AnnotatedRecord
	for _, r := range records {
		if r.Flagged || r.Anomaly != "" || r.Late || r.EarlyLeave {
			flagged = append(flagged, r)
		} else {
			normal = append(normal, r)
		}
	}
	picked := make([]SummaryRecord, 0, c.sampleSize)
	add := func(list []AnnotatedRecord) {
		for i := len(list) - 1; i >= 0 && len(picked) < c.sampleSize; i-- {
			r := list[i]
			picked = append(picked, SummaryRecord{
				UserName:        r.UserName,
				HospitalName:    r.HospitalName,
				CheckInTime:     r.CheckInTime,
				CheckOutTime:    r.CheckOutTime,
				DurationMinutes: r.DurationMinutes,
				Flagged:         r.Flagged,
				Late:            r.Late,
				EarlyLeave:      r.EarlyLeave,
				Anomaly:         string(r.Anomaly),
				Notes:           r.Notes,
			})
		}
	}
	add(flagged)
	add(normal)
	return picked
}

func (c *RestSummaryClient) Summarize(ctx context.Context, records []AnnotatedRecord) string {
	if len(records) == 0 {
		return SummaryNoRecords
	}

	request := SummaryRequest{Total: len(records), Records: c.sample(records)}
	var response SummaryResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post(c.url)
	if err != nil {
		c.logger.Warn("Summary service call failed", zap.Error(err))
		return SummaryOffline
	}
	if resp.IsError() {
		c.logger.Warn("Summary service returned error",
			zap.Int("status_code", resp.StatusCode()),
		)
		return SummaryUnavailable
	}
	summary := strings.TrimSpace(response.Summary)
	if summary == "" {
		return SummaryUnavailable
	}
	return summary
}
