package service

import (
	"context"
	"fmt"
	"html"
	"io"
	"time"

	"wisefido-attendance/common/config"
	"wisefido-attendance/internal/domain"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// MailSender 发送邮件（gomail.Dialer 满足该接口）
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// ReportMailer 每日报表邮件
type ReportMailer struct {
	sender  MailSender
	from    string
	subject string
	reports ReportService
	loc     *time.Location
	logger  *zap.Logger
}

// NewMailDialer SMTP dialer
func NewMailDialer(cfg config.SMTPConfig) *gomail.Dialer {
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
}

func NewReportMailer(sender MailSender, cfg config.SMTPConfig, reports ReportService, loc *time.Location, logger *zap.Logger) *ReportMailer {
	if loc == nil {
		loc = time.Local
	}
	return &ReportMailer{
		sender:  sender,
		from:    cfg.From,
		subject: cfg.Subject,
		reports: reports,
		loc:     loc,
		logger:  logger,
	}
}

// SendDaily 发送某医院某一天（报表时区）的报表；未启用邮件配置时返回 false
func (m *ReportMailer) SendDaily(ctx context.Context, h domain.Hospital, day time.Time) (bool, error) {
	cfg := h.EmailReportConfig
	if cfg == nil || !cfg.Enabled || len(cfg.Recipients) == 0 {
		return false, nil
	}

	local := day.In(m.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.loc)
	to := from.AddDate(0, 0, 1)
	filter := ReportFilter{HospitalID: h.ID, From: &from, To: &to}

	records, err := m.reports.Records(ctx, filter)
	if err != nil {
		return false, err
	}
	doc, err := m.reports.ExportXLSX(ctx, filter)
	if err != nil {
		return false, err
	}
	summary := m.reports.Summary(ctx, filter)

	late, early, flagged := 0, 0, 0
	for _, r := range records {
		if r.Late {
			late++
		}
		if r.EarlyLeave {
			early++
		}
		if r.Flagged || r.Anomaly != domain.AnomalyNone {
			flagged++
		}
	}

	date := from.Format("2006-01-02")
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", cfg.Recipients...)
	if len(cfg.Cc) > 0 {
		msg.SetHeader("Cc", cfg.Cc...)
	}
	msg.SetHeader("Subject", fmt.Sprintf("%s - %s - %s", m.subject, h.Name, date))
	msg.SetBody("text/html", fmt.Sprintf(
		"<p><b>%s</b> attendance for %s</p><ul><li>Records: %d</li><li>Late: %d</li><li>Early leave: %d</li><li>Flagged / anomalies: %d</li></ul><p>%s</p>",
		html.EscapeString(h.Name), date, len(records), late, early, flagged, html.EscapeString(summary),
	))
	msg.Attach(fmt.Sprintf("attendance-%s.xlsx", date), gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(doc)
		return err
	}))

	if err := m.sender.DialAndSend(msg); err != nil {
		m.logger.Error("Failed to send attendance report",
			zap.String("hospital_id", h.ID),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to send report: %w", err)
	}
	m.logger.Info("Attendance report sent",
		zap.String("hospital_id", h.ID),
		zap.String("date", date),
		zap.Int("recipients", len(cfg.Recipients)),
	)
	return true, nil
}
