package sharing

import (
	"context"
	"fmt"
	"time"

	"smartfolio-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	logSheet     = "Access Log"
)

// ExportAnalytics renders a token's analytics and its full access log as an xlsx workbook.
func (s *Service) ExportAnalytics(ctx context.Context, tokenID uuid.UUID) ([]byte, error) {
	a, err := s.Analytics(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	var entries []domain.AccessLogEntry
	if err := s.DB.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("viewed_at DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Msg("closing analytics workbook")
		}
	}()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#cfe2f3"}},
	})
	if err != nil {
		return nil, err
	}

	rows := [][2]interface{}{
		{"Token ID", a.TokenID.String()},
		{"Portfolio ID", a.PortfolioID.String()},
		{"Created", formatTime(&a.CreatedAt)},
		{"Expires", formatTime(a.ExpiresAt)},
		{"Revoked", a.Revoked},
		{"Total views", a.TotalViews},
		{"Unique visitors", a.UniqueVisitors},
		{"Last viewed", formatTime(a.LastViewed)},
	}
	for i, r := range rows {
		row := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), r[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), r[1])
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), header); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)

	if _, err := f.NewSheet(logSheet); err != nil {
		return nil, err
	}
	for col, title := range []string{"Viewed at (UTC)", "IP address", "User agent"} {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellStr(logSheet, cell, title)
	}
	if err := f.SetCellStyle(logSheet, "A1", "C1", header); err != nil {
		return nil, err
	}
	for i, e := range entries {
		row := i + 2
		_ = f.SetCellStr(logSheet, fmt.Sprintf("A%d", row), e.ViewedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellStr(logSheet, fmt.Sprintf("B%d", row), deref(e.IPAddress))
		_ = f.SetCellStr(logSheet, fmt.Sprintf("C%d", row), deref(e.UserAgent))
	}
	_ = f.SetColWidth(logSheet, "A", "B", 22)
	_ = f.SetColWidth(logSheet, "C", "C", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
