// Package export renders movement listings as spreadsheets.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/farmacia/farmacia-backend/internal/inventory/domain"
	"github.com/farmacia/farmacia-backend/pkg/i18n"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of an XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const timestampFormat = "2006-01-02 15:04:05"

var headerKeys = []string{
	"export.date",
	"export.type",
	"export.medication",
	"export.batch",
	"export.quantity",
	"export.actor",
	"export.role",
	"export.notes",
}

// Movements writes rows as a one-sheet workbook. Headers and movement types
// are translated to the locale carried by ctx.
func Movements(ctx context.Context, w io.Writer, rows []domain.MovementView) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := i18n.TFromContext(ctx, "export.sheet")
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(headerKeys))
	for i, key := range headerKeys {
		header[i] = i18n.TFromContext(ctx, key)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headerKeys))
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	inbound := i18n.TFromContext(ctx, "export.inbound")
	outbound := i18n.TFromContext(ctx, "export.outbound")

	for i, m := range rows {
		typ := inbound
		if m.Type == domain.MovementOutbound {
			typ = outbound
		}

		row := []interface{}{
			m.OccurredAt.UTC().Format(timestampFormat),
			typ,
			m.MedicationName,
			deref(m.BatchCode),
			m.Quantity,
			actorLabel(m),
			deref(m.ActorRole),
			deref(m.Notes),
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 20); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "C", "C", 30); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	return f.Write(w)
}

// actorLabel falls back to the raw ID for actors missing from the user cache.
func actorLabel(m domain.MovementView) string {
	if m.ActorName != nil && *m.ActorName != "" {
		return *m.ActorName
	}
	return m.ActorID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
