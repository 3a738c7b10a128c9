package mentormatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/mentormatch/store"
)

var exportHeader = []any{
	"subject_id", "subject", "object_id", "object", "rank", "score",
	"approved", "is_primary", "source", "reason", "updated_at",
}

// ExportCandidates writes the live candidate edges of a direction as an
// XLSX workbook with one sheet named after the direction.
func (e *engine) ExportCandidates(ctx context.Context, dir store.Direction, w io.Writer) error {
	edges, err := e.store.AllCandidates(ctx, dir, false)
	if err != nil {
		return err
	}

	var subjectIDs, objectIDs []int64
	for _, ed := range edges {
		subjectIDs = append(subjectIDs, ed.SubjectID)
		objectIDs = append(objectIDs, ed.ObjectID)
	}
	subjects, err := e.store.Names(ctx, dir.SubjectKind, subjectIDs)
	if err != nil {
		return err
	}
	objects, err := e.store.Names(ctx, dir.ObjectKind, objectIDs)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := dir.Name
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, ed := range edges {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			ed.SubjectID, subjects[ed.SubjectID], ed.ObjectID, objects[ed.ObjectID],
			ed.Rank, ed.Score, ed.Approved, ed.IsPrimary, ed.Source, ed.Reason, ed.UpdatedAt,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	slog.Info("candidates exported", "direction", dir.Name, "rows", len(edges))
	return nil
}
