package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rahulkarwa/promptpoll/internal/export"
	"github.com/rahulkarwa/promptpoll/pkg/models"
)

// exportRun writes the run's CSV and XLSX artifacts to the export directory.
func (w *Worker) exportRun(ctx context.Context, job *models.Job) error {
	var payload models.ExportRunPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode export payload: %w", err)
	}

	rows, err := w.store.ExportRows(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("load export rows: %w", err)
	}

	if err := os.MkdirAll(w.exportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	csvPath := filepath.Join(w.exportDir, fmt.Sprintf("run-%s.csv", payload.RunID))
	if err := writeFile(csvPath, func(f *os.File) error {
		return export.WriteCSV(f, rows)
	}); err != nil {
		return err
	}

	xlsxPath := filepath.Join(w.exportDir, fmt.Sprintf("run-%s.xlsx", payload.RunID))
	if err := writeFile(xlsxPath, func(f *os.File) error {
		return export.WriteXLSX(f, rows)
	}); err != nil {
		return err
	}

	w.logger.Info("run exported", "run_id", payload.RunID, "rows", len(rows), "csv", csvPath, "xlsx", xlsxPath)
	return nil
}

func writeFile(path string, render func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
