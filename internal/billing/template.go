package billing

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// SampleWorkbook builds the downloadable model sheet: one example row
// per state an operator will encounter, in the documented column order.
func SampleWorkbook() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"16/02/2026", "33-54445107-9", "Acme S.A.", "Av. Corrientes 1234, CABA", "Juan Pérez", "Servicios profesionales febrero", 137520.50, "C00002-00000144", "", ""},
		{"20/02/2026", "30-71234567-8", "Distribuidora Sur SRL", "Mitre 456, Rosario", "Ana Gómez", "Mantenimiento mensual", 98400.00, "EMITIR (pendiente)", "", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write sample row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
