package billing

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Sheet column layout (no header row):
//
//	0: issue date
//	1: client CUIT
//	2: client business name
//	3: client address
//	4: contact name
//	5: service description
//	6: amount
//	7: invoice number (e.g. C00002-00000144)
//	8: CAE (filled after registration)
//	9: CAE expiration date
const (
	colIssueDate = iota
	colClientTaxID
	colClientName
	colClientAddress
	colContactName
	colDescription
	colAmount
	colInvoiceNumber
	colCAE
	colCAEExpiry
)

var (
	isoDateRe      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	trailingZeroRe = regexp.MustCompile(`\.0+$`)
	expiryLabelRe  = regexp.MustCompile(`(?i)VENCIMIENTO\s*`)
)

// ParseWorkbook reads the first sheet of an xlsx into the ordered
// working set. A row is included only when its first cell is present;
// everything else is a trailing blank row and dropped silently.
func ParseWorkbook(r io.Reader) ([]InvoiceRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	records := make([]InvoiceRecord, 0, len(rows))
	for i, row := range rows {
		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}
		first := cell(colIssueDate)
		if first == "" {
			continue
		}
		records = append(records, InvoiceRecord{
			Index:         i,
			IssueDate:     normalizeDate(first),
			ClientTaxID:   cell(colClientTaxID),
			ClientName:    cell(colClientName),
			ClientAddress: cell(colClientAddress),
			ContactName:   cell(colContactName),
			Description:   cell(colDescription),
			Amount:        parseAmount(cell(colAmount)),
			InvoiceNumber: cell(colInvoiceNumber),
			CAE:           cleanCAE(cell(colCAE)),
			CAEExpiry:     cleanExpiry(cell(colCAEExpiry)),
		})
	}
	return records, nil
}

// normalizeDate turns cell values into DD/MM/YYYY. ISO-prefixed strings
// are reordered; date-typed cells come out of excelize rendered with the
// US short format (m/d/yy, numFmt 14/22) and are reparsed. A trailing
// time component is dropped either way.
func normalizeDate(s string) string {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return m[3] + "/" + m[2] + "/" + m[1]
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	// DD/MM/YYYY text never matches here: a two-digit year is the tell
	// of excelize's default date rendering.
	if t, err := time.Parse("1/2/06", s); err == nil {
		return t.Format("02/01/2006")
	}
	return s
}

// parseAmount accepts a decimal comma or dot; unparsable cells default
// to zero, which validation later rejects.
func parseAmount(s string) decimal.Decimal {
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// cleanCAE strips the ".0" artifacts that spreadsheet tools append to
// numeric-looking authorization codes.
func cleanCAE(s string) string {
	return strings.TrimSpace(trailingZeroRe.ReplaceAllString(s, ""))
}

// cleanExpiry removes the boilerplate "VENCIMIENTO" label some sheets
// carry in the expiry column.
func cleanExpiry(s string) string {
	return strings.TrimSpace(expiryLabelRe.ReplaceAllString(s, ""))
}
