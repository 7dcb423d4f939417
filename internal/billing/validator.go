package billing

import "strings"

// pendingSentinel marks rows whose invoice number has not been issued
// yet ("EMITIR ..."); they can never be generated.
const pendingSentinel = "EMITIR"

// Classification is the outcome of the eligibility rules for one row.
type Classification struct {
	Eligible bool
	Reason   SkipReason
}

// Classify applies the eligibility rules in fixed order, first match
// wins. It is pure: skips are data, never errors.
func Classify(rec InvoiceRecord) Classification {
	comp := strings.ToUpper(strings.TrimSpace(rec.InvoiceNumber))
	switch {
	case comp == "":
		return Classification{Reason: SkipEmptyInvoiceNumber}
	case strings.HasPrefix(comp, pendingSentinel):
		return Classification{Reason: SkipPendingIssuance}
	// A negative amount would be a credit note, not an invoice; it is
	// skipped together with zero and unparsable cells.
	case rec.Amount.IsZero() || rec.Amount.IsNegative():
		return Classification{Reason: SkipZeroOrMissingAmount}
	case rec.ClientName == "":
		return Classification{Reason: SkipMissingClientName}
	}
	return Classification{Eligible: true}
}

// Partition splits the working set into eligible records and skip
// detail in a single pass, preserving sheet order.
func Partition(records []InvoiceRecord) ([]InvoiceRecord, []SkippedRow) {
	eligible := make([]InvoiceRecord, 0, len(records))
	skipped := make([]SkippedRow, 0)
	for _, rec := range records {
		c := Classify(rec)
		if c.Eligible {
			eligible = append(eligible, rec)
			continue
		}
		skipped = append(skipped, SkippedRow{Identifier: rec.Identifier(), Reason: c.Reason})
	}
	return eligible, skipped
}
