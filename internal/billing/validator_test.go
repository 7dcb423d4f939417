package billing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassify_EmptyInvoiceNumber(t *testing.T) {
	rec := sampleRecord()
	rec.InvoiceNumber = ""
	c := Classify(rec)
	if c.Eligible {
		t.Fatalf("expected skip, got eligible")
	}
	if c.Reason != SkipEmptyInvoiceNumber {
		t.Fatalf("expected %s, got %s", SkipEmptyInvoiceNumber, c.Reason)
	}
}

func TestClassify_PendingSentinelWinsOverOtherFields(t *testing.T) {
	for _, comp := range []string{"EMITIR", "emitir (pendiente)", "Emitir C00002"} {
		rec := sampleRecord()
		rec.InvoiceNumber = comp
		c := Classify(rec)
		if c.Reason != SkipPendingIssuance {
			t.Fatalf("invoice number %q: expected %s, got %s", comp, SkipPendingIssuance, c.Reason)
		}
	}
}

func TestClassify_ZeroAmount(t *testing.T) {
	rec := sampleRecord()
	rec.Amount = decimal.Zero
	if c := Classify(rec); c.Reason != SkipZeroOrMissingAmount {
		t.Fatalf("expected %s, got %+v", SkipZeroOrMissingAmount, c)
	}
}

func TestClassify_NegativeAmount(t *testing.T) {
	rec := sampleRecord()
	rec.Amount = decimal.NewFromFloat(-137520.50)
	if c := Classify(rec); c.Reason != SkipZeroOrMissingAmount {
		t.Fatalf("expected %s, got %+v", SkipZeroOrMissingAmount, c)
	}
}

func TestClassify_MissingClientName(t *testing.T) {
	rec := sampleRecord()
	rec.ClientName = ""
	if c := Classify(rec); c.Reason != SkipMissingClientName {
		t.Fatalf("expected %s, got %+v", SkipMissingClientName, c)
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	// A row failing several rules reports the first match only.
	rec := sampleRecord()
	rec.InvoiceNumber = ""
	rec.Amount = decimal.Zero
	rec.ClientName = ""
	if c := Classify(rec); c.Reason != SkipEmptyInvoiceNumber {
		t.Fatalf("expected first rule to win, got %s", c.Reason)
	}
}

func TestPartition_MixedSheet(t *testing.T) {
	records := []InvoiceRecord{
		{Index: 0, InvoiceNumber: "", Amount: decimal.NewFromInt(100), ClientName: "X"},
		{Index: 1, InvoiceNumber: "INV-1", Amount: decimal.Zero, ClientName: "Y"},
		{Index: 2, InvoiceNumber: "INV-2", Amount: decimal.NewFromInt(50), ClientName: "Acme"},
	}
	eligible, skipped := Partition(records)
	if len(eligible) != 1 || eligible[0].InvoiceNumber != "INV-2" {
		t.Fatalf("expected eligible set [INV-2], got %+v", eligible)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped rows, got %+v", skipped)
	}
	if skipped[0].Reason != SkipEmptyInvoiceNumber || skipped[1].Reason != SkipZeroOrMissingAmount {
		t.Fatalf("unexpected skip reasons %+v", skipped)
	}
	if skipped[0].Identifier != "fila 0" {
		t.Fatalf("rows without invoice number identify by position, got %q", skipped[0].Identifier)
	}
	if skipped[1].Identifier != "INV-1" {
		t.Fatalf("expected INV-1 identifier, got %q", skipped[1].Identifier)
	}
}

func sampleRecord() InvoiceRecord {
	return InvoiceRecord{
		Index:         4,
		IssueDate:     "16/02/2026",
		ClientTaxID:   "33-54445107-9",
		ClientName:    "Acme S.A.",
		ClientAddress: "Av. Corrientes 1234",
		Description:   "Servicios profesionales",
		Amount:        decimal.NewFromFloat(137520.50),
		InvoiceNumber: "C00002-00000144",
	}
}
