package billing

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// InvoiceRecord is one row of the uploaded billing sheet after
// normalization. Records live inside a Session for the lifetime of the
// upload; registration rewrites CAE/CAEExpiry in place so later
// generations embed the assigned fiscal code.
type InvoiceRecord struct {
	Index         int             `json:"index"`
	IssueDate     string          `json:"issueDate"`
	ClientTaxID   string          `json:"clientTaxId"`
	ClientName    string          `json:"clientName"`
	ClientAddress string          `json:"clientAddress"`
	ContactName   string          `json:"contactName"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CAE           string          `json:"cae,omitempty"`
	CAEExpiry     string          `json:"caeExpiry,omitempty"`
}

// Identifier is what the operator sees in skip lists and progress lines:
// the invoice number when present, the sheet position otherwise.
func (r InvoiceRecord) Identifier() string {
	if r.InvoiceNumber != "" {
		return r.InvoiceNumber
	}
	return "fila " + strconv.Itoa(r.Index)
}

// IssuerProfile is the flat issuer block printed on every invoice and
// sent with every registration. Sourced from configuration, supplied by
// the caller on each request.
type IssuerProfile struct {
	LegalName     string `json:"legalName"`
	TaxID         string `json:"taxId"`
	Address       string `json:"address"`
	GrossIncomeID string `json:"grossIncomeId"`
	ActivityStart string `json:"activityStart"`
	VATCondition  string `json:"vatCondition"`
}

type SkipReason string

const (
	SkipEmptyInvoiceNumber  SkipReason = "EMPTY_INVOICE_NUMBER"
	SkipPendingIssuance     SkipReason = "PENDING_ISSUANCE"
	SkipZeroOrMissingAmount SkipReason = "ZERO_OR_MISSING_AMOUNT"
	SkipMissingClientName   SkipReason = "MISSING_CLIENT_NAME"
)

// SkippedRow pairs a row identifier with the first rule it failed.
type SkippedRow struct {
	Identifier string     `json:"identifier"`
	Reason     SkipReason `json:"reason"`
}

// Artifact is a generated invoice document owned by the session's
// artifact store. A regeneration for the same invoice number replaces
// the prior entry.
type Artifact struct {
	InvoiceNumber string
	Content       []byte
	Filename      string
}

type ItemStatus string

const (
	ItemGenerated   ItemStatus = "generated"
	ItemManualPrint ItemStatus = "manual_print"
	ItemFailed      ItemStatus = "failed"
)

// ItemResult is the per-row outcome of a batch generation.
type ItemResult struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	Status        ItemStatus `json:"status"`
	Filename      string     `json:"filename,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// BatchResult aggregates a full GenerateBatch run.
type BatchResult struct {
	Items       []ItemResult `json:"items"`
	Generated   int          `json:"generated"`
	ManualPrint int          `json:"manualPrint"`
	Failed      int          `json:"failed"`
}

type RegistrationStatus string

const (
	RegistrationOK            RegistrationStatus = "ok"
	RegistrationNotConfigured RegistrationStatus = "not_configured"
	RegistrationError         RegistrationStatus = "error"
)

// AuthorityResponse is the wire-shaped answer of the tax authority
// integration: a status, the ordered log of the attempt, and the issued
// authorization on success.
type AuthorityResponse struct {
	Status         RegistrationStatus `json:"status"`
	Log            []string           `json:"log"`
	CAE            string             `json:"cae,omitempty"`
	CAEExpiry      string             `json:"caeExpiry,omitempty"`
	SequenceNumber int64              `json:"sequenceNumber,omitempty"`
	Err            string             `json:"error,omitempty"`
}
