package arca

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const wsfeNS = "http://ar.gov.afip.dif.FEV1/"

// CAERequest are the invoice fields WSFE needs to authorize one type-C
// invoice for one sales point.
type CAERequest struct {
	SalesPoint     int
	SequenceNumber int64
	// IssueDate in AFIP wire format, YYYYMMDD.
	IssueDate   string
	Amount      decimal.Decimal
	ClientTaxID string
}

// CAEResult is a granted authorization. Observations are non-fatal
// remarks AFIP attaches to an approved request.
type CAEResult struct {
	CAE            string
	CAEExpiry      string
	SequenceNumber int64
	Result         string
	Observations   []string
	RawXML         string
}

func wsfeAuth(tok Token, cuit string) string {
	return `<Auth><Token>` + tok.Token + `</Token><Sign>` + tok.Sign + `</Sign><Cuit>` + cleanCUIT(cuit) + `</Cuit></Auth>`
}

// lastInvoiceNumber queries FECompUltimoAutorizado for a sales point.
// Returns 0 when no invoices have been issued yet.
func lastInvoiceNumber(ctx context.Context, httpc *http.Client, endpoint string, tok Token, cuit string, salesPoint int) (int64, error) {
	body := `<FECompUltimoAutorizado xmlns="` + wsfeNS + `">` +
		wsfeAuth(tok, cuit) +
		`<PtoVta>` + strconv.Itoa(salesPoint) + `</PtoVta>` +
		`<CbteTipo>` + strconv.Itoa(invoiceTypeC) + `</CbteTipo>` +
		`</FECompUltimoAutorizado>`

	raw, err := soapCall(ctx, httpc, endpoint, wsfeNS+"FECompUltimoAutorizado", body)
	if err != nil {
		return 0, err
	}
	root, err := parseXML(raw)
	if err != nil {
		return 0, err
	}
	if err := checkFault(root); err != nil {
		return 0, err
	}
	nro := root.findText("CbteNro")
	n, err := strconv.ParseInt(nro, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// requestCAE calls FECAESolicitar for a single type-C service invoice.
// Monotributo invoices carry no VAT breakdown: the net amount equals
// the total and every tax bucket is zero.
func requestCAE(ctx context.Context, httpc *http.Client, endpoint string, tok Token, cuit string, req CAERequest) (CAEResult, error) {
	amount := req.Amount.StringFixed(2)
	seq := strconv.FormatInt(req.SequenceNumber, 10)
	body := `<FECAESolicitar xmlns="` + wsfeNS + `">` +
		wsfeAuth(tok, cuit) +
		`<FeCAEReq>` +
		`<FeCabReq>` +
		`<CantReg>1</CantReg>` +
		`<PtoVta>` + strconv.Itoa(req.SalesPoint) + `</PtoVta>` +
		`<CbteTipo>` + strconv.Itoa(invoiceTypeC) + `</CbteTipo>` +
		`</FeCabReq>` +
		`<FeDetReq>` +
		`<FECAEDetRequest>` +
		`<Concepto>` + strconv.Itoa(conceptServices) + `</Concepto>` +
		`<DocTipo>80</DocTipo>` +
		`<DocNro>` + cleanCUIT(req.ClientTaxID) + `</DocNro>` +
		`<CbteDesde>` + seq + `</CbteDesde>` +
		`<CbteHasta>` + seq + `</CbteHasta>` +
		`<CbteFch>` + req.IssueDate + `</CbteFch>` +
		`<ImpTotal>` + amount + `</ImpTotal>` +
		`<ImpTotConc>0.00</ImpTotConc>` +
		`<ImpNeto>` + amount + `</ImpNeto>` +
		`<ImpOpEx>0.00</ImpOpEx>` +
		`<ImpIVA>0.00</ImpIVA>` +
		`<ImpTrib>0.00</ImpTrib>` +
		`<FchServDesde>` + req.IssueDate + `</FchServDesde>` +
		`<FchServHasta>` + req.IssueDate + `</FchServHasta>` +
		`<FchVtoPago>` + req.IssueDate + `</FchVtoPago>` +
		`<MonId>` + currencyARS + `</MonId>` +
		`<MonCotiz>1</MonCotiz>` +
		`<CondicionIVAReceptorId>5</CondicionIVAReceptorId>` +
		`</FECAEDetRequest>` +
		`</FeDetReq>` +
		`</FeCAEReq>` +
		`</FECAESolicitar>`

	raw, err := soapCall(ctx, httpc, endpoint, wsfeNS+"FECAESolicitar", body)
	if err != nil {
		return CAEResult{}, err
	}
	return parseCAEResponse(raw, req.SequenceNumber)
}

// parseCAEResponse extracts the authorization or aggregates a rejection
// into one error.
func parseCAEResponse(raw string, sequenceNumber int64) (CAEResult, error) {
	root, err := parseXML(raw)
	if err != nil {
		return CAEResult{}, err
	}
	if err := checkFault(root); err != nil {
		return CAEResult{}, err
	}

	result := root.findText("Resultado")
	cae := root.findText("CAE")
	caeVto := root.findText("CAEFchVto")

	var obs []string
	for _, node := range root.findAll("Obs") {
		if msg := node.findText("Msg"); msg != "" {
			obs = append(obs, fmt.Sprintf("[%s] %s", node.findText("Code"), msg))
		}
	}

	if result == "R" {
		lines := []string{"wsfe: CAE rejected."}
		var errMsgs, obsMsgs []string
		for _, node := range root.findAll("Err") {
			if msg := node.findText("Msg"); msg != "" {
				errMsgs = append(errMsgs, fmt.Sprintf("  [%s] %s", node.findText("Code"), msg))
			}
		}
		for _, node := range root.findAll("Obs") {
			if msg := node.findText("Msg"); msg != "" {
				obsMsgs = append(obsMsgs, fmt.Sprintf("  [%s] %s", node.findText("Code"), msg))
			}
		}
		if len(errMsgs) > 0 {
			lines = append(lines, "Errors:")
			lines = append(lines, errMsgs...)
		}
		if len(obsMsgs) > 0 {
			lines = append(lines, "Observations:")
			lines = append(lines, obsMsgs...)
		}
		if len(errMsgs) == 0 && len(obsMsgs) == 0 {
			lines = append(lines, raw)
		}
		return CAEResult{}, fmt.Errorf("%s", strings.Join(lines, "\n"))
	}

	if cae == "" {
		snippet := raw
		if len(snippet) > 800 {
			snippet = snippet[:800]
		}
		return CAEResult{}, fmt.Errorf("wsfe: CAE not returned: %s", snippet)
	}

	return CAEResult{
		CAE:            cae,
		CAEExpiry:      formatWireDate(caeVto),
		SequenceNumber: sequenceNumber,
		Result:         result,
		Observations:   obs,
		RawXML:         raw,
	}, nil
}

// formatWireDate turns AFIP's YYYYMMDD into DD/MM/YYYY for display.
func formatWireDate(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[6:8] + "/" + s[4:6] + "/" + s[0:4]
}
