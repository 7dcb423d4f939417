package billing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

// RenderRequest is the contract with the render backend: one record,
// the issuer block, and the copy label printed in the header.
type RenderRequest struct {
	Record    InvoiceRecord
	Issuer    IssuerProfile
	CopyLabel string
}

type RenderKind string

const (
	// RenderDocument means a binary invoice document was produced.
	RenderDocument RenderKind = "document"
	// RenderFallback means the backend could not produce a binary
	// document and returned print-oriented markup instead. This is a
	// legitimate outcome, not an error.
	RenderFallback RenderKind = "fallback"
)

// RenderResult is a tagged union decided once at the client boundary;
// callers branch on Kind and never re-inspect content types.
type RenderResult struct {
	Kind     RenderKind
	Document []byte
	Markup   string
}

// RenderClient turns an invoice record plus issuer profile into a
// formatted document or a markup fallback.
type RenderClient interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// ChromiumRenderer builds the invoice HTML and prints it to PDF through
// headless Chromium. When Chromium is unavailable or times out it
// degrades to the markup fallback.
type ChromiumRenderer struct {
	cfg    Config
	logger *slog.Logger
}

func NewChromiumRenderer(cfg Config, logger *slog.Logger) *ChromiumRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromiumRenderer{cfg: cfg, logger: logger}
}

func (r *ChromiumRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	html, err := BuildInvoiceHTML(req, loadLogoTag(r.cfg.LogoPath, r.logger))
	if err != nil {
		return RenderResult{}, fmt.Errorf("build invoice html: %w", err)
	}

	pdf, err := r.printToPDF(ctx, html)
	if err != nil {
		r.logger.Warn("pdf backend unavailable, falling back to markup",
			"invoiceNumber", req.Record.InvoiceNumber, "error", err)
		return RenderResult{Kind: RenderFallback, Markup: html}, nil
	}
	return RenderResult{Kind: RenderDocument, Document: pdf}, nil
}

func (r *ChromiumRenderer) printToPDF(ctx context.Context, html string) ([]byte, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.ChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.ChromiumPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.RenderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdfBuf []byte
	dataURL := "data:text/html," + url.PathEscape(html)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(dataURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// A4 portrait, no margins, to match the print layout.
			buf, _, perr := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				Do(ctx)
			if perr == nil {
				pdfBuf = buf
			}
			return perr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdfBuf, nil
}

var (
	invoiceNumberRe = regexp.MustCompile(`^[Cc](\d{5})-(\d{8})`)
	dniRe           = regexp.MustCompile(`^\d{2}-(\d{7,8})-\d`)
	unsafeNameRe    = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)
)

// splitInvoiceNumber extracts (sales point, sequence) from a number
// like "C00002-00000144".
func splitInvoiceNumber(comp string) (string, string) {
	if m := invoiceNumberRe.FindStringSubmatch(comp); m != nil {
		return m[1], m[2]
	}
	return "00002", "00000000"
}

// extractDNI pulls the DNI digits out of a CUIT like "33-54445107-9".
func extractDNI(cuit string) string {
	if m := dniRe.FindStringSubmatch(cuit); m != nil {
		return m[1]
	}
	return ""
}

// ArtifactFilename derives the deterministic, collision-free name of a
// generated document from its invoice number.
func ArtifactFilename(invoiceNumber string) string {
	safe := unsafeNameRe.ReplaceAllString(invoiceNumber, "_")
	if safe == "" {
		safe = "factura"
	}
	return "factura_" + safe + ".pdf"
}

// formatAmountAR renders an amount in Argentine notation: 1.234.567,89.
func formatAmountAR(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, fracPart, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(ch)
	}
	out := b.String() + "," + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// loadLogoTag returns an <img> tag with the logo embedded as base64 so
// the markup needs no file access, or "" when the logo is missing.
func loadLogoTag(path string, logger *slog.Logger) template.HTML {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("logo not found, skipping", "path", path)
		return ""
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	mime := "image/png"
	if ext != "" && ext != "png" {
		mime = "image/" + ext
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return template.HTML(fmt.Sprintf(`<img class="inv-logo" src="data:%s;base64,%s" alt="Logo">`, mime, encoded))
}

type invoicePage struct {
	CopyLabel     string
	LogoTag       template.HTML
	Issuer        IssuerProfile
	SalesPoint    string
	Sequence      string
	IssueDate     string
	Expiry        string
	ClientName    string
	ClientTaxID   string
	ClientAddress string
	DNI           string
	Description   string
	Amount        string
	CAERow        string
	CAEExpiry     string
}

// BuildInvoiceHTML renders the Factura C layout for one record. The
// same markup feeds both the PDF backend and the print fallback.
func BuildInvoiceHTML(req RenderRequest, logoTag template.HTML) (string, error) {
	rec := req.Record
	pv, seq := splitInvoiceNumber(rec.InvoiceNumber)

	copyLabel := req.CopyLabel
	if copyLabel == "" {
		copyLabel = "ORIGINAL"
	}
	expiry := rec.CAEExpiry
	if expiry == "" {
		expiry = rec.IssueDate
	}
	caeRow := rec.CAE
	if caeRow == "" {
		caeRow = "Sin CAE registrado"
	}

	data := invoicePage{
		CopyLabel:     copyLabel,
		LogoTag:       logoTag,
		Issuer:        req.Issuer,
		SalesPoint:    pv,
		Sequence:      seq,
		IssueDate:     rec.IssueDate,
		Expiry:        expiry,
		ClientName:    rec.ClientName,
		ClientTaxID:   rec.ClientTaxID,
		ClientAddress: rec.ClientAddress,
		DNI:           extractDNI(rec.ClientTaxID),
		Description:   rec.Description,
		Amount:        formatAmountAR(rec.Amount),
		CAERow:        caeRow,
		CAEExpiry:     expiry,
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var invoiceTemplate = template.Must(template.New("factura").Parse(invoiceTemplateHTML))

var invoiceTemplateHTML = `
<!doctype html>
<html lang="es">
<head>
  <meta charset="utf-8" />
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #1e293b; font-size: 13px; }
    .inv-copy { text-align: center; font-weight: 700; letter-spacing: 2px; margin-bottom: 8px; }
    .inv-head { display: flex; justify-content: space-between; border: 1px solid #334155; padding: 12px; }
    .inv-logo { max-height: 64px; }
    .inv-type { font-size: 28px; font-weight: 700; text-align: center; border: 1px solid #334155; padding: 4px 12px; }
    .inv-type small { display: block; font-size: 10px; font-weight: 400; }
    .block { border: 1px solid #334155; border-top: none; padding: 10px 12px; }
    .f-label { color: #475569; font-size: 11px; margin-right: 4px; }
    .f-value { margin-right: 16px; }
    table { width: 100%; border-collapse: collapse; margin-top: 2px; }
    th, td { padding: 8px; border-bottom: 1px solid #cbd5e1; text-align: left; }
    th { background: #f1f5f9; }
    .amount { text-align: right; }
    .total-row { display: flex; justify-content: flex-end; font-size: 16px; font-weight: 700; padding: 10px 12px; }
    .cae { display: flex; justify-content: space-between; font-size: 12px; }
  </style>
</head>
<body>
  <div class="inv-copy">{{.CopyLabel}}</div>
  <div class="inv-head">
    <div>
      {{.LogoTag}}
      <div><strong>{{.Issuer.LegalName}}</strong></div>
      <div>{{.Issuer.Address}}</div>
      <div>{{.Issuer.VATCondition}}</div>
    </div>
    <div class="inv-type">C<small>COD. 11</small></div>
    <div>
      <div><span class="f-label">FACTURA</span></div>
      <div><span class="f-label">Punto de Venta:</span><span class="f-value">{{.SalesPoint}}</span></div>
      <div><span class="f-label">Comp. Nro:</span><span class="f-value">{{.Sequence}}</span></div>
      <div><span class="f-label">Fecha de Emisión:</span><span class="f-value">{{.IssueDate}}</span></div>
      <div><span class="f-label">CUIT:</span><span class="f-value">{{.Issuer.TaxID}}</span></div>
      <div><span class="f-label">Ingresos Brutos:</span><span class="f-value">{{.Issuer.GrossIncomeID}}</span></div>
      <div><span class="f-label">Inicio de Actividades:</span><span class="f-value">{{.Issuer.ActivityStart}}</span></div>
    </div>
  </div>
  <div class="block">
    <span class="f-label">CUIT</span><span class="f-value">{{.ClientTaxID}}</span>
    {{if .DNI}}<span class="f-label">DNI</span><span class="f-value">{{.DNI}}</span>{{end}}
    <span class="f-label">Razón Social</span><span class="f-value">{{.ClientName}}</span>
    <br/>
    <span class="f-label">Domicilio</span><span class="f-value">{{.ClientAddress}}</span>
  </div>
  <div class="block">
    <table>
      <thead>
        <tr><th>Descripción</th><th class="amount">Importe</th></tr>
      </thead>
      <tbody>
        <tr><td>{{.Description}}</td><td class="amount">$ {{.Amount}}</td></tr>
      </tbody>
    </table>
  </div>
  <div class="block total-row">Importe Total: $ {{.Amount}}</div>
  <div class="block cae">
    <div><span class="f-label">CAE N°:</span><span class="f-value">{{.CAERow}}</span></div>
    <div><span class="f-label">Fecha de Vto. de CAE:</span><span class="f-value">{{.CAEExpiry}}</span></div>
  </div>
</body>
</html>
`
