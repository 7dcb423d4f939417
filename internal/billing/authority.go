package billing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yourorg/facturador/internal/arca"
)

// AuthorityClient submits one invoice record to the tax authority and
// answers with the final status, the ordered transcript, and the
// authorization fields on success.
type AuthorityClient interface {
	Register(ctx context.Context, rec InvoiceRecord) AuthorityResponse
}

// rawXMLPreview caps how much of the authority's raw response lands in
// the transcript.
const rawXMLPreview = 1200

// NewARCAAuthority builds the production authority client. When the
// environment lacks the integration (missing CUIT, certificate, or key)
// it returns a client that reports not_configured instead of failing.
func NewARCAAuthority(cfg Config, logger *slog.Logger) AuthorityClient {
	if logger == nil {
		logger = slog.Default()
	}
	if reason := configurationProblem(cfg); reason != "" {
		return notConfiguredAuthority{reason: reason}
	}
	client := arca.New(arca.Options{
		CertPath:     cfg.ARCACertPath,
		KeyPath:      cfg.ARCAKeyPath,
		CUIT:         cfg.ARCACUIT,
		Homologation: cfg.ARCAHomologation,
		CacheDir:     cfg.ARCATokenCacheDir,
		Logger:       logger,
	})
	return &arcaAuthority{client: client}
}

func configurationProblem(cfg Config) string {
	if cfg.ARCACUIT == "" || cfg.ARCACertPath == "" || cfg.ARCAKeyPath == "" {
		return "ARCA no configurado en .env (falta ARCA_CUIT, ARCA_CERT_PATH o ARCA_KEY_PATH)"
	}
	if _, err := os.Stat(cfg.ARCACertPath); err != nil {
		return "Certificado no encontrado: " + cfg.ARCACertPath
	}
	if _, err := os.Stat(cfg.ARCAKeyPath); err != nil {
		return "Clave privada no encontrada: " + cfg.ARCAKeyPath
	}
	return ""
}

type notConfiguredAuthority struct {
	reason string
}

func (a notConfiguredAuthority) Register(_ context.Context, _ InvoiceRecord) AuthorityResponse {
	return AuthorityResponse{
		Status: RegistrationNotConfigured,
		Log: []string{
			"── Iniciando registro en ARCA ──────────────────",
			"Error de configuración: " + a.reason,
		},
		Err: a.reason,
	}
}

// arcaAuthority drives the three-step registration protocol and keeps a
// line-by-line account of each step for the operator console.
type arcaAuthority struct {
	client *arca.Client
}

func (a *arcaAuthority) Register(ctx context.Context, rec InvoiceRecord) AuthorityResponse {
	var lines []string
	log := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	log("── Iniciando registro en ARCA ──────────────────")
	log("Ambiente: %s", a.client.Environment())
	log("CUIT autenticante: %s", a.client.CUIT())
	log("Certificado: %s", filepath.Base(a.client.CertPath()))

	log("")
	log("── WSAA: obteniendo token ──────────────────────")
	tok, err := a.client.Token(ctx)
	if err != nil {
		log("WSAA falló: %v", err)
		return AuthorityResponse{Status: RegistrationError, Log: lines, Err: err.Error()}
	}
	log("Token OK  |  expira: %s", tok.Expiration)

	pv := arca.SalesPoint(rec.InvoiceNumber)
	log("")
	log("── WSFE: consultando último comprobante PV=%d ─", pv)
	last, err := a.client.LastInvoiceNumber(ctx, pv)
	if err != nil {
		log("FECompUltimoAutorizado falló: %v", err)
		return AuthorityResponse{Status: RegistrationError, Log: lines, Err: err.Error()}
	}
	next := last + 1
	log("Último emitido: %d  →  nuevo será: %d", last, next)

	log("")
	log("── WSFE: solicitando CAE ───────────────────────")
	log("   Fecha:   %s", rec.IssueDate)
	log("   Importe: %s", rec.Amount.StringFixed(2))
	log("   CUIT cliente: %s", rec.ClientTaxID)
	res, err := a.client.RequestCAE(ctx, arca.CAERequest{
		SalesPoint:     pv,
		SequenceNumber: next,
		IssueDate:      arca.WireDate(rec.IssueDate),
		Amount:         rec.Amount,
		ClientTaxID:    rec.ClientTaxID,
	})
	if err != nil {
		log("FECAESolicitar falló: %v", err)
		return AuthorityResponse{Status: RegistrationError, Log: lines, Err: err.Error()}
	}

	log("CAE obtenido: %s", res.CAE)
	log("   Vto CAE:  %s", res.CAEExpiry)
	log("   Cbte Nro: %d", res.SequenceNumber)
	if len(res.Observations) > 0 {
		log("")
		log("Observaciones AFIP:")
		for _, obs := range res.Observations {
			log("   %s", obs)
		}
	}
	log("")
	log("── XML respuesta completa ──────────────────────")
	raw := res.RawXML
	limit := len(raw)
	if limit > rawXMLPreview {
		limit = rawXMLPreview
	}
	for i := 0; i < limit; i += 120 {
		end := i + 120
		if end > limit {
			end = limit
		}
		log("%s", raw[i:end])
	}
	if len(raw) > rawXMLPreview {
		log("   ... (%d chars total, showing first %d)", len(raw), rawXMLPreview)
	}

	return AuthorityResponse{
		Status:         RegistrationOK,
		Log:            lines,
		CAE:            res.CAE,
		CAEExpiry:      res.CAEExpiry,
		SequenceNumber: res.SequenceNumber,
	}
}
