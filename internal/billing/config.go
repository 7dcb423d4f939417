package billing

import (
	"os"
	"strconv"
	"time"
)

// Config holds environment-driven settings for the issuer profile, the
// render backend, and the ARCA integration. The .env file is loaded by
// main before this runs.
type Config struct {
	Port string

	IssuerLegalName     string
	IssuerTaxID         string
	IssuerAddress       string
	IssuerGrossIncomeID string
	IssuerActivityStart string
	IssuerVATCode       string

	ChromiumPath  string
	RenderTimeout time.Duration
	LogoPath      string

	ARCACUIT          string
	ARCACertPath      string
	ARCAKeyPath       string
	ARCAHomologation  bool
	ARCATokenCacheDir string

	RegistrationRateLimit int
}

// Valid issuer VAT condition codes and their printed labels.
var vatConditionLabels = map[string]string{
	"RESP_MONOTR": "Responsable Monotributo",
	"RESP_INSCR":  "Responsable Inscripto",
}

func LoadConfig() Config {
	return Config{
		Port: getenv("PORT", "8080"),

		IssuerLegalName:     getenv("EMISOR_RAZON_SOCIAL", ""),
		IssuerTaxID:         getenv("EMISOR_CUIT", ""),
		IssuerAddress:       getenv("EMISOR_DOMICILIO", ""),
		IssuerGrossIncomeID: getenv("EMISOR_IB", ""),
		IssuerActivityStart: getenv("EMISOR_INICIO_ACT", ""),
		IssuerVATCode:       getenv("EMISOR_COND_IVA", "RESP_MONOTR"),

		ChromiumPath:  getenv("RENDER_CHROMIUM_PATH", ""),
		RenderTimeout: getDuration("RENDER_TIMEOUT", 30*time.Second),
		LogoPath:      getenv("RENDER_LOGO_PATH", "static/img/logo_factura.png"),

		ARCACUIT:          getenv("ARCA_CUIT", ""),
		ARCACertPath:      getenv("ARCA_CERT_PATH", ""),
		ARCAKeyPath:       getenv("ARCA_KEY_PATH", ""),
		ARCAHomologation:  getBool("ARCA_HOMO", true),
		ARCATokenCacheDir: getenv("ARCA_TOKEN_CACHE_DIR", ".token_cache"),

		RegistrationRateLimit: getInt("REGISTRATION_RATE_LIMIT", 10),
	}
}

// Issuer assembles the issuer profile sent with every generation and
// registration request.
func (c Config) Issuer() IssuerProfile {
	label, ok := vatConditionLabels[c.IssuerVATCode]
	if !ok {
		label = vatConditionLabels["RESP_MONOTR"]
	}
	return IssuerProfile{
		LegalName:     c.IssuerLegalName,
		TaxID:         c.IssuerTaxID,
		Address:       c.IssuerAddress,
		GrossIncomeID: c.IssuerGrossIncomeID,
		ActivityStart: c.IssuerActivityStart,
		VATCondition:  label,
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
