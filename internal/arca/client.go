package arca

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Options configures the client. The CUIT belongs to the certificate
// holder, which may differ from the commercial issuer printed on the
// invoice.
type Options struct {
	CertPath     string
	KeyPath      string
	CUIT         string
	Homologation bool
	CacheDir     string
	Logger       *slog.Logger
}

// Client is the high-level facade over WSAA and WSFE with two-layer
// token caching (memory, then disk).
type Client struct {
	certPath     string
	keyPath      string
	cuit         string
	homologation bool
	httpc        *http.Client
	cache        *tokenCache
	logger       *slog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = ".token_cache"
	}
	return &Client{
		certPath:     opts.CertPath,
		keyPath:      opts.KeyPath,
		cuit:         cleanCUIT(opts.CUIT),
		homologation: opts.Homologation,
		httpc:        newHTTPClient(opts.Homologation),
		cache:        newTokenCache(cacheDir, logger),
		logger:       logger,
	}
}

// CUIT returns the authenticating CUIT (dashes stripped).
func (c *Client) CUIT() string { return c.cuit }

// CertPath returns the configured certificate path.
func (c *Client) CertPath() string { return c.certPath }

// Environment names the target environment for transcripts.
func (c *Client) Environment() string {
	if c.homologation {
		return "HOMOLOGACIÓN"
	}
	return "PRODUCCIÓN"
}

// Token returns a valid token, resolving memory, then disk, then a new
// WSAA authentication.
func (c *Client) Token(ctx context.Context) (Token, error) {
	if tok, ok := c.cache.get(c.cuit, c.homologation); ok {
		return tok, nil
	}

	c.logger.Info("wsaa: requesting new token", "environment", c.Environment())
	tok, err := requestToken(ctx, c.httpc, wsaaEndpoints[c.homologation], c.certPath, c.keyPath)
	if err != nil {
		if strings.Contains(err.Error(), "TA valido") {
			// AFIP reports an active ticket we do not hold locally;
			// happens when the process died before the cache was
			// written. Resolves itself when the ticket expires.
			c.cache.drop(c.cuit, c.homologation)
			return Token{}, fmt.Errorf(
				"afip reports an active token not present in the local cache; "+
					"wait for it to expire (~12h after the last authentication) and retry: %w", err)
		}
		return Token{}, err
	}
	c.cache.put(c.cuit, c.homologation, tok)
	return tok, nil
}

// LastInvoiceNumber queries the last authorized invoice number for a
// sales point. Zero means nothing was issued there yet.
func (c *Client) LastInvoiceNumber(ctx context.Context, salesPoint int) (int64, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return 0, err
	}
	n, err := lastInvoiceNumber(ctx, c.httpc, wsfeEndpoints[c.homologation], tok, c.cuit, salesPoint)
	if err != nil {
		return 0, err
	}
	c.logger.Info("wsfe: last invoice", "salesPoint", salesPoint, "number", n)
	return n, nil
}

// RequestCAE authorizes one invoice and returns the granted CAE.
func (c *Client) RequestCAE(ctx context.Context, req CAERequest) (CAEResult, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return CAEResult{}, err
	}
	c.logger.Info("wsfe: requesting CAE",
		"salesPoint", req.SalesPoint,
		"sequenceNumber", req.SequenceNumber,
		"amount", req.Amount.StringFixed(2),
		"clientTaxId", cleanCUIT(req.ClientTaxID),
	)
	res, err := requestCAE(ctx, c.httpc, wsfeEndpoints[c.homologation], tok, c.cuit, req)
	if err != nil {
		return CAEResult{}, err
	}
	c.logger.Info("wsfe: CAE granted", "cae", res.CAE, "expires", res.CAEExpiry)
	return res, nil
}

var salesPointRe = regexp.MustCompile(`^[Cc](\d+)-`)

// SalesPoint derives the sales point from an invoice number like
// "C00002-00000144". Defaults to 2 when the prefix is absent.
func SalesPoint(invoiceNumber string) int {
	if m := salesPointRe.FindStringSubmatch(invoiceNumber); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 2
}

// WireDate converts a display date DD/MM/YYYY to AFIP's YYYYMMDD.
// Anything unparsable falls back to today.
func WireDate(display string) string {
	parts := strings.Split(display, "/")
	if len(parts) == 3 && len(parts[2]) == 4 {
		return parts[2] + parts[1] + parts[0]
	}
	return time.Now().Format("20060102")
}
