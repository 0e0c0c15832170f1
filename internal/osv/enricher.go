package osv

import (
	"context"
	"log/slog"
	"strings"
)

// Enricher looks up additional aliases and CVSS data for CPE-based matches
// found by the local correlation engine (internal/dispatch's CVE variant).
// It is a supplemental pass, not a replacement for match-node/affected-
// products correlation: a failed or empty lookup never blocks or alters the
// underlying result, it only adds to its description when something useful
// comes back.
type Enricher struct {
	client *Client
	log    *slog.Logger
}

func NewEnricher(log *slog.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{client: New(), log: log}
}

// Enrichment is what a successful lookup adds to a correlation result's
// description; the zero value means "nothing found".
type Enrichment struct {
	Aliases    []string
	CVSSVector string
}

// Lookup queries OSV.dev for vendor/product/version, guessing an ecosystem
// from the vendor:product pair. It returns a zero Enrichment (not an error)
// when the ecosystem can't be guessed, the API is unreachable, or nothing
// matches — correlation must never fail because the network did.
func (e *Enricher) Lookup(ctx context.Context, vendor, product, version string) Enrichment {
	ecosystem := guessEcosystem(vendor, product)
	if ecosystem == "" || version == "" {
		return Enrichment{}
	}

	results, err := e.client.BatchQuery(ctx, []PackageQuery{{
		Package: PackageID{Name: product, Ecosystem: ecosystem},
		Version: version,
	}})
	if err != nil {
		e.log.Warn("osv enrichment lookup failed", "vendor", vendor, "product", product, "error", err)
		return Enrichment{}
	}
	if len(results) == 0 || len(results[0].Vulns) == 0 {
		return Enrichment{}
	}

	vuln := results[0].Vulns[0]
	return Enrichment{
		Aliases:    vuln.Aliases,
		CVSSVector: primaryCVSSVector(vuln.Severity),
	}
}

// guessEcosystem maps a handful of well-known CPE vendor/product pairs to
// their OSV ecosystem; anything not recognised returns "" so Lookup skips
// the call rather than sending OSV a guaranteed-empty query.
func guessEcosystem(vendor, product string) string {
	v, p := strings.ToLower(vendor), strings.ToLower(product)
	switch {
	case v == "golang" || p == "go":
		return "Go"
	case v == "npmjs" || v == "nodejs":
		return "npm"
	case v == "python" || v == "python_software_foundation" || v == "pypa":
		return "PyPI"
	case v == "apache" && (p == "maven" || strings.Contains(p, "commons")):
		return "Maven"
	case v == "rust-lang" || v == "crates":
		return "crates.io"
	case v == "rubygems" || v == "ruby-lang":
		return "RubyGems"
	case v == "nuget" || v == "microsoft" && p == "dotnet":
		return "NuGet"
	case v == "packagist" || v == "php":
		return "Packagist"
	default:
		return ""
	}
}

func primaryCVSSVector(severities []Severity) string {
	for _, s := range severities {
		if s.Type == "CVSS_V3" {
			return s.Score
		}
	}
	for _, s := range severities {
		if s.Type == "CVSS_V2" {
			return s.Score
		}
	}
	return ""
}
