package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/osv"
)

// CPEMatchCriterion is one leaf of a match-node tree: a CPE base string
// plus an optional version range, as NVD's "matching-version 1" match
// criteria express it.
type CPEMatchCriterion struct {
	CPE23URI              string
	VersionStartIncluding string
	VersionStartExcluding string
	VersionEndIncluding   string
	VersionEndExcluding   string
	Vulnerable            bool
	CVEID                 string
	Severity              model.Severity
}

// MatchNode is one AND/OR node in a match-node tree; a leaf has Criterion
// set and no Children.
type MatchNode struct {
	Operator  string // "AND" or "OR"; ignored on a leaf
	Children  []MatchNode
	Criterion *CPEMatchCriterion
}

// AffectedProduct is the older, version-range-free correlation record used
// when no match-node database is present for a CVE (spec §4.E "otherwise
// uses the older affected-products iterator").
type AffectedProduct struct {
	CPE23URI string
	CVEID    string
	Severity model.Severity
}

// CVEIndex is the local correlation engine's view of the vulnerability
// feed. Feed Sync (spec §4.J) is responsible for keeping it populated;
// this package only reads it.
type CVEIndex interface {
	// MatchNodesForCPE returns every match-node tree whose base CPE
	// (vendor:product, version-agnostic) matches cpe. An empty, non-error
	// result means "no match-node database for this product" and
	// correlateCPE falls back to AffectedProductsForCPE.
	MatchNodesForCPE(ctx context.Context, cpe string) ([]MatchNode, error)
	AffectedProductsForCPE(ctx context.Context, cpe string) ([]AffectedProduct, error)
	// LatestHostDetails returns the most recent prior report's host-detail
	// rows for host (spec §4.E: "looks up the most recent report-host in
	// history"), or nil if host has never been scanned before.
	LatestHostDetails(ctx context.Context, host string) ([]model.HostDetail, error)
}

// CVEVariant is the local correlation scanner variant (spec §4.E "CVE").
// It never talks to a remote scanner process: Start/Poll/Finalize/Stop are
// no-ops and the whole run happens synchronously inside Ingest, matching
// the spec's "always runs in a forked worker" framing (the worker is the
// goroutine the worker package spawns around RunTask, not a remote peer).
type CVEVariant struct {
	Index    CVEIndex
	Enricher *osv.Enricher
	Log      *slog.Logger

	pending sync.Map // handle (target UUID) -> model.Target, set by Prepare, consumed by Ingest
}

func NewCVEVariant(index CVEIndex, log *slog.Logger) *CVEVariant {
	if log == nil {
		log = slog.Default()
	}
	return &CVEVariant{Index: index, Enricher: osv.NewEnricher(log), Log: log}
}

func (v *CVEVariant) Prepare(ctx context.Context, task model.Task, target model.Target, from From) error {
	if len(target.Hosts()) == 0 {
		return fmt.Errorf("cve scan: target %s has no hosts", target.UUID)
	}
	v.pending.Store(target.UUID, target)
	return nil
}

// Start has no remote handle to allocate; the host list itself doubles as
// the work queue Ingest drains synchronously on its one and only call.
func (v *CVEVariant) Start(ctx context.Context, task model.Task, target model.Target, from From) (string, error) {
	return task.TargetUUID, nil
}

// Poll always reports done: correlation is a single synchronous pass, not
// a long-running remote process to be re-checked. RunTask calls Ingest
// after Poll regardless of done, so the real work below still runs before
// the loop exits.
func (v *CVEVariant) Poll(ctx context.Context, handle string) (RemoteStatus, bool, error) {
	return RemoteFinished, true, nil
}

// Ingest is where the actual correlation walk happens: handle is the
// target UUID Prepare stashed. RunTask calls it once, after Poll has
// already reported done=true.
func (v *CVEVariant) Ingest(ctx context.Context, handle string, ing *Ingester) error {
	val, ok := v.pending.LoadAndDelete(handle)
	if !ok {
		return fmt.Errorf("cve scan: no prepared target for handle %s", handle)
	}
	target := val.(model.Target)
	return v.RunLocalScan(ctx, target, ing)
}

func (v *CVEVariant) Finalize(ctx context.Context, handle string) error { return nil }
func (v *CVEVariant) Stop(ctx context.Context, handle string) error    { return nil }

// RunLocalScan performs the actual correlation walk described in spec
// §4.E: for each host, fetch its most recent known CPEs, then for each CPE
// either traverse its match-node tree or fall back to the affected-
// products iterator, emitting a result per match. Ingest calls this once
// Prepare has stashed the resolved target for the run's handle.
func (v *CVEVariant) RunLocalScan(ctx context.Context, target model.Target, ing *Ingester) error {
	for _, host := range target.Hosts() {
		start := time.Now().UTC()
		details, err := v.Index.LatestHostDetails(ctx, host)
		if err != nil {
			return fmt.Errorf("cve scan: host details for %s: %w", host, err)
		}

		for _, hd := range details {
			if hd.Kind != "App" {
				continue
			}
			cpe := hd.Value
			if err := v.correlateCPE(ctx, host, cpe, ing); err != nil {
				v.Log.Warn("cve correlation failed for cpe", "host", host, "cpe", cpe, "error", err)
			}
		}

		end := time.Now().UTC()
		if err := ing.AddReportHost(ctx, &model.ReportHost{Host: host, StartTime: &start, EndTime: &end}); err != nil {
			return fmt.Errorf("cve scan: record report host %s: %w", host, err)
		}
	}
	return nil
}

func (v *CVEVariant) correlateCPE(ctx context.Context, host, cpe string, ing *Ingester) error {
	nodes, err := v.Index.MatchNodesForCPE(ctx, baseCPE(cpe))
	if err != nil {
		return err
	}
	if len(nodes) > 0 {
		installedVersion := versionFromCPE(cpe)
		for _, node := range nodes {
			if evalMatchNode(node, installedVersion) {
				crit := leafCriterion(node)
				if crit == nil {
					continue
				}
				if err := ing.Append(ctx, RawResult{
					Host:        host,
					NVTOID:      crit.CVEID,
					Severity:    crit.Severity,
					QoD:         80,
					Description: v.enrichedDescription(ctx, cpe, fmt.Sprintf("%s affects %s", crit.CVEID, cpe)),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	products, err := v.Index.AffectedProductsForCPE(ctx, baseCPE(cpe))
	if err != nil {
		return err
	}
	for _, p := range products {
		if err := ing.Append(ctx, RawResult{
			Host:        host,
			NVTOID:      p.CVEID,
			Severity:    p.Severity,
			QoD:         70, // affected-products has no version range, lower confidence
			Description: v.enrichedDescription(ctx, cpe, fmt.Sprintf("%s lists %s as affected (no version range available)", p.CVEID, cpe)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// evalMatchNode walks an AND/OR match-node tree against an installed
// version string, per spec §4.E "traverses AND/OR CPE match trees".
func evalMatchNode(node MatchNode, installed string) bool {
	if node.Criterion != nil {
		return matchesCriterion(*node.Criterion, installed)
	}
	switch strings.ToUpper(node.Operator) {
	case "AND":
		for _, c := range node.Children {
			if !evalMatchNode(c, installed) {
				return false
			}
		}
		return len(node.Children) > 0
	default: // OR, including an empty/unspecified operator
		for _, c := range node.Children {
			if evalMatchNode(c, installed) {
				return true
			}
		}
		return false
	}
}

func leafCriterion(node MatchNode) *CPEMatchCriterion {
	if node.Criterion != nil {
		return node.Criterion
	}
	for _, c := range node.Children {
		if crit := leafCriterion(c); crit != nil {
			return crit
		}
	}
	return nil
}

func matchesCriterion(crit CPEMatchCriterion, installed string) bool {
	if !crit.Vulnerable {
		return false
	}
	if installed == "" {
		return false
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		// Not a well-formed semver (common for vendor-specific version
		// strings); fall back to an exact-string comparison against the
		// criterion's own CPE version component.
		return installed == versionFromCPE(crit.CPE23URI)
	}
	if crit.VersionStartIncluding != "" {
		bound, err := semver.NewVersion(crit.VersionStartIncluding)
		if err == nil && v.LessThan(bound) {
			return false
		}
	}
	if crit.VersionStartExcluding != "" {
		bound, err := semver.NewVersion(crit.VersionStartExcluding)
		if err == nil && (v.LessThan(bound) || v.Equal(bound)) {
			return false
		}
	}
	if crit.VersionEndIncluding != "" {
		bound, err := semver.NewVersion(crit.VersionEndIncluding)
		if err == nil && v.GreaterThan(bound) {
			return false
		}
	}
	if crit.VersionEndExcluding != "" {
		bound, err := semver.NewVersion(crit.VersionEndExcluding)
		if err == nil && (v.GreaterThan(bound) || v.Equal(bound)) {
			return false
		}
	}
	return true
}

// enrichedDescription appends OSV.dev aliases/CVSS data to a match's
// description when the CPE's vendor:product maps to a known OSV ecosystem.
// Best-effort: a miss or lookup failure returns base unchanged.
func (v *CVEVariant) enrichedDescription(ctx context.Context, cpe, base string) string {
	if v.Enricher == nil {
		return base
	}
	vendor, product := vendorProductFromCPE(cpe)
	if vendor == "" || product == "" {
		return base
	}
	enr := v.Enricher.Lookup(ctx, vendor, product, versionFromCPE(cpe))
	if len(enr.Aliases) == 0 && enr.CVSSVector == "" {
		return base
	}
	extra := base
	if len(enr.Aliases) > 0 {
		extra += fmt.Sprintf(" (osv aliases: %s)", strings.Join(enr.Aliases, ", "))
	}
	if enr.CVSSVector != "" {
		extra += fmt.Sprintf(" [%s]", enr.CVSSVector)
	}
	return extra
}

// vendorProductFromCPE extracts the vendor (4th) and product (5th) fields of
// a CPE 2.3 URI, e.g. cpe:2.3:a:openssl:openssl:3.0.2:... -> ("openssl",
// "openssl").
func vendorProductFromCPE(cpe string) (vendor, product string) {
	fields := strings.Split(cpe, ":")
	if len(fields) < 5 {
		return "", ""
	}
	return fields[3], fields[4]
}

// baseCPE replaces the version component (6th field) of a CPE 2.3 URI
// with "*", leaving a version-agnostic vendor:product key for the
// match-node/affected-product lookup.
func baseCPE(cpe string) string {
	fields := strings.Split(cpe, ":")
	if len(fields) < 6 {
		return cpe
	}
	fields[5] = "*"
	return strings.Join(fields, ":")
}

// versionFromCPE extracts the version component (6th field) of a CPE 2.3
// URI, e.g. cpe:2.3:a:openssl:openssl:3.0.2:*:*:*:*:*:*:* -> "3.0.2".
func versionFromCPE(cpe string) string {
	fields := strings.Split(cpe, ":")
	if len(fields) < 6 {
		return ""
	}
	return fields[5]
}
