package dispatch

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/broker"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// ospStartScanRequest is the <start_scan> request envelope.
type ospStartScanRequest struct {
	XMLName      xml.Name         `xml:"start_scan"`
	Target       string           `xml:"target,attr"`
	ExcludeHosts string           `xml:"exclude_hosts,attr,omitempty"`
	Ports        string           `xml:"ports,attr"`
	Preferences  []ospPreference  `xml:"scanner_params>preference"`
	VTSelection  []ospVTSelection `xml:"vt_selection>vt_single"`
}

type ospPreference struct {
	Name  string `xml:"scanner_name"`
	Value string `xml:"value"`
}

type ospVTSelection struct {
	ID string `xml:"id,attr"`
}

type ospStartScanResponse struct {
	XMLName xml.Name `xml:"start_scan_response"`
	ScanID  string   `xml:"id"`
	Status  string   `xml:"status,attr"`
}

type ospGetScansResponse struct {
	XMLName xml.Name `xml:"get_scans_response"`
	Scan    struct {
		ID       string `xml:"id,attr"`
		Status   string `xml:"status,attr"`
		Progress int    `xml:"progress,attr"`
		Results  struct {
			Result []ospResult `xml:"result"`
		} `xml:"results"`
	} `xml:"scan"`
}

type ospResult struct {
	Host     string  `xml:"host,attr"`
	Port     string  `xml:"port,attr"`
	OID      string  `xml:"oid,attr"`
	Severity float64 `xml:"severity,attr"`
	QoD      int     `xml:"qod,attr"`
	Value    string  `xml:",chardata"`
}

// OSPVariant implements the classical TLS-OSP scanner dispatch (spec §4.E
// "OSP (and OSP-SENSOR)"). It frames one XML request/response per call over
// a connection the Connection Broker opens and keeps held for the scan's
// duration.
type OSPVariant struct {
	Broker      *broker.Broker
	Scanner     model.Scanner
	Credentials *store.Credentials
	Configs     *store.Configs
	Log         *slog.Logger
	lastSeenSeq int
	conn        net.Conn
}

func NewOSPVariant(b *broker.Broker, scanner model.Scanner, creds *store.Credentials, configs *store.Configs, log *slog.Logger) *OSPVariant {
	if log == nil {
		log = slog.Default()
	}
	return &OSPVariant{Broker: b, Scanner: scanner, Credentials: creds, Configs: configs, Log: log}
}

// resolveConfig loads task's scan configuration, or a zero-value one (the
// controller's conservative defaults, spec §4.E config fallback) when the
// task has no config-ref.
func (v *OSPVariant) resolveConfig(ctx context.Context, task model.Task) (model.ScanConfig, error) {
	if task.ConfigUUID == "" {
		return model.ScanConfig{}, nil
	}
	cfg, err := v.Configs.FindConfig(ctx, task.ConfigUUID)
	if err != nil {
		return model.ScanConfig{}, fmt.Errorf("osp scan: resolve config %s: %w", task.ConfigUUID, err)
	}
	return *cfg, nil
}

func (v *OSPVariant) Prepare(ctx context.Context, task model.Task, target model.Target, from From) error {
	if len(target.Hosts()) == 0 {
		return fmt.Errorf("osp scan: target %s has no hosts", target.UUID)
	}
	sess, err := v.Broker.OpenOSP(ctx, v.Scanner)
	if err != nil {
		return err
	}
	v.conn = sess.Conn()
	return nil
}

// Start issues start_scan with the target's hosts, the task's config-
// derived scanner preferences and VT selection, ports, and credential
// references rendered as scanner preferences (spec §4.E: "Preferences
// come from the task's config ... plus per-target credential objects ...
// converted from the credential store").
func (v *OSPVariant) Start(ctx context.Context, task model.Task, target model.Target, from From) (string, error) {
	cfg, err := v.resolveConfig(ctx, task)
	if err != nil {
		return "", err
	}

	ports := cfg.ScannerPreferences["port_range"]
	if ports == "" {
		ports = "1-65535"
	}
	req := ospStartScanRequest{
		Target:       target.HostsSpec,
		ExcludeHosts: target.ExcludeHostsSpec,
		Ports:        ports,
	}
	for name, value := range cfg.ScannerPreferences {
		if name == "port_range" {
			continue
		}
		req.Preferences = append(req.Preferences, ospPreference{Name: name, Value: value})
	}
	for _, sel := range cfg.VTSelections {
		req.VTSelection = append(req.VTSelection, ospVTSelection{ID: sel.OID})
		for name, value := range sel.Preferences {
			req.Preferences = append(req.Preferences, ospPreference{Name: sel.OID + ":" + name, Value: value})
		}
	}
	for protocol, credUUID := range target.CredentialRefs {
		cred, err := v.Credentials.FindCredential(ctx, credUUID)
		if err != nil {
			return "", fmt.Errorf("osp scan: resolve %s credential: %w", protocol, err)
		}
		req.Preferences = append(req.Preferences, ospPreference{Name: protocol + "_credential", Value: cred.Username})
	}

	var resp ospStartScanResponse
	if err := v.roundTrip(ctx, req, &resp); err != nil {
		return "", err
	}
	if resp.ScanID == "" {
		return "", apperror.New(apperror.ScannerProtocol, "osp start_scan returned no scan id")
	}
	return resp.ScanID, nil
}

// Poll issues get_scans and normalises the OSP status vocabulary (spec
// §4.E "Running→running, Stopped→stopped, Finished→processing→done,
// Interrupted→interrupted").
func (v *OSPVariant) Poll(ctx context.Context, scanID string) (RemoteStatus, bool, error) {
	var resp ospGetScansResponse
	if err := v.roundTrip(ctx, struct {
		XMLName xml.Name `xml:"get_scans"`
		ID      string   `xml:"scan_id,attr"`
	}{ID: scanID}, &resp); err != nil {
		return "", false, err
	}

	switch resp.Scan.Status {
	case "running":
		return RemoteRunning, false, nil
	case "stopped":
		return RemoteStopped, true, nil
	case "finished":
		return RemoteFinished, true, nil
	case "interrupted":
		return RemoteInterrupted, true, nil
	default:
		return RemoteRunning, false, nil
	}
}

// Ingest issues get_scans again (OSP has no separate get_results call; the
// same response carries both status and incremental results) and appends
// any result rows not yet seen this poll cycle.
func (v *OSPVariant) Ingest(ctx context.Context, scanID string, ing *Ingester) error {
	var resp ospGetScansResponse
	if err := v.roundTrip(ctx, struct {
		XMLName xml.Name `xml:"get_scans"`
		ID      string   `xml:"scan_id,attr"`
	}{ID: scanID}, &resp); err != nil {
		return err
	}

	results := resp.Scan.Results.Result
	if v.lastSeenSeq >= len(results) {
		return nil
	}
	for _, r := range results[v.lastSeenSeq:] {
		if err := ing.Append(ctx, RawResult{
			Host:        r.Host,
			Port:        r.Port,
			NVTOID:      r.OID,
			Severity:    model.Severity(r.Severity),
			QoD:         r.QoD,
			Description: r.Value,
		}); err != nil {
			return err
		}
	}
	v.lastSeenSeq = len(results)
	return nil
}

func (v *OSPVariant) Finalize(ctx context.Context, scanID string) error {
	defer v.closeConn()
	return v.roundTrip(ctx, struct {
		XMLName xml.Name `xml:"delete_scan"`
		ID      string   `xml:"scan_id,attr"`
	}{ID: scanID}, nil)
}

func (v *OSPVariant) Stop(ctx context.Context, scanID string) error {
	return v.roundTrip(ctx, struct {
		XMLName xml.Name `xml:"stop_scan"`
		ID      string   `xml:"scan_id,attr"`
	}{ID: scanID}, nil)
}

func (v *OSPVariant) closeConn() {
	if v.conn != nil {
		_ = v.conn.Close()
		v.conn = nil
	}
}

// roundTrip writes req as an XML document to the held connection and
// decodes the reply into resp (skipped if resp is nil, for fire-and-forget
// commands like stop_scan/delete_scan).
func (v *OSPVariant) roundTrip(ctx context.Context, req any, resp any) error {
	if v.conn == nil {
		return apperror.New(apperror.ScannerUnreachable, "osp session not open")
	}
	enc := xml.NewEncoder(v.conn)
	if err := enc.Encode(req); err != nil {
		return apperror.Wrap(apperror.ScannerProtocol, "encoding osp request", err)
	}
	if resp == nil {
		return nil
	}
	dec := xml.NewDecoder(bufio.NewReader(v.conn))
	if err := dec.Decode(resp); err != nil && err != io.EOF {
		return apperror.Wrap(apperror.ScannerProtocol, "decoding osp response", err)
	}
	return nil
}

// checkFeed issues OSP's check_feed and returns the feed status the
// scanner reports. Nothing in this repository calls it.
func (v *OSPVariant) checkFeed(ctx context.Context) (string, error) {
	var resp struct {
		XMLName xml.Name `xml:"check_feed_response"`
		Status  string   `xml:"status,attr"`
	}
	if err := v.roundTrip(ctx, struct {
		XMLName xml.Name `xml:"check_feed"`
	}{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
