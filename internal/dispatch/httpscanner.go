package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/broker"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// VT is one vulnerability test selected for a scan, with its per-script
// preference overrides and discovery tag (spec §4.E: "VT preferences,
// including per-VT timeouts rendered as per-script preferences" and "a
// discovery flag is propagated when all selected VTs are tagged discovery").
type VT struct {
	ID          string
	Discovery   bool
	TimeoutSecs int
	Preferences map[string]string
}

// httpCreateScanRequest is the create_scan JSON body (spec §4.E: "built
// from the union of scanner preferences, VT preferences ... target with
// alive-test bitmask and credentials").
type httpCreateScanRequest struct {
	Target           string            `json:"target"`
	ExcludeHosts     string            `json:"exclude_hosts,omitempty"`
	AliveTests       uint8             `json:"alive_tests"`
	VTs              []httpVTPayload   `json:"vts"`
	ScannerParams    map[string]string `json:"scanner_params,omitempty"`
	CredentialLogins map[string]string `json:"credentials,omitempty"`
	Discovery        bool              `json:"discovery"`
}

type httpVTPayload struct {
	ID           string            `json:"id"`
	TimeoutSecs  int               `json:"timeout,omitempty"`
	ScriptParams map[string]string `json:"script_params,omitempty"`
}

type httpCreateScanResponse struct {
	ScanID string `json:"scan_id"`
}

type httpStatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type httpResultsResponse struct {
	Results []httpResult `json:"results"`
}

type httpResult struct {
	Host        string  `json:"host"`
	Port        string  `json:"port"`
	NVTOID      string  `json:"nvt_oid"`
	Severity    float64 `json:"severity"`
	QoD         int     `json:"qod"`
	Description string  `json:"description"`
}

// HTTPScannerVariant implements the JSON/HTTP scanner dispatch (spec §4.E
// "HTTP Scanner").
type HTTPScannerVariant struct {
	Broker      *broker.Broker
	Scanner     model.Scanner
	Credentials *store.Credentials
	Configs     *store.Configs
	NVTCache    *store.NVTCache
	Log         *slog.Logger

	conn       *broker.HTTPConnector
	nextOffset int
	vts        []VT
	cfg        model.ScanConfig
}

func NewHTTPScannerVariant(b *broker.Broker, scanner model.Scanner, creds *store.Credentials, configs *store.Configs, nvtCache *store.NVTCache, log *slog.Logger) *HTTPScannerVariant {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPScannerVariant{Broker: b, Scanner: scanner, Credentials: creds, Configs: configs, NVTCache: nvtCache, Log: log}
}

// resolveVTs loads task's scan configuration and renders its VT selection
// into dispatch VTs, pulling each VT's discovery tag from the NVT cache
// (spec §4.E "Config JSON is built from the union of scanner preferences,
// VT preferences ..."; the discovery flag is a VT property, not something
// the config itself carries).
func (v *HTTPScannerVariant) resolveVTs(ctx context.Context, task model.Task) (model.ScanConfig, []VT, error) {
	if task.ConfigUUID == "" {
		return model.ScanConfig{}, nil, nil
	}
	cfg, err := v.Configs.FindConfig(ctx, task.ConfigUUID)
	if err != nil {
		return model.ScanConfig{}, nil, fmt.Errorf("http scan: resolve config %s: %w", task.ConfigUUID, err)
	}
	oids := make([]string, len(cfg.VTSelections))
	for i, sel := range cfg.VTSelections {
		oids[i] = sel.OID
	}
	discovery, err := v.NVTCache.DiscoveryFlags(ctx, oids)
	if err != nil {
		return *cfg, nil, fmt.Errorf("http scan: nvt cache lookup for config %s: %w", task.ConfigUUID, err)
	}
	vts := make([]VT, len(cfg.VTSelections))
	for i, sel := range cfg.VTSelections {
		vts[i] = VT{ID: sel.OID, Discovery: discovery[sel.OID], TimeoutSecs: sel.TimeoutSecs, Preferences: sel.Preferences}
	}
	return *cfg, vts, nil
}

func (v *HTTPScannerVariant) Prepare(ctx context.Context, task model.Task, target model.Target, from From) error {
	cfg, vts, err := v.resolveVTs(ctx, task)
	if err != nil {
		return err
	}
	if len(vts) == 0 {
		return apperror.New(apperror.ScannerProtocol, "feed not synced yet: empty VT list")
	}
	v.cfg = cfg
	v.vts = vts
	conn, err := v.Broker.OpenHTTPScanner(ctx, v.Scanner, "")
	if err != nil {
		return err
	}
	v.conn = conn
	return nil
}

func (v *HTTPScannerVariant) Start(ctx context.Context, task model.Task, target model.Target, from From) (string, error) {
	allDiscovery := true
	payload := httpCreateScanRequest{
		Target:        target.HostsSpec,
		ExcludeHosts:  target.ExcludeHostsSpec,
		AliveTests:    uint8(target.AliveTests),
		ScannerParams: v.cfg.ScannerPreferences,
	}
	for _, vt := range v.vts {
		payload.VTs = append(payload.VTs, httpVTPayload{ID: vt.ID, TimeoutSecs: vt.TimeoutSecs, ScriptParams: vt.Preferences})
		if !vt.Discovery {
			allDiscovery = false
		}
	}
	payload.Discovery = allDiscovery

	payload.CredentialLogins = make(map[string]string, len(target.CredentialRefs))
	for protocol, credUUID := range target.CredentialRefs {
		cred, err := v.Credentials.FindCredential(ctx, credUUID)
		if err != nil {
			return "", fmt.Errorf("http scan: resolve %s credential: %w", protocol, err)
		}
		payload.CredentialLogins[protocol] = cred.Username
	}

	var resp httpCreateScanResponse
	if err := v.post(ctx, "/scans", payload, &resp); err != nil {
		return "", err
	}
	if resp.ScanID == "" {
		return "", apperror.New(apperror.ScannerProtocol, "http scanner create_scan returned no scan id")
	}
	v.conn.ScanID = resp.ScanID

	if err := v.post(ctx, fmt.Sprintf("/scans/%s/start", resp.ScanID), nil, nil); err != nil {
		return "", err
	}
	return resp.ScanID, nil
}

func (v *HTTPScannerVariant) Poll(ctx context.Context, scanID string) (RemoteStatus, bool, error) {
	var resp httpStatusResponse
	if err := v.get(ctx, fmt.Sprintf("/scans/%s/status", scanID), &resp); err != nil {
		return "", false, err
	}
	switch resp.Status {
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

func (v *HTTPScannerVariant) Ingest(ctx context.Context, scanID string, ing *Ingester) error {
	var resp httpResultsResponse
	if err := v.get(ctx, fmt.Sprintf("/scans/%s/results?offset=%d", scanID, v.nextOffset), &resp); err != nil {
		return err
	}
	for _, r := range resp.Results {
		if err := ing.Append(ctx, RawResult{
			Host:        r.Host,
			Port:        r.Port,
			NVTOID:      r.NVTOID,
			Severity:    model.Severity(r.Severity),
			QoD:         r.QoD,
			Description: r.Description,
		}); err != nil {
			return err
		}
	}
	v.nextOffset += len(resp.Results)
	return nil
}

func (v *HTTPScannerVariant) Finalize(ctx context.Context, scanID string) error {
	defer v.conn.Close()
	return v.post(ctx, fmt.Sprintf("/scans/%s/delete", scanID), nil, nil)
}

func (v *HTTPScannerVariant) Stop(ctx context.Context, scanID string) error {
	return v.post(ctx, fmt.Sprintf("/scans/%s/stop", scanID), nil, nil)
}

func (v *HTTPScannerVariant) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.conn.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return v.do(req, out)
}

func (v *HTTPScannerVariant) post(ctx context.Context, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding http scanner request: %w", err)
		}
		r = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.conn.BaseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req, out)
}

func (v *HTTPScannerVariant) do(req *http.Request, out any) error {
	resp, err := v.conn.Client.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.ScannerUnreachable, "http scanner request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apperror.New(apperror.ScannerProtocol, fmt.Sprintf("http scanner returned %d for %s", resp.StatusCode, req.URL.Path))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apperror.Wrap(apperror.ScannerProtocol, "decoding http scanner response", err)
	}
	return nil
}
