package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/broker"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
)

// AgentGroupResolver resolves an agent-group resource to the agent identifiers it
// currently contains (spec §4.E "pulls agent identifiers from an
// agent-group resource"). This is a narrow seam left for the persistence
// layer managing agent enrollment, which is out of this subsystem's scope.
type AgentGroupResolver interface {
	AgentIDsForGroup(ctx context.Context, agentGroupUUID string) ([]string, error)
}

// AgentControllerVariant dispatches scans to a fleet of installed agents
// via an HTTP agent-controller backend (spec §4.E "Agent Controller").
// Polling/ingestion reuses HTTPScannerVariant's transport, since the spec
// describes it as "polls results just like HTTP Scanner".
type AgentControllerVariant struct {
	HTTP        *HTTPScannerVariant
	AgentGroups AgentGroupResolver
	Log         *slog.Logger
}

// UnresolvedAgentGroups is the default AgentGroupResolver when no agent-
// enrollment persistence layer is configured (spec's "out of this
// subsystem's scope" framing for agent-group resource management): every
// lookup fails, so Agent Controller dispatch surfaces a clear error rather
// than silently scanning zero agents.
type UnresolvedAgentGroups struct{}

func (UnresolvedAgentGroups) AgentIDsForGroup(ctx context.Context, agentGroupUUID string) ([]string, error) {
	return nil, apperror.New(apperror.NotFound, fmt.Sprintf("agent group %s: no agent-enrollment source configured", agentGroupUUID))
}

func NewAgentControllerVariant(b *broker.Broker, scanner model.Scanner, configs *store.Configs, nvtCache *store.NVTCache, agentGroups AgentGroupResolver, log *slog.Logger) *AgentControllerVariant {
	if log == nil {
		log = slog.Default()
	}
	return &AgentControllerVariant{
		HTTP:        NewHTTPScannerVariant(b, scanner, nil, configs, nvtCache, log),
		AgentGroups: agentGroups,
		Log:         log,
	}
}

// Prepare assumes the caller (Dispatcher.RunTask) has already rejected
// from=resume via scanner.SupportsResume(), since agent-controller scanners
// never report resume support.
func (v *AgentControllerVariant) Prepare(ctx context.Context, task model.Task, target model.Target, from From) error {
	if task.AgentGroupUUID == "" {
		return fmt.Errorf("agent controller scan: task %s has no agent_group_uuid", task.UUID)
	}
	conn, err := v.HTTP.Broker.OpenHTTPScanner(ctx, v.HTTP.Scanner, "")
	if err != nil {
		return err
	}
	v.HTTP.conn = conn
	return nil
}

func (v *AgentControllerVariant) Start(ctx context.Context, task model.Task, target model.Target, from From) (string, error) {
	agentIDs, err := v.AgentGroups.AgentIDsForGroup(ctx, task.AgentGroupUUID)
	if err != nil {
		return "", fmt.Errorf("agent controller scan: resolve agent group %s: %w", task.AgentGroupUUID, err)
	}
	if len(agentIDs) == 0 {
		return "", fmt.Errorf("agent controller scan: agent group %s has no enrolled agents", task.AgentGroupUUID)
	}

	payload := struct {
		AgentIDs []string `json:"agent_ids"`
		Target   string   `json:"target"`
	}{AgentIDs: agentIDs, Target: target.HostsSpec}

	var resp httpCreateScanResponse
	if err := v.HTTP.post(ctx, "/scans", payload, &resp); err != nil {
		return "", err
	}
	if resp.ScanID == "" {
		return "", apperror.New(apperror.ScannerProtocol, "agent controller create_scan returned no scan id")
	}
	v.HTTP.conn.ScanID = resp.ScanID
	return resp.ScanID, nil
}

func (v *AgentControllerVariant) Poll(ctx context.Context, scanID string) (RemoteStatus, bool, error) {
	return v.HTTP.Poll(ctx, scanID)
}

func (v *AgentControllerVariant) Ingest(ctx context.Context, scanID string, ing *Ingester) error {
	return v.HTTP.Ingest(ctx, scanID, ing)
}

func (v *AgentControllerVariant) Finalize(ctx context.Context, scanID string) error {
	return v.HTTP.Finalize(ctx, scanID)
}

func (v *AgentControllerVariant) Stop(ctx context.Context, scanID string) error {
	return v.HTTP.Stop(ctx, scanID)
}
