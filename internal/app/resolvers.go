package app

import (
	"github.com/openclaw/core/internal/heartbeat"
	"github.com/openclaw/core/internal/session"
)

// noopContentProvider reports no standing heartbeat work for any agent.
// What an agent's standard heartbeat prompt says is agent configuration,
// which spec.md places out of scope ("agent configuration is managed
// outside the core", also the basis for gateway's agents.create stub); a
// real deployment supplies its own heartbeat.ContentProvider.
type noopContentProvider struct{}

func (noopContentProvider) StandardPrompt(agentID string) (string, bool) {
	return "", false
}

// noopTargetResolver resolves no delivery targets, for the same reason:
// which channel/recipient an agent's heartbeat output goes to is part of
// agent configuration.
type noopTargetResolver struct{}

func (noopTargetResolver) Resolve(agentID, target string) (session.Delivery, bool) {
	return session.Delivery{}, false
}

var _ heartbeat.ContentProvider = noopContentProvider{}
var _ heartbeat.TargetResolver = noopTargetResolver{}

// heartbeatRequester adapts *heartbeat.Coordinator to cron.HeartbeatRequester.
type heartbeatRequester struct {
	hb *heartbeat.Coordinator
}

func (h heartbeatRequester) RequestHeartbeatNow(sourceTag string) {
	h.hb.RequestHeartbeatNow(sourceTag)
}
