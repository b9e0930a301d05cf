package router

import (
	"github.com/nidhogg/launchbox/internal/command"
	"github.com/nidhogg/launchbox/internal/gateway"
)

// StatusSource reports adapter connection state.
type StatusSource interface {
	StatusAll() []gateway.AdapterStatus
}

// CommandStatus exposes gateway adapter state to the /status command.
func CommandStatus(src StatusSource) command.StatusProvider {
	return commandStatus{src}
}

type commandStatus struct{ src StatusSource }

func (c commandStatus) StatusAll() []command.AdapterStatus {
	all := c.src.StatusAll()
	out := make([]command.AdapterStatus, len(all))
	for i, s := range all {
		out[i] = command.AdapterStatus{Name: s.Platform, Platform: s.Platform, Connected: s.Connected}
	}
	return out
}
