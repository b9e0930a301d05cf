package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/launchbox/internal/provider"
)

// ProviderSwitcher manages provider defaults and purpose bindings.
type ProviderSwitcher interface {
	SetDefault(providerID string)
	Bind(purpose provider.Purpose, providerID string)
	Default() string
	Bindings() map[provider.Purpose]string
	ListProviders() []provider.Provider
}

var purposes = []provider.Purpose{
	provider.PurposeChat,
	provider.PurposeClassify,
	provider.PurposeExtract,
	provider.PurposePlan,
	provider.PurposeReason,
	provider.PurposeSummarize,
	provider.PurposeAction,
}

// RegisterProviderCommands registers /provider and /bind.
func RegisterProviderCommands(reg *Registry, switcher ProviderSwitcher) {
	reg.Register(switchProviderCommand(switcher))
	reg.Register(bindCommand(switcher))
}

func switchProviderCommand(switcher ProviderSwitcher) *Command {
	return &Command{
		Name:        "provider",
		Description: "查看或切换默认 LLM 提供方",
		Usage:       "/provider [provider_id]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			id := strings.TrimSpace(args)
			if id == "" {
				return &CommandResult{Content: describeProviders(switcher)}, nil
			}
			if !hasProvider(switcher, id) {
				return &CommandResult{Content: fmt.Sprintf("未知提供方 %q。", id)}, nil
			}
			switcher.SetDefault(id)
			return &CommandResult{Content: fmt.Sprintf("默认提供方已切换为 %q。", id)}, nil
		},
	}
}

func bindCommand(switcher ProviderSwitcher) *Command {
	return &Command{
		Name:        "bind",
		Description: "为某个用途绑定提供方",
		Usage:       "/bind <purpose> <provider_id>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.Fields(args)
			if len(parts) != 2 {
				return &CommandResult{Content: "用法：/bind <purpose> <provider_id>"}, nil
			}
			purpose := provider.Purpose(parts[0])
			if !validPurpose(purpose) {
				return &CommandResult{Content: fmt.Sprintf("未知用途 %q。", parts[0])}, nil
			}
			if !hasProvider(switcher, parts[1]) {
				return &CommandResult{Content: fmt.Sprintf("未知提供方 %q。", parts[1])}, nil
			}
			switcher.Bind(purpose, parts[1])
			return &CommandResult{
				Content: fmt.Sprintf("用途 %s 已绑定到 %q。", purpose, parts[1]),
				Data:    map[string]string{"purpose": string(purpose), "provider_id": parts[1]},
			}, nil
		},
	}
}

func describeProviders(switcher ProviderSwitcher) string {
	providers := switcher.ListProviders()
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	def := switcher.Default()

	var sb strings.Builder
	sb.WriteString("可用提供方：\n")
	for _, p := range providers {
		marker := "  "
		if p.ID() == def {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%s (%s)\n", marker, p.Name(), p.ID())
	}
	bindings := switcher.Bindings()
	if len(bindings) > 0 {
		sb.WriteString("\n用途绑定：\n")
		for _, purpose := range purposes {
			if id, ok := bindings[purpose]; ok {
				fmt.Fprintf(&sb, "  %s → %s\n", purpose, id)
			}
		}
	}
	sb.WriteString("\n用法：/provider <provider_id>")
	return sb.String()
}

func hasProvider(switcher ProviderSwitcher, id string) bool {
	for _, p := range switcher.ListProviders() {
		if p.ID() == id {
			return true
		}
	}
	return false
}

func validPurpose(p provider.Purpose) bool {
	for _, known := range purposes {
		if p == known {
			return true
		}
	}
	return false
}
