package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	redisURL  string
)

func main() {
	root := &cobra.Command{
		Use:   "chat",
		Short: "LaunchBox terminal client",
		Run: func(cmd *cobra.Command, args []string) {
			conv, _ := cmd.Flags().GetString("conversation")
			if conv == "" {
				conv = "cli:" + uuid.NewString()[:8]
			}
			interactive(conv)
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("LAUNCHBOX_URL", "http://localhost:8080"), "LaunchBox server URL")
	root.PersistentFlags().StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "follow events from Redis Streams instead of the WebSocket")
	root.Flags().StringP("conversation", "c", "", "conversation id to join (default: a new one)")

	root.AddCommand(listCmd(), planCmd(), clearCmd(), statusCmd())
	for _, op := range []string{"start", "pause", "resume", "force"} {
		root.AddCommand(controlCmd(op))
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// printer writes agent messages once, whichever source delivers them first.
type printer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (p *printer) print(m *message) {
	if m.Role != "agent" || m.IsThinking || strings.TrimSpace(m.Text) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[m.ID] {
		return
	}
	p.seen[m.ID] = true

	switch {
	case m.IsSystemMessage:
		fmt.Printf("\033[33m%s\033[0m\n", m.Text)
	default:
		fmt.Printf("\033[36m[launchbox]\033[0m %s\n", m.Text)
	}
	if m.ImageURL != "" {
		fmt.Printf("  image: %s\n", m.ImageURL)
	}
	switch m.Affordance {
	case "start_plan":
		fmt.Println("  (/start 开始执行)")
	case "force_continue":
		fmt.Println("  (/force 强制继续)")
	}
}

func interactive(convID string) {
	c := newClient(serverURL)
	p := &printer{seen: make(map[string]bool)}

	fmt.Println("LaunchBox CLI Chat")
	fmt.Printf("Server: %s | Conversation: %s\n", serverURL, convID)
	fmt.Println("Type 'exit' or 'quit' to leave. Slash commands: /help, /plan, /start, /pause, /resume, /force, /clear")
	fmt.Println("---")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if ch, err := watch(ctx, serverURL, convID, redisURL); err != nil {
		printError("Live updates unavailable: %v", err)
	} else {
		go func() {
			for e := range ch {
				if m, ok := eventMessage(e); ok {
					p.print(m)
				}
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		t, err := c.send(convID, input)
		if err != nil {
			printError("%v", err)
			continue
		}
		for _, m := range t.Messages {
			p.print(m)
		}
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient(serverURL).conversations()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}
			for _, c := range list {
				fmt.Printf("  %s  %-24s %3d msgs  %s\n", c.ID, c.Title, c.MessageCount, c.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <conversation>",
		Short: "Show a conversation's plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newClient(serverURL).plan(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s [%s]\n", l.Goal, l.Status)
			for i, it := range l.Items {
				fmt.Printf("  %d. %s (%s)\n", i+1, it.Text, it.Status)
			}
			return nil
		},
	}
}

func controlCmd(op string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <conversation>",
		Short: strings.ToUpper(op[:1]) + op[1:] + " a conversation's plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(serverURL).control(args[0], op); err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", op)
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <conversation>",
		Short: "Clear a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(serverURL).clear(args[0])
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chat platform gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := newClient(serverURL).status()
			if err != nil {
				return err
			}
			fmt.Println("Gateway Status:")
			if len(statuses) == 0 {
				fmt.Println("  no adapters configured")
			}
			for _, s := range statuses {
				icon := "\033[31m✗\033[0m"
				if s.Connected {
					icon = "\033[32m✓\033[0m"
				}
				fmt.Printf("  %s %s", icon, s.Platform)
				if s.Details != "" {
					fmt.Printf(" (%s)", s.Details)
				}
				if s.Error != "" {
					fmt.Printf(" \033[31m(%s)\033[0m", s.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
