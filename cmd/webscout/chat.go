// This file implements the interactive chat loop.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"webscout/internal/config"
	"webscout/internal/history"
	"webscout/internal/logging"
	"webscout/internal/research"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	statsStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// runChat starts the interactive REPL.
func runChat(ctx context.Context) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.backend.HealthCheck(ctx); err != nil {
		return fmt.Errorf("backend %s is not reachable: %w", a.backend.Name(), err)
	}
	if !cfg.HasSearchProvider() {
		fmt.Println(debugStyle.Render("No search provider configured. Web research is disabled;" +
			" set TAVILY_API_KEY, BRAVE_API_KEY, or SEARXNG_URL to enable it."))
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	// Tunables (model, research mode, cache policy) follow edits to the
	// config file without a restart.
	stopWatch, err := config.Watch(configPath, func(next *config.Config) {
		if deep {
			next.Research.DefaultMode = "deep"
		}
		a.orch.Reconfigure(orchestratorConfig(next))
		fmt.Println(debugStyle.Render("Config reloaded."))
	}, func(err error) {
		fmt.Println(debugStyle.Render("Config reload failed: " + err.Error()))
	})
	if err != nil {
		fmt.Println(debugStyle.Render("Config watch disabled: " + err.Error()))
	} else {
		defer stopWatch()
	}

	logging.Session("Chat started (session=%s)", sessionID)
	fmt.Printf("webscout %s (model %s, session %s)\n", cfg.Version, cfg.LLM.Model, sessionID)
	fmt.Println(debugStyle.Render("Type a question, /help for commands, /quit to exit."))

	var hist []history.Turn
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Println("  /new    start a fresh conversation (history cleared)")
			fmt.Println("  /quit   exit")
			continue
		case "/new":
			hist = nil
			a.sessions.Delete(sessionID)
			fmt.Println(debugStyle.Render("Conversation cleared."))
			continue
		}

		hist = runTurn(ctx, a, renderer, sessionID, line, hist)
	}
}

// runTurn sends one user message through the orchestrator and renders
// the event stream. It returns the updated conversation history.
func runTurn(ctx context.Context, a *app, renderer *glamour.TermRenderer, session, line string, hist []history.Turn) []history.Turn {
	events := a.orch.Run(ctx, session, line, hist)

	streaming := false
	for ev := range events {
		switch e := ev.(type) {
		case research.Debug:
			if verbose {
				fmt.Println(debugStyle.Render("· " + e.Message))
			}
		case research.Progress:
			if e.Clear {
				fmt.Print("\r\033[K")
				continue
			}
			status := fmt.Sprintf("[%s] %d/%d", e.Phase, e.Current, e.Total)
			if e.Failed > 0 {
				status += fmt.Sprintf(" (%d failed)", e.Failed)
			}
			fmt.Print("\r\033[K" + progressStyle.Render(status))
		case research.Content:
			if !streaming {
				streaming = true
				fmt.Println()
			}
			fmt.Print(e.Text)
		case research.Result:
			hist = e.History
			fmt.Println()
			if out, err := renderer.Render(e.Answer); err == nil {
				fmt.Print(out)
			}
			stats := fmt.Sprintf("%.1fs", e.Elapsed.Seconds())
			if e.TokensPerSecond > 0 {
				stats += fmt.Sprintf(" · %.1f tok/s", e.TokensPerSecond)
			}
			if e.TimeToFirst > 0 {
				stats += fmt.Sprintf(" · %.2fs to first token", e.TimeToFirst.Seconds())
			}
			fmt.Println(statsStyle.Render(stats))
		case research.Failure:
			fmt.Println()
			fmt.Println(errorStyle.Render("Error: " + e.Err.Error()))
		}
	}
	return hist
}
