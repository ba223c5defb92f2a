// Command chat is a terminal client for trying the assistant without a
// browser. It talks to the services directly, so no server has to run.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"

	"apex/internal/config"
	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/errmap"
	"apex/internal/locator"
	"apex/internal/repository/postgres"
	"apex/internal/service"
	"apex/internal/service/agent"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

type CLI struct {
	ctx        context.Context
	threads    services.ThreadService
	supervisor *agent.Supervisor
	mcp        services.MCPClientService
	errors     *errmap.Mapper
	scanner    *bufio.Scanner
	userID     string
	threadID   string
}

func main() {
	userID := flag.String("user", "cli-user", "User ID that owns the conversation")
	verbose := flag.Bool("v", false, "Log at debug level to stderr")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	repos := service.MemoryRepositories()
	if cfg.UsesPostgres() {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool, cfg.TablePrefix, logger); err != nil {
			log.Fatalf("Failed to prepare schema: %v", err)
		}
		repos = service.PostgresRepositories(pool, cfg.TablePrefix, logger)
	}

	mcpServers, err := config.LoadMCPServers(cfg.MCPConfigPath)
	if err != nil {
		log.Fatalf("Failed to load MCP servers: %v", err)
	}

	l := locator.New()
	service.Register(l, cfg, repos, mcpServers, mstream.NewRegistry(), logger)
	svc, err := service.Resolve(ctx, l)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer svc.MCP.Close()
	svc.MCP.ConnectAutoServers(ctx)

	cli := &CLI{
		ctx:        ctx,
		threads:    svc.Threads,
		supervisor: locator.MustResolve[*agent.Supervisor](l),
		mcp:        svc.MCP,
		errors:     svc.Errors,
		scanner:    bufio.NewScanner(os.Stdin),
		userID:     *userID,
	}

	fmt.Printf("%sapex chat%s (provider: %s, model: %s, storage: %s)\n", colorCyan, colorReset, cfg.DefaultProvider, cfg.DefaultModel, cfg.StorageBackend)
	fmt.Println("Commands: /new, /threads, /switch <n>, /history, /tools, /quit")
	cli.run()
}

func (c *CLI) run() {
	for {
		fmt.Printf("%s> %s", colorGreen, colorReset)
		if !c.scanner.Scan() {
			return
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := c.command(line); quit {
				return
			}
			continue
		}

		if err := c.send(line); err != nil {
			c.printError(err)
		}
	}
}

func (c *CLI) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true
	case "/new":
		c.threadID = ""
		fmt.Println("Started a new conversation")
	case "/threads":
		c.listThreads()
	case "/switch":
		c.switchThread(strings.TrimSpace(arg))
	case "/history":
		c.showHistory()
	case "/tools":
		c.listTools()
	default:
		fmt.Printf("%sunknown command %s%s\n", colorYellow, name, colorReset)
	}
	return false
}

// send runs one exchange synchronously: persist, run the supervisor, persist the reply
func (c *CLI) send(text string) error {
	thread, created, err := c.threads.GetOrCreateThread(c.ctx, c.userID, c.threadID)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("%s(new thread %s)%s\n", colorBlue, thread.ID, colorReset)
	}
	c.threadID = thread.ID

	if _, err := c.threads.CreateMessage(c.ctx, &services.CreateMessageRequest{
		ThreadID: thread.ID,
		UserID:   c.userID,
		Role:     string(models.RoleUser),
		Content:  models.TextContent(text),
	}); err != nil {
		return err
	}

	run, err := c.threads.CreateRun(c.ctx, &services.CreateRunRequest{ThreadID: thread.ID, UserID: c.userID})
	if err != nil {
		return err
	}
	if _, err := c.threads.UpdateRunStatus(c.ctx, run.ID, models.RunStatusInProgress, nil); err != nil {
		return err
	}

	history, err := c.threads.GetThreadMessages(c.ctx, thread.ID, c.userID, config.DefaultHistoryLimit)
	if err != nil {
		return err
	}

	result, err := c.supervisor.Execute(c.ctx, agent.AgentRequest{
		ThreadID:     thread.ID,
		RunID:        run.ID,
		UserID:       c.userID,
		Model:        run.Model,
		Instructions: run.Instructions,
		History:      history,
		Input:        text,
	})
	if err != nil {
		reason := err.Error()
		_, _ = c.threads.UpdateRunStatus(c.ctx, run.ID, models.RunStatusFailed, &reason)
		return err
	}

	for _, call := range result.ToolCalls {
		status := colorBlue
		if call.IsError {
			status = colorRed
		}
		fmt.Printf("%s[tool %s]%s %s\n", status, call.Name, colorReset, truncate(call.Output, 120))
	}

	assistantID := run.AssistantID
	runID := run.ID
	if _, err := c.threads.CreateMessage(c.ctx, &services.CreateMessageRequest{
		ThreadID:    thread.ID,
		UserID:      c.userID,
		Role:        string(models.RoleAssistant),
		Content:     models.TextContent(result.Text),
		AssistantID: &assistantID,
		RunID:       &runID,
		Metadata:    map[string]interface{}{"model": result.Model, "rounds": result.Rounds},
	}); err != nil {
		return err
	}
	if _, err := c.threads.UpdateRunStatus(c.ctx, run.ID, models.RunStatusCompleted, nil); err != nil {
		return err
	}

	fmt.Printf("%s%s%s\n", colorCyan, result.Text, colorReset)
	return nil
}

func (c *CLI) listThreads() {
	threads, err := c.threads.ListThreads(c.ctx, c.userID, config.DefaultThreadPageSize, 0)
	if err != nil {
		c.printError(err)
		return
	}
	if len(threads) == 0 {
		fmt.Println("No threads yet")
		return
	}
	for i, t := range threads {
		marker := " "
		if t.ID == c.threadID {
			marker = "*"
		}
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s %d. %s %s(%s)%s\n", marker, i+1, title, colorBlue, t.ID, colorReset)
	}
}

func (c *CLI) switchThread(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		fmt.Printf("%susage: /switch <number from /threads>%s\n", colorYellow, colorReset)
		return
	}
	threads, err := c.threads.ListThreads(c.ctx, c.userID, config.DefaultThreadPageSize, 0)
	if err != nil {
		c.printError(err)
		return
	}
	if n > len(threads) {
		fmt.Printf("%sno thread %d%s\n", colorYellow, n, colorReset)
		return
	}
	c.threadID = threads[n-1].ID
	c.showHistory()
}

func (c *CLI) showHistory() {
	if c.threadID == "" {
		fmt.Println("No active thread")
		return
	}
	messages, err := c.threads.GetThreadMessages(c.ctx, c.threadID, c.userID, 0)
	if err != nil {
		c.printError(err)
		return
	}
	for _, m := range messages {
		color := colorGreen
		if m.Role == models.RoleAssistant {
			color = colorCyan
		}
		fmt.Printf("%s%s:%s %s\n", color, m.Role, colorReset, m.Text())
	}
}

func (c *CLI) listTools() {
	tools := c.mcp.ListAllTools(c.ctx)
	if len(tools) == 0 {
		fmt.Println("No MCP tools available")
		return
	}
	for _, t := range tools {
		fmt.Printf("%s%s%s %s\n", colorBlue, agent.MCPToolName(t.Server, t.Name), colorReset, t.Description)
	}
}

func (c *CLI) printError(err error) {
	friendly := c.errors.Map(err)
	fmt.Printf("%s%s:%s %s\n", colorRed, friendly.Title, colorReset, friendly.Message)
	for _, s := range friendly.Suggestions {
		fmt.Printf("  - %s\n", s)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
