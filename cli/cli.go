package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"cosmicwatch/models"
)

// CLIHttp is the interactive operator console for a cosmicwatch server.
type CLIHttp struct {
	rl         *readline.Instance
	running    bool
	client     *Client
	config     *Config
	serverName string
	out        io.Writer
}

// NewCLIHttp connects to server, which is either a URL or a profile name;
// empty selects the current profile.
func NewCLIHttp(cfg *Config, server string) (*CLIHttp, error) {
	c, err := newCLI(cfg, server, os.Stdout)
	if err != nil {
		return nil, err
	}

	if _, err := c.client.HealthCheck(); err != nil {
		var apiErr *APIError
		// A degraded server still answers; only transport failures are fatal.
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("cannot connect to server: %v", err)
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %v", err)
	}
	c.rl = rl
	return c, nil
}

func newCLI(cfg *Config, server string, out io.Writer) (*CLIHttp, error) {
	c := &CLIHttp{running: true, config: cfg, out: out}
	switch {
	case strings.HasPrefix(server, "http://"), strings.HasPrefix(server, "https://"):
		c.client = NewClient(strings.TrimRight(server, "/"), "")
	default:
		if cfg == nil {
			return nil, fmt.Errorf("no CLI configuration for profile %q", server)
		}
		p, err := cfg.Resolve(server)
		if err != nil {
			return nil, err
		}
		if server == "" {
			server = cfg.Current
		}
		c.serverName = server
		c.client = NewClient(strings.TrimRight(p.URL, "/"), p.Token)
	}
	return c, nil
}

// Start runs the CLI loop
func (c *CLIHttp) Start() {
	defer c.rl.Close()
	c.printWelcome()

	for c.running {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Fprintln(c.out, "\n⚠ Ctrl+C detected. Please use 'exit' or 'quit' command to exit gracefully.")
				continue
			}
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		c.handleCommand(input)
	}
}

func (c *CLIHttp) printWelcome() {
	FprintBanner(c.out, "cosmicwatch - Operator Console", bannerDefaultWidth)
	fmt.Fprintf(c.out, "\nConnected to: %s\n", c.client.baseURL)
	fmt.Fprintln(c.out, "Type 'help' for available commands")
}

// handleCommand routes user commands
func (c *CLIHttp) handleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.showHelp()
	case "health", "st":
		c.handleHealth(args)
	case "overview":
		c.handleOverview()
	case "components", "comp":
		c.handleComponents(args)
	case "events":
		c.handleEvents(args)
	case "logs":
		c.handleLogs(args)
	case "errors":
		c.handleErrors()
	case "perf":
		c.handlePerf(args)
	case "journey":
		c.handleJourney(args)
	case "cleanup":
		c.handleCleanup(args)
	case "corrections", "corr":
		c.handleCorrections(args)
	case "classify":
		c.handleClassify(args)
	case "stats":
		c.handleStats()
	case "version":
		c.handleVersion()
	case "login":
		c.handleLogin(args)
	case "token":
		c.handleToken(args)
	case "server":
		c.handleServer(args)
	case "shutdown":
		c.handleShutdown()
	case "clear":
		fmt.Fprint(c.out, "\033[H\033[2J")
	case "exit", "quit", "q":
		fmt.Fprintln(c.out, "\nGoodbye!")
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}
}

func (c *CLIHttp) showHelp() {
	fmt.Fprintln(c.out)
	FprintBanner(c.out, "Available Commands", bannerDefaultWidth)
	fmt.Fprintln(c.out)

	commands := [][]string{
		{"help, h, ?", "Show this help message"},
		{"", ""},
		{"SERVER RUNTIME:", ""},
		{"health [component]", "Show runtime health of the server"},
		{"events [filters] [page]", "List buffered runtime events"},
		{"corrections [list|stats|clear]", "Inspect the auto-correction history"},
		{"classify [--status N] <message>", "Classify an error message"},
		{"", ""},
		{"STORED LOGS:", ""},
		{"logs [filters] [page]", "Query stored client logs"},
		{"overview", "Application health over stored logs"},
		{"components [name]", "Component health over stored logs"},
		{"errors", "Error analytics"},
		{"perf [component]", "Duration statistics"},
		{"journey <sessionId>", "Replay a session"},
		{"cleanup [days]", "Delete logs older than days"},
		{"", ""},
		{"  filters: --component --session --category --level --status --since --until --limit", ""},
		{"", ""},
		{"ACCESS:", ""},
		{"login <refreshToken>", "Exchange a refresh token for an access token"},
		{"token issue <userId>", "Issue a refresh token"},
		{"server list|use|add|remove", "Manage configured servers"},
		{"", ""},
		{"SYSTEM:", ""},
		{"stats", "Show server metrics"},
		{"version", "Show server version"},
		{"shutdown", "Shut the server down (asks for a code)"},
		{"clear", "Clear screen"},
		{"exit, quit, q", "Exit the program"},
	}

	for _, cmd := range commands {
		if cmd[0] != "" {
			fmt.Fprintf(c.out, "  %-34s %s\n", cmd[0], cmd[1])
		} else {
			fmt.Fprintln(c.out)
		}
	}
}

func (c *CLIHttp) printErr(err error) {
	fmt.Fprintf(c.out, "Error: %v\n", err)
}

func (c *CLIHttp) handleHealth(args []string) {
	if len(args) > 0 {
		h, err := c.client.RuntimeComponentHealth(args[0])
		if err != nil {
			c.printErr(err)
			return
		}
		fmt.Fprintf(c.out, "%s %s %.0f (%s)\n", h.ComponentName, healthBar(h.HealthScore), h.HealthScore, h.Status)
		fmt.Fprintf(c.out, "  mounted=%v events=%d errors=%d warnings=%d validationFailures=%d interactions=%d\n",
			h.Mounted, h.Total, h.Errors, h.Warnings, h.ValidationFailures, h.Interactions)
		return
	}

	h, err := c.client.RuntimeHealth()
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintln(c.out)
	FprintBanner(c.out, fmt.Sprintf("Runtime Health: %.0f (%s)", h.OverallHealth, h.Status), bannerDefaultWidth)
	fmt.Fprintf(c.out, "Components: %d (active %d)  Events: %d  Errors: %d  Warnings: %d\n\n",
		h.TotalComponents, h.ActiveComponents, h.TotalEvents, h.TotalErrors, h.TotalWarnings)
	if len(h.Components) == 0 {
		fmt.Fprintln(c.out, "No components tracked.")
		return
	}
	fmt.Fprintf(c.out, "%-24s %-22s %-6s %-9s %-7s %-8s\n", "Component", "Health", "Score", "Status", "Errors", "Warnings")
	fmt.Fprintln(c.out, strings.Repeat("-", 82))
	for _, ch := range h.Components {
		fmt.Fprintf(c.out, "%-24s %-22s %-6.0f %-9s %-7d %-8d\n",
			truncate(ch.ComponentName, 24), healthBar(ch.HealthScore), ch.HealthScore, ch.Status, ch.Errors, ch.Warnings)
	}
}

func (c *CLIHttp) handleOverview() {
	h, err := c.client.ApplicationHealth()
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintf(c.out, "Overall %s %.0f (%s)\n", healthBar(h.OverallHealth), h.OverallHealth, h.Status)
	fmt.Fprintf(c.out, "Components: %d  Events: %d  Errors: %d  Warnings: %d  Validation failures: %d  Avg response: %dms\n",
		h.TotalComponents, h.TotalEvents, h.TotalErrors, h.TotalWarnings, h.ValidationFailures, h.AvgResponseTime)
	if len(h.RecentErrors) > 0 {
		fmt.Fprintln(c.out, "\nRecent errors:")
		c.printEvents(h.RecentErrors)
	}
}

func (c *CLIHttp) handleComponents(args []string) {
	component := ""
	if len(args) > 0 {
		component = args[0]
	}
	list, err := c.client.ComponentHealth(component)
	if err != nil {
		c.printErr(err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No stored logs for any component.")
		return
	}

	fmt.Fprintf(c.out, "%-24s %-6s %-9s %-7s %-7s %-8s %-10s %-20s\n",
		"Component", "Score", "Status", "Events", "Errors", "Warnings", "AvgMs", "Last Seen")
	fmt.Fprintln(c.out, strings.Repeat("-", 98))
	for _, ch := range list {
		fmt.Fprintf(c.out, "%-24s %-6.0f %-9s %-7d %-7d %-8d %-10.1f %-20s\n",
			truncate(ch.Component, 24), ch.HealthScore, ch.Status, ch.Total, ch.Errors, ch.Warnings,
			ch.AvgDuration, ch.LastSeen.Local().Format("2006-01-02 15:04:05"))
	}
}

func (c *CLIHttp) handleEvents(args []string) {
	_, query, err := parseLogFilterArgs(args)
	if err != nil {
		c.printErr(err)
		fmt.Fprintln(c.out, "Usage: events [--component c] [--level l] [--category c] [--status s] [--limit n]")
		return
	}
	res, err := c.client.RuntimeEvents(query)
	if err != nil {
		c.printErr(err)
		return
	}
	if len(res.Events) == 0 {
		fmt.Fprintln(c.out, "No runtime events match.")
		return
	}
	fmt.Fprintf(c.out, "Session %s, %d event(s)\n\n", res.SessionID, res.Total)
	c.printEvents(res.Events)
}

func (c *CLIHttp) handleLogs(args []string) {
	page, query, err := parseLogFilterArgs(args)
	if err != nil {
		c.printErr(err)
		fmt.Fprintln(c.out, "Usage: logs [--component c] [--session s] [--level l] [--category c] [--status s] [--since t] [--until t] [page]")
		return
	}
	query.Set("page", strconv.Itoa(page))
	if query.Get("limit") == "" {
		query.Set("limit", "20")
	}

	res, err := c.client.Logs(query)
	if err != nil {
		c.printErr(err)
		return
	}
	if res.Pagination.Total == 0 {
		fmt.Fprintln(c.out, "No stored logs match.")
		return
	}

	fmt.Fprintln(c.out)
	FprintBanner(c.out, fmt.Sprintf("Logs (Page %d/%d, Total: %d)", res.Pagination.Page, res.Pagination.Pages, res.Pagination.Total), bannerDefaultWidth)
	fmt.Fprintln(c.out)
	c.printEvents(res.Logs)
}

func (c *CLIHttp) printEvents(events []models.Event) {
	fmt.Fprintf(c.out, "%-20s %-6s %-12s %-20s %-8s %s\n", "Time", "Level", "Category", "Component", "Check", "Message")
	fmt.Fprintln(c.out, strings.Repeat("-", 110))
	for _, ev := range events {
		check := "-"
		if ev.Validation != nil {
			check = ev.Validation.Status
		}
		fmt.Fprintf(c.out, "%-20s %-6s %-12s %-20s %-8s %s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.Level, ev.Category,
			truncate(ev.Component, 20), check, truncate(ev.Message, 50))
	}
}

func (c *CLIHttp) handleErrors() {
	res, err := c.client.ErrorAnalytics()
	if err != nil {
		c.printErr(err)
		return
	}
	if len(res.ErrorsByComponent) == 0 && len(res.ErrorsByType) == 0 {
		fmt.Fprintln(c.out, "No stored errors.")
		return
	}

	fmt.Fprintln(c.out, "By component:")
	for _, ce := range res.ErrorsByComponent {
		fmt.Fprintf(c.out, "  %-24s %5d  %s\n", truncate(ce.Component, 24), ce.Count, truncate(strings.Join(ce.UniqueErrors, "; "), 60))
	}
	fmt.Fprintln(c.out, "\nBy category:")
	for _, cc := range res.ErrorsByType {
		fmt.Fprintf(c.out, "  %-24s %5d\n", cc.Category, cc.Count)
	}
	if len(res.ErrorTimeline) > 0 {
		fmt.Fprintln(c.out, "\nLast 24h:")
		for _, hc := range res.ErrorTimeline {
			fmt.Fprintf(c.out, "  %s UTC %5d\n", hc.Hour, hc.Count)
		}
	}
}

func (c *CLIHttp) handlePerf(args []string) {
	component := ""
	if len(args) > 0 {
		component = args[0]
	}
	stats, err := c.client.Performance(component)
	if err != nil {
		c.printErr(err)
		return
	}
	if len(stats) == 0 {
		fmt.Fprintln(c.out, "No duration data.")
		return
	}
	fmt.Fprintf(c.out, "%-28s %-9s %-9s %-9s %-9s %-6s\n", "Name", "Avg", "Min", "Max", "P95", "Count")
	fmt.Fprintln(c.out, strings.Repeat("-", 76))
	for _, s := range stats {
		fmt.Fprintf(c.out, "%-28s %-9.2f %-9.2f %-9.2f %-9.2f %-6d\n",
			truncate(s.Name, 28), s.AvgDuration, s.MinDuration, s.MaxDuration, s.P95Duration, s.Count)
	}
}

func (c *CLIHttp) handleJourney(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: journey <sessionId>")
		return
	}
	j, err := c.client.Journey(args[0])
	if err != nil {
		c.printErr(err)
		return
	}
	s := j.Summary
	if s.TotalEvents == 0 {
		fmt.Fprintf(c.out, "No events for session %s.\n", args[0])
		return
	}
	fmt.Fprintf(c.out, "Session %s: %d events, %d errors, %dms\n", s.SessionID, s.TotalEvents, s.Errors, s.DurationMS)
	fmt.Fprintf(c.out, "Components: %s\n", strings.Join(s.Components, ", "))
	if len(s.Pages) > 0 {
		fmt.Fprintf(c.out, "Pages: %s\n", strings.Join(s.Pages, " → "))
	}
	fmt.Fprintln(c.out)
	c.printEvents(j.Journey)
}

func (c *CLIHttp) handleCleanup(args []string) {
	days := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(c.out, "Usage: cleanup [days]")
			return
		}
		days = n
	}
	deleted, err := c.client.Cleanup(days)
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintf(c.out, "✓ Deleted %d log(s)\n", deleted)
}

func (c *CLIHttp) handleCorrections(args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list", "ls":
		records, err := c.client.Corrections()
		if err != nil {
			c.printErr(err)
			return
		}
		if len(records) == 0 {
			fmt.Fprintln(c.out, "No correction attempts recorded.")
			return
		}
		fmt.Fprintf(c.out, "%-20s %-24s %-20s %-16s %-4s %-7s %s\n", "Time", "Error Type", "Component", "Action", "Try", "Result", "Outcome")
		fmt.Fprintln(c.out, strings.Repeat("-", 110))
		for _, r := range records {
			result := "failed"
			if r.Success {
				result = "ok"
			}
			fmt.Fprintf(c.out, "%-20s %-24s %-20s %-16s %-4d %-7s %s\n",
				r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.ErrorType, truncate(r.Component, 20),
				truncate(r.Action, 16), r.Attempt, result, truncate(r.Outcome, 30))
		}
	case "stats":
		stats, err := c.client.CorrectionStats()
		if err != nil {
			c.printErr(err)
			return
		}
		fmt.Fprintf(c.out, "Total: %d  Successful: %d  Failed: %d\n", stats.Total, stats.Successful, stats.Failed)
		for _, name := range sortedKeys(stats.ByType) {
			t := stats.ByType[name]
			fmt.Fprintf(c.out, "  %-24s total=%d ok=%d failed=%d\n", name, t.Total, t.Successful, t.Failed)
		}
	case "clear":
		if err := c.client.ClearCorrections(); err != nil {
			c.printErr(err)
			return
		}
		fmt.Fprintln(c.out, "✓ Correction history cleared")
	default:
		fmt.Fprintf(c.out, "Unknown corrections command: %s\n", sub)
	}
}

func (c *CLIHttp) handleClassify(args []string) {
	status := 0
	var words []string
	for i := 0; i < len(args); i++ {
		if name, value, ok := strings.Cut(args[i], "="); ok && name == "--status" {
			status, _ = strconv.Atoi(value)
			continue
		}
		if args[i] == "--status" && i+1 < len(args) {
			status, _ = strconv.Atoi(args[i+1])
			i++
			continue
		}
		words = append(words, args[i])
	}
	if len(words) == 0 {
		fmt.Fprintln(c.out, "Usage: classify [--status N] <message>")
		return
	}

	res, err := c.client.Classify(strings.Join(words, " "), status)
	if err != nil {
		c.printErr(err)
		return
	}
	if res.HasStrategy {
		fmt.Fprintf(c.out, "%s → %s\n", res.Category, res.Strategy)
	} else {
		fmt.Fprintf(c.out, "%s (no correction strategy)\n", res.Category)
	}
}

func (c *CLIHttp) handleStats() {
	m, err := c.client.Metrics()
	if err != nil {
		c.printErr(err)
		return
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprint(c.out, string(data))
}

func (c *CLIHttp) handleVersion() {
	v, err := c.client.Version()
	if err != nil {
		c.printErr(err)
		return
	}
	for _, k := range sortedKeys(v) {
		fmt.Fprintf(c.out, "%-12s %s\n", k+":", v[k])
	}
}

func (c *CLIHttp) handleLogin(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: login <refreshToken>")
		return
	}
	res, err := c.client.Login(args[0])
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintf(c.out, "✓ Logged in, access token valid until %s\n", res.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	if c.config != nil && c.serverName != "" {
		if err := c.config.SaveToken(c.serverName, res.Token); err != nil {
			fmt.Fprintf(c.out, "Warning: token not saved: %v\n", err)
		}
	}
}

func (c *CLIHttp) handleToken(args []string) {
	if len(args) < 2 || args[0] != "issue" {
		fmt.Fprintln(c.out, "Usage: token issue <userId>")
		return
	}
	token, expiresAt, err := c.client.IssueRefreshToken(args[1])
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintf(c.out, "Refresh token (shown once, expires %s):\n%s\n", expiresAt.Local().Format("2006-01-02"), token)
}

func (c *CLIHttp) handleServer(args []string) {
	if c.config == nil {
		fmt.Fprintln(c.out, "No CLI configuration loaded.")
		return
	}
	if len(args) == 0 {
		args = []string{"list"}
	}

	var err error
	switch args[0] {
	case "list", "ls":
		for _, name := range c.config.Names() {
			s := c.config.Profiles[name]
			marker := " "
			if name == c.config.Current {
				marker = "*"
			}
			fmt.Fprintf(c.out, "%s %-12s %-32s %s\n", marker, name, s.URL, s.Description)
		}
		return
	case "use":
		if len(args) < 2 {
			fmt.Fprintln(c.out, "Usage: server use <name>")
			return
		}
		var next *CLIHttp
		if next, err = newCLI(c.config, args[1], c.out); err == nil {
			c.client, c.serverName = next.client, next.serverName
			err = c.config.Use(args[1])
			fmt.Fprintf(c.out, "Now using %s (%s)\n", args[1], c.client.baseURL)
		}
	case "add":
		if len(args) < 3 {
			fmt.Fprintln(c.out, "Usage: server add <name> <url> [description]")
			return
		}
		err = c.config.Upsert(args[1], args[2], strings.Join(args[3:], " "))
	case "remove", "rm":
		if len(args) < 2 {
			fmt.Fprintln(c.out, "Usage: server remove <name>")
			return
		}
		err = c.config.Remove(args[1])
	default:
		fmt.Fprintf(c.out, "Unknown server command: %s\n", args[0])
		return
	}
	if err != nil {
		c.printErr(err)
	}
}

func (c *CLIHttp) handleShutdown() {
	code, err := c.client.ShutdownCode()
	if err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintf(c.out, "Shutdown code: %s (valid for 5 minutes)\n", code)

	input, cancelled := c.readInputWithCancel("Type the code to confirm", "")
	if cancelled || input == "" {
		fmt.Fprintln(c.out, "Shutdown cancelled.")
		return
	}
	if err := c.client.Shutdown(input); err != nil {
		c.printErr(err)
		return
	}
	fmt.Fprintln(c.out, "✓ Server is shutting down")
	c.running = false
}

// readInputWithCancel reads one line; Ctrl+C cancels. Without a terminal it returns the default.
func (c *CLIHttp) readInputWithCancel(prompt, defaultValue string) (string, bool) {
	if c.rl == nil {
		return defaultValue, false
	}
	if defaultValue != "" {
		c.rl.SetPrompt(fmt.Sprintf("%s [%s]: ", prompt, defaultValue))
	} else {
		c.rl.SetPrompt(fmt.Sprintf("%s: ", prompt))
	}

	line, err := c.rl.Readline()
	c.rl.SetPrompt("> ")

	if err != nil {
		if err == readline.ErrInterrupt {
			return "", true
		}
		return defaultValue, false
	}

	input := strings.TrimSpace(line)
	if input == "" {
		return defaultValue, false
	}
	return input, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
