package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/clawinfra/skillclaw/internal/audit"
	"github.com/clawinfra/skillclaw/internal/engine"
	"github.com/clawinfra/skillclaw/internal/history"
	"github.com/clawinfra/skillclaw/internal/manifest"
	"github.com/clawinfra/skillclaw/internal/runner"
	"github.com/clawinfra/skillclaw/internal/skill"
	"github.com/clawinfra/skillclaw/internal/vault"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("skillclaw", flag.ExitOnError)
	manifestPath := fs.String("manifest", defaultManifestPath(), "Path to skillclaw.toml")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Printf("skillclaw v%s (built %s)\n", version, buildTime)
		return 0
	}

	args := fs.Args()
	if len(args) == 0 {
		usage()
		return 1
	}

	switch args[0] {
	case "run":
		return cmdRun(*manifestPath, args[1:])
	case "skills":
		return cmdSkills(*manifestPath)
	case "tools":
		return cmdTools(*manifestPath, args[1:])
	case "audit":
		return cmdAudit(*manifestPath, args[1:])
	case "secret":
		return cmdSecret(*manifestPath, args[1:])
	case "validate":
		return cmdValidate(*manifestPath, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: skillclaw [-manifest path] <command>")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run <skill> <instance> <tool> [key=value...]   invoke a tool")
	fmt.Fprintln(os.Stderr, "  skills                                         list loaded skills")
	fmt.Fprintln(os.Stderr, "  tools <skill>                                  list a skill's tools")
	fmt.Fprintln(os.Stderr, "  audit [-n limit]                               show recent audit events")
	fmt.Fprintln(os.Stderr, "  secret set|rm <skill> <instance> <key>         manage credentials")
	fmt.Fprintln(os.Stderr, "  validate <skill> <instance>                    validate instance config")
}

func defaultManifestPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "skillclaw.toml"
	}
	return home + "/.skillclaw/skillclaw.toml"
}

// app bundles the wired runtime components.
type app struct {
	cfg      manifest.Config
	logger   *slog.Logger
	engine   *engine.Engine
	auditLog *audit.Logger
	history  *history.Store
	vault    vault.Store
	wasm     *runner.Wasm
}

func buildApp(manifestPath string) (*app, error) {
	base := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewTextHandler(os.Stderr, base))

	registry, cfg, err := manifest.Load(manifestPath, logger)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel == "debug" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	store, err := vault.OpenKeyring(cfg.VaultFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	auditLog, err := audit.New(cfg.AuditLog, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	ctx := context.Background()
	wasmRunner := runner.NewWasm(ctx, cfg.WasmMemoryPages, logger)
	containerRunner := runner.NewContainer(cfg.DockerBinary, logger)
	runners := []runner.Runner{
		wasmRunner,
		runner.NewNative(logger),
		containerRunner,
	}

	if hasContainerSkills(registry) {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if !containerRunner.Available(probeCtx) {
			logger.Warn("docker is not reachable, container skills will fail", "binary", cfg.DockerBinary)
		}
		cancel()
	}

	opts := []engine.Option{}
	if d := cfg.DefaultTimeout(); d > 0 {
		opts = append(opts, engine.WithDefaultTimeout(d))
	}

	var hist *history.Store
	if cfg.HistoryDB != "" {
		hist, err = history.Open(cfg.HistoryDB, logger)
		if err != nil {
			logger.Warn("history store unavailable", "error", err)
		} else {
			opts = append(opts, engine.WithHistory(hist))
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		engine:   engine.New(registry, store, auditLog, runners, logger, opts...),
		auditLog: auditLog,
		history:  hist,
		vault:    store,
		wasm:     wasmRunner,
	}, nil
}

func hasContainerSkills(registry *skill.Registry) bool {
	for _, def := range registry.Skills() {
		if def.Runtime == skill.RuntimeContainer {
			return true
		}
	}
	return false
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
	a.auditLog.Close()
	a.wasm.Close(context.Background())
}

func cmdRun(manifestPath string, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	timeout := fs.Duration("timeout", 0, "Per-call deadline (e.g. 10s)")
	filter := fs.String("filter", "", "Keep only output lines matching this pattern")
	field := fs.String("field", "", "Extract a dot-separated JSON field from the output")
	head := fs.Int("head", 0, "Keep only the first N output lines")
	tail := fs.Int("tail", 0, "Keep only the last N output lines")
	maxBytes := fs.Int("max-bytes", 0, "Cap output size in bytes")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: skillclaw run <skill> <instance> <tool> [key=value...]")
		return 1
	}

	callArgs := make(map[string]string)
	for _, kv := range rest[3:] {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			fmt.Fprintf(os.Stderr, "Bad argument %q, want key=value\n", kv)
			return 1
		}
		callArgs[kv[:idx]] = kv[idx+1:]
	}

	a, err := buildApp(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	inv := &skill.Invocation{
		Skill:    rest[0],
		Instance: rest[1],
		Tool:     rest[2],
		Args:     callArgs,
		Timeout:  *timeout,
	}
	if *filter != "" || *field != "" || *head > 0 || *tail > 0 || *maxBytes > 0 {
		inv.Output = &skill.Directives{
			Filter:   *filter,
			Field:    *field,
			Head:     *head,
			Tail:     *tail,
			MaxBytes: *maxBytes,
		}
	}

	result := a.engine.Execute(context.Background(), inv)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", result.Error.Code, result.Error.Message)
		return 1
	}
	fmt.Print(result.Output)
	if result.Output != "" && !strings.HasSuffix(result.Output, "\n") {
		fmt.Println()
	}
	return 0
}

func cmdSkills(manifestPath string) int {
	a, err := buildApp(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	for _, def := range a.engine.Registry().Skills() {
		var instances []string
		for _, inst := range a.engine.Registry().Instances(def.Name) {
			instances = append(instances, inst.Name)
		}
		fmt.Printf("%s %s (%s) instances: %s\n", def.Name, def.Version, def.Runtime, strings.Join(instances, ", "))
	}
	return 0
}

func cmdTools(manifestPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: skillclaw tools <skill>")
		return 1
	}
	a, err := buildApp(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	def, ok := a.engine.Registry().Skill(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown skill: %s\n", args[0])
		return 1
	}
	for _, tool := range def.Tools {
		fmt.Printf("%s - %s\n", tool.Name, tool.Description)
		for _, p := range tool.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("  %s (%s, %s) %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return 0
}

func cmdAudit(manifestPath string, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	limit := fs.Int("n", 20, "Number of events to show")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_, cfg, err := manifest.Load(manifestPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	events, err := audit.ReadRecent(cfg.AuditLog, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, ev := range events {
		line, _ := json.Marshal(ev)
		fmt.Println(string(line))
	}
	return 0
}

func cmdSecret(manifestPath string, args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: skillclaw secret set|rm <skill> <instance> <key>")
		return 1
	}
	a, err := buildApp(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	op, skillName, instName, key := args[0], args[1], args[2], args[3]
	switch op {
	case "set":
		// The value is read from stdin so it never appears in the
		// process list or shell history.
		fmt.Fprint(os.Stderr, "Value: ")
		reader := bufio.NewReader(os.Stdin)
		value, err := reader.ReadString('\n')
		if err != nil && value == "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := a.vault.Set(skillName, instName, key, strings.TrimRight(value, "\r\n")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Stored credential %s for %s/%s\n", key, skillName, instName)
		return 0
	case "rm":
		if err := a.vault.Delete(skillName, instName, key); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Removed credential %s for %s/%s\n", key, skillName, instName)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown secret operation: %s\n", op)
		return 1
	}
}

func cmdValidate(manifestPath string, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: skillclaw validate <skill> <instance>")
		return 1
	}
	a, err := buildApp(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.engine.ValidateConfig(ctx, args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		return 1
	}
	fmt.Println("Configuration is valid")
	return 0
}
