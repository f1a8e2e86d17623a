package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/starford/tanda/internal/discover"
	"github.com/starford/tanda/internal/generate"
	"github.com/starford/tanda/internal/mcpserver"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/trace"
)

const quickstartConfig = `# Configuration for the td registry
app:
  log_level: INFO
daemon:
  interval_seconds: 30
  trace_dir: traces
# AI provider configuration for td generate
ai:
  provider: %s
  model: ""
`

const quickstartEnv = `# Copy to your shell rc file or run 'source .tandas/env.example'
export ANTHROPIC_API_KEY="sk-ant-..."
export OPENAI_API_KEY="sk-openai-..."
export GEMINI_API_KEY="sk-gemini-..."
`

const quickstartApp = `{
  "app_url": "http://localhost:3000"
}
`

func quickstartCommand() *cli.Command {
	return &cli.Command{
		Name:  "quickstart",
		Usage: "Scaffold config/env files so td is ready after init",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Value: "claude", Usage: "Default AI provider (claude, openai, gemini)"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite existing config/env files"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg := &cfg.Registry
			if _, err := os.Stat(reg.LogPath()); err != nil {
				fmt.Printf("%sRegistry not found. Initializing first...%s\n", cyan, reset)
				if err := initCommand().Action(ctx, cmd); err != nil {
					return err
				}
			}

			force := cmd.Bool("force")
			writeTemplate := func(path, content string) bool {
				if _, err := os.Stat(path); err == nil && !force {
					warnf("%s already exists. Skipping.", path)
					return false
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					warnf("write %s failed: %v", path, err)
					return false
				}
				return true
			}

			writeTemplate(reg.ConfigPath(), fmt.Sprintf(quickstartConfig, cmd.String("provider")))
			writeTemplate(filepath.Join(reg.Dir, "env.example"), quickstartEnv)
			writeTemplate("tanda.json", quickstartApp)

			fmt.Println("\nNext steps:")
			fmt.Println("  1. Fill in API keys in .tandas/env.example or export them in your shell.")
			fmt.Println("  2. Edit .tandas/config.yaml to pick a different provider or model.")
			fmt.Println("  3. Run 'td generate <id>' to draft a test using your provider.")
			return nil
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Auto-discover and import test files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"d"}, Value: ".", Usage: "Directory to search"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Show skipped files"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := a.store.LoadAll()
			if err != nil {
				return err
			}
			res, err := discover.Run(a.svc, existing, cmd.String("search"), nil)
			if err != nil {
				return err
			}

			for _, t := range res.Created {
				fmt.Printf("  %sCreated:%s %s -> %s\n", green, reset, t.ID, t.File)
			}
			if cmd.Bool("verbose") {
				for _, path := range res.Skipped {
					fmt.Printf("  %sSkip:%s %s (already registered)\n", yellow, reset, path)
				}
			}

			if len(res.Created) > 0 {
				if _, err := a.svc.SyncCache(); err != nil {
					warnf("cache sync failed: %v", err)
				}
			}

			msg := fmt.Sprintf("Discovered %d new test(s)", len(res.Created))
			if len(res.Skipped) > 0 {
				msg += fmt.Sprintf(", %d already registered", len(res.Skipped))
			}
			successf("\n%s", msg)
			return nil
		},
	}
}

func traceCommand() *cli.Command {
	return &cli.Command{
		Name:  "trace",
		Usage: "Manage trace files and link them to records",
		Commands: []*cli.Command{
			{
				Name:  "scan",
				Usage: "Scan a directory for new trace files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "search", Aliases: []string{"d"}, Value: "test-results", Usage: "Directory to scan"},
					&cli.StringSliceFlag{Name: "ext", Usage: "File extension filter (repeatable)"},
					&cli.StringFlag{Name: "source", Value: "scan", Usage: "Source label stored in the inbox"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(cmd)
					if err != nil {
						return err
					}
					defer cleanup()

					dir := cmd.String("search")
					if _, err := os.Stat(dir); err != nil {
						warnf("Trace directory %q not found.", dir)
						return nil
					}
					n, err := a.inbox.Scan(dir, cmd.StringSlice("ext"), cmd.String("source"), models.Now())
					if err != nil {
						return err
					}
					if n > 0 {
						successf("Discovered %d trace file(s). Link them with 'td trace link'.", n)
					} else {
						warnf("No new trace files found.")
					}
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List pending traces",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Show linked entries as well"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(cmd)
					if err != nil {
						return err
					}
					defer cleanup()

					var entries []trace.Entry
					if cmd.Bool("all") {
						entries, err = a.inbox.Load()
					} else {
						entries, err = a.inbox.Pending()
					}
					if err != nil {
						return err
					}
					if len(entries) == 0 {
						warnf("No trace entries found.")
						return nil
					}
					for _, e := range entries {
						line := fmt.Sprintf("[%s] %s (source: %s, ts: %s)", e.Status, e.Path, e.Source, e.Timestamp)
						if e.TandaID != "" {
							line += " → " + e.TandaID
						}
						fmt.Println(line)
					}
					return nil
				},
			},
			{
				Name:      "link",
				Usage:     "Link a trace file to a record",
				ArgsUsage: "<id> <trace>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "result", Value: "fail", Usage: "Result to record for the linked run"},
					&cli.StringFlag{Name: "duration", Usage: "Duration of the trace/run"},
					&cli.StringFlag{Name: "note", Usage: "Attach a note alongside the trace entry"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, tracePath := cmd.Args().Get(0), cmd.Args().Get(1)
					if id == "" || tracePath == "" {
						return fmt.Errorf("usage: td trace link <id> <trace>")
					}
					a, cleanup, err := newApp(cmd)
					if err != nil {
						return err
					}
					defer cleanup()

					norm := a.inbox.Normalize(tracePath)
					if _, err := os.Stat(norm); err != nil {
						warnf("Warning: trace path %q not found. Linking anyway.", norm)
					}

					t, err := a.svc.LinkTrace(id, norm, cmd.String("result"), cmd.String("duration"), cmd.String("note"))
					if err != nil {
						return err
					}

					linked, err := a.inbox.MarkLinked(norm, t.ID, models.Now())
					if err != nil {
						return err
					}
					if linked {
						successf("Linked trace %s to %s.", norm, t.ID)
					} else {
						warnf("Trace %s was not in the inbox; recorded anyway.", norm)
					}
					return nil
				},
			},
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a test skeleton via the configured AI provider",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "Provider override (claude, openai, gemini)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write output to file instead of stdout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().Get(0)
			if id == "" {
				return fmt.Errorf("id is required")
			}
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := a.svc.Get(id)
			if err != nil {
				return err
			}

			name := cmd.String("provider")
			if name == "" {
				name = a.cfg.AI.Provider
			}
			provider, err := generate.New(name, a.cfg.AI.Model)
			if err != nil {
				return err
			}

			tc := generate.Context{
				Tanda:         t,
				AppURL:        readAppURL("tanda.json"),
				ExistingTests: existingTestFiles(a, t.ID),
			}
			out, err := provider.GenerateTest(ctx, tc)
			if err != nil {
				return err
			}

			if path := cmd.String("output"); path != "" {
				if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				successf("Wrote generated test to %s", path)
				return nil
			}
			fmt.Println(out)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync the log to the SQLite cache and stage registry changes in git",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := a.svc.SyncCache()
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d tanda(s) to SQLite cache\n", n)

			if stageRegistry(a.cfg.Registry.Dir) {
				fmt.Printf("Staged %s/ changes for git\n", a.cfg.Registry.Dir)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve registry tools over the Model Context Protocol on stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			return mcpserver.New(a.svc).ServeStdio()
		},
	}
}

// stageRegistry adds the registry directory to the git index when it has
// pending changes. Reports whether anything was staged.
func stageRegistry(dir string) bool {
	if _, err := os.Stat(".git"); err != nil {
		return false
	}
	out, err := exec.Command("git", "status", "--porcelain", dir).Output()
	if err != nil || len(bytes.TrimSpace(out)) == 0 {
		return false
	}
	return exec.Command("git", "add", dir).Run() == nil
}

// readAppURL pulls app_url from the optional project config.
func readAppURL(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var parsed struct {
		AppURL string `json:"app_url"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return parsed.AppURL
}

// existingTestFiles lists registered test files to reference in prompts,
// excluding the target record.
func existingTestFiles(a *app, excludeID string) []string {
	tandas, err := a.store.LoadAll()
	if err != nil {
		return nil
	}
	var files []string
	for id, t := range tandas {
		if id != excludeID && t.File != "" {
			files = append(files, t.File)
		}
	}
	sort.Strings(files)
	if len(files) > 5 {
		files = files[:5]
	}
	return files
}
