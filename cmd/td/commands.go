package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/tanda/internal/health"
	"github.com/starford/tanda/internal/index"
	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/storage"
	"github.com/starford/tanda/internal/tandaservice"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize the registry in the current directory",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg := &cfg.Registry

			if _, err := os.Stat(reg.LogPath()); err == nil {
				fmt.Printf("Registry already initialized in %s/\n", reg.Dir)
				return nil
			}
			if err := os.MkdirAll(reg.Dir, 0o755); err != nil {
				return fmt.Errorf("create registry dir: %w", err)
			}

			logger := newLogger(cfg)
			store := storage.NewJSONL(reg.LogPath(), logger)
			if err := store.RewriteAll(map[string]*models.Tanda{}); err != nil {
				return fmt.Errorf("create log: %w", err)
			}
			idx, err := index.Open(reg.CachePath())
			if err != nil {
				return fmt.Errorf("create cache: %w", err)
			}
			idx.Close()

			stageRegistry(reg.Dir)

			successf("Registry initialized in %s/", reg.Dir)
			fmt.Printf("  Log:   %s\n", reg.LogPath())
			fmt.Printf("  Cache: %s\n", reg.CachePath())
			fmt.Println("\nNext: Run 'td discover' to import existing tests")
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new test record",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Path to test file"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Value: "active", Usage: "Initial status (active, flaky, deprecated)"},
			&cli.StringFlag{Name: "covers", Aliases: []string{"c"}, Usage: "Comma-separated coverage tags"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			title := cmd.Args().Get(0)
			if title == "" {
				return fmt.Errorf("title is required")
			}
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := a.svc.Create(title, models.Status(cmd.String("status")), cmd.String("file"), splitTags(cmd.String("covers")))
			if err != nil {
				return err
			}

			successf("Created tanda %s%s%s", bold, t.ID, reset)
			fmt.Printf("  Title:  %s\n", t.Title)
			fmt.Printf("  Status: %s\n", statusColor(t.Status))
			if t.File != "" {
				fmt.Printf("  File:   %s\n", t.File)
			}
			if len(t.Covers) > 0 {
				fmt.Printf("  Covers: %s\n", strings.Join(t.Covers, ", "))
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List test records",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "active", Aliases: []string{"a"}, Usage: "Show only active"},
			&cli.BoolFlag{Name: "flaky", Usage: "Show only flaky"},
			&cli.BoolFlag{Name: "deprecated", Usage: "Show only deprecated"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
			&cli.StringFlag{Name: "covers", Aliases: []string{"c"}, Usage: "Filter by coverage tag"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			f := index.Filter{Cover: cmd.String("covers")}
			switch {
			case cmd.Bool("active"):
				f.Status = models.StatusActive
			case cmd.Bool("flaky"):
				f.Status = models.StatusFlaky
			case cmd.Bool("deprecated"):
				f.Status = models.StatusDeprecated
			case cmd.String("status") != "":
				f.Status = models.Status(cmd.String("status"))
			}
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("invalid status %q", f.Status)
			}

			rows, err := a.svc.List(f)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				warnf("No tandas found.")
				fmt.Println("Run 'td discover' to import existing tests.")
				return nil
			}

			fmt.Printf("%s%-14s %-12s %-30s %-6s %s%s\n", bold, "ID", "Status", "Title", "Score", "File", reset)
			fmt.Println(strings.Repeat("-", 80))
			for _, row := range rows {
				fmt.Printf("%-14s %-21s %-30s %-6.2f %s\n",
					row.Tanda.ID,
					statusColor(row.Tanda.Status),
					truncate(row.Tanda.Title, 30),
					row.Flakiness,
					row.Tanda.File)
			}
			fmt.Printf("\n%d tanda(s)\n", len(rows))
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show detailed view of a single record",
		ArgsUsage: "<id>",
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

			fmt.Printf("%s%s%s\n", bold, t.ID, reset)
			fmt.Printf("  Title:      %s\n", t.Title)
			fmt.Printf("  Status:     %s\n", statusColor(t.Status))
			fmt.Printf("  File:       %s\n", orNone(t.File))
			fmt.Printf("  Covers:     %s\n", orNone(strings.Join(t.Covers, ", ")))
			fmt.Printf("  Depends on: %s\n", orNone(strings.Join(t.DependsOn, ", ")))
			fmt.Printf("  Flakiness:  %.2f\n", health.Score(t.RunHistory))
			fmt.Printf("  Created:    %s\n", t.CreatedAt)
			fmt.Printf("  Updated:    %s\n", t.UpdatedAt)

			if len(t.Notes) > 0 {
				fmt.Printf("\n%sNotes:%s\n", bold, reset)
				for _, n := range t.Notes {
					fmt.Printf("  [%s] %s: %s\n", n.Timestamp, n.Kind, n.Text)
				}
			}
			if len(t.RunHistory) > 0 {
				fmt.Printf("\n%sRecent runs:%s\n", bold, reset)
				runs := t.RunHistory
				if len(runs) > 5 {
					runs = runs[len(runs)-5:]
				}
				for _, r := range runs {
					line := fmt.Sprintf("  [%s] %s", r.Timestamp, r.Result)
					if r.Duration != "" {
						line += " (" + r.Duration + ")"
					}
					if r.Trace != "" {
						line += " trace: " + r.Trace
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Update a record's fields, dependencies, or run history",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "New status: active, flaky, deprecated"},
			&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Add a timestamped note"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Set file path"},
			&cli.StringFlag{Name: "covers", Aliases: []string{"c"}, Usage: "Set coverage tags (comma-separated)"},
			&cli.StringFlag{Name: "add-dep", Usage: "Add dependency on another record"},
			&cli.StringFlag{Name: "remove-dep", Usage: "Remove dependency"},
			&cli.StringFlag{Name: "run-result", Aliases: []string{"r"}, Usage: "Record a test run result (pass, fail, skip)"},
			&cli.StringFlag{Name: "run-duration", Usage: "Duration of test run (e.g. 2.3s)"},
			&cli.StringFlag{Name: "run-trace", Usage: "Path to trace file for the run"},
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

			changed := false

			if cmd.String("status") != "" || cmd.String("note") != "" || cmd.String("file") != "" || cmd.String("covers") != "" {
				var covers []string
				if cmd.String("covers") != "" {
					covers = splitTags(cmd.String("covers"))
				}
				if _, err := a.svc.Update(id, tandaservice.Update{
					Status: models.Status(cmd.String("status")),
					Note:   cmd.String("note"),
					File:   cmd.String("file"),
					Covers: covers,
				}); err != nil {
					return err
				}
				changed = true
			}

			if dep := cmd.String("add-dep"); dep != "" {
				t, depID, err := a.svc.AddDependency(id, dep)
				if err != nil {
					return err
				}
				successf("%s now depends on %s", t.ID, depID)
				changed = true
			}
			if dep := cmd.String("remove-dep"); dep != "" {
				t, depID, err := a.svc.RemoveDependency(id, dep)
				if err != nil {
					return err
				}
				successf("Removed dependency %s from %s", depID, t.ID)
				changed = true
			}

			if result := cmd.String("run-result"); result != "" {
				outcome, err := a.svc.RecordRun(id, result, cmd.String("run-duration"), cmd.String("run-trace"))
				if err != nil {
					return err
				}
				fmt.Printf("Recorded %s run (flakiness: %.2f)\n", result, outcome.Score)
				if outcome.Transition {
					warnf("Status changed: %s -> %s", outcome.From, outcome.To)
				}
				changed = true
			}

			if !changed {
				warnf("Nothing to update. See 'td update --help'.")
				return nil
			}

			t, err := a.svc.Get(id)
			if err != nil {
				return err
			}
			successf("Updated %s", t.ID)
			return nil
		},
	}
}

func depCommand() *cli.Command {
	return &cli.Command{
		Name:  "dep",
		Usage: "Manage dependencies between records",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add dependency (A depends on B)",
				ArgsUsage: "<id> <dependency>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, dep := cmd.Args().Get(0), cmd.Args().Get(1)
					if id == "" || dep == "" {
						return fmt.Errorf("usage: td dep add <id> <dependency>")
					}
					a, cleanup, err := newApp(cmd)
					if err != nil {
						return err
					}
					defer cleanup()

					t, depID, err := a.svc.AddDependency(id, dep)
					if err != nil {
						return err
					}
					successf("%s now depends on %s", t.ID, depID)
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove dependency",
				ArgsUsage: "<id> <dependency>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, dep := cmd.Args().Get(0), cmd.Args().Get(1)
					if id == "" || dep == "" {
						return fmt.Errorf("usage: td dep remove <id> <dependency>")
					}
					a, cleanup, err := newApp(cmd)
					if err != nil {
						return err
					}
					defer cleanup()

					t, depID, err := a.svc.RemoveDependency(id, dep)
					if err != nil {
						return err
					}
					successf("Removed dependency %s from %s", depID, t.ID)
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Show dependencies and dependents of a record",
				ArgsUsage: "<id>",
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
					tandas, err := a.store.LoadAll()
					if err != nil {
						return err
					}

					fmt.Printf("%s%s%s: %s\n", bold, t.ID, reset, t.Title)
					fmt.Printf("\nDepends on:\n")
					if len(t.DependsOn) == 0 {
						fmt.Println("  (none)")
					}
					for _, depID := range t.DependsOn {
						if dep, ok := tandas[depID]; ok {
							fmt.Printf("  %s [%s] %s\n", depID, statusColor(dep.Status), dep.Title)
						} else {
							fmt.Printf("  %s %s(missing)%s\n", depID, red, reset)
						}
					}

					dependents := a.svc.Dependents(t.ID, tandas)
					fmt.Printf("\nDepended on by:\n")
					if len(dependents) == 0 {
						fmt.Println("  (none)")
					}
					for _, depID := range dependents {
						fmt.Printf("  %s [%s] %s\n", depID, statusColor(tandas[depID].Status), tandas[depID].Title)
					}
					return nil
				},
			},
		},
	}
}

func readyCommand() *cli.Command {
	return &cli.Command{
		Name:  "ready",
		Usage: "Show records needing attention, in execution order",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := a.svc.Ready()
			if err != nil {
				return err
			}
			if len(report.Tandas) == 0 {
				warnf("No tandas found.")
				fmt.Println("Run 'td discover' to import existing tests.")
				return nil
			}

			if len(report.Flaky) > 0 {
				fmt.Printf("%s%s⚠ Flaky tests (need healing):%s\n", bold, yellow, reset)
				for _, t := range report.Flaky {
					fmt.Printf("  %s: %s\n", t.ID, t.Title)
					if t.File != "" {
						fmt.Printf("    └─ %s\n", t.File)
					}
				}
				fmt.Println()
			}

			if len(report.Ready) > 0 {
				fmt.Printf("%s%s✓ Ready (in execution order):%s\n", bold, green, reset)
				for i, id := range report.Ready {
					t := report.Tandas[id]
					fmt.Printf("  %d. %s: %s\n", i+1, id, t.Title)
				}
				fmt.Println()
			}

			if len(report.Waiting) > 0 {
				fmt.Printf("%s%s✗ Blocked (waiting on unhealthy deps):%s\n", bold, red, reset)
				for _, b := range report.Waiting {
					t := report.Tandas[b.ID]
					fmt.Printf("  %s: %s\n", b.ID, t.Title)
					fmt.Printf("    └─ waiting on: %s\n", strings.Join(b.Blocking, ", "))
				}
				fmt.Println()
			}

			if len(report.Blocked) > 0 {
				fmt.Printf("%s%s○ Blocked (circular deps):%s\n", bold, cyan, reset)
				for _, id := range report.Blocked {
					fmt.Printf("  %s: %s\n", id, report.Tandas[id].Title)
				}
				fmt.Println()
			}

			if len(report.Flaky)+len(report.Ready)+len(report.Waiting)+len(report.Blocked) == 0 {
				successf("No tandas need attention.")
			}
			return nil
		},
	}
}

// splitTags parses a comma-separated tag list.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
