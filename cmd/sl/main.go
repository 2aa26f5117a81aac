package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratline/internal/app"
	"stratline/internal/config"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/repo"
	"stratline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stratline CLI",
	Long: `Stratline tracks strategies, the projects that deliver them and the actions
inside each project. Progress is never entered by hand:
- Action: a unit of work; "achieved" is the only status that counts as done.
- Project: progress is the share of its live actions that are achieved.
- Strategy: progress is the mean of its live projects; it completes itself when
  every project is Completed at 100% and reopens when that stops being true.
- Archive: a project (or a completed strategy) is frozen with a snapshot and its
  dependencies are removed; unarchive restores it.
- Event log: every change is recorded, view with 'sl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STRATLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides org.id from stratline.yml)")
	rootCmd.PersistentFlags().String("dsn", "", "database DSN (overrides database.dsn)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (overrides log.level)")
	rootCmd.PersistentFlags().String("log-format", "", "text or json (overrides log.format)")
	for _, name := range []string{"workspace", "json", "actor-id", "org", "dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(strategyCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(barrierCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- strategies ---

func strategyCmd() *cobra.Command {
	c := &cobra.Command{Use: "strategy", Short: "Manage strategies"}
	c.AddCommand(strategyCreateCmd())
	c.AddCommand(strategyListCmd())
	c.AddCommand(strategyShowCmd())
	c.AddCommand(strategyUpdateCmd())
	c.AddCommand(strategyCompleteCmd())
	c.AddCommand(strategyArchiveCmd())
	c.AddCommand(strategyDeleteCmd())
	c.AddCommand(strategyTreeCmd())
	return c
}

func strategyCreateCmd() *cobra.Command {
	var opts engine.CreateStrategyOptions
	var readiness, risk int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				if cmd.Flags().Changed("readiness") {
					opts.Readiness = &readiness
				}
				if cmd.Flags().Changed("risk") {
					opts.Risk = &risk
				}
				s, err := a.Engine.CreateStrategy(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "strategy id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner")
	cmd.Flags().IntVar(&readiness, "readiness", 0, "readiness 0-100")
	cmd.Flags().IntVar(&risk, "risk", 0, "risk 0-100")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func strategyListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				f := repo.StrategyFilters{OrgID: a.Config.Org.ID}
				if status != "" {
					s, err := domain.ParseStrategyStatus(status)
					if err != nil {
						return err
					}
					f.Status = s
				}
				items, err := a.Engine.ListStrategies(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Owner"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Status, percent(s.Progress), s.OwnerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (Active, Completed, Archived)")
	return cmd
}

func strategyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.GetStrategy(ctx, args[0], a.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func strategyUpdateCmd() *cobra.Command {
	var title, description, owner string
	var readiness, risk int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a strategy's descriptive fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts := engine.UpdateStrategyOptions{ID: args[0], OrgID: a.Config.Org.ID, ActorID: actorID()}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("owner-id") {
					opts.OwnerID = &owner
				}
				if cmd.Flags().Changed("readiness") {
					opts.Readiness = &readiness
				}
				if cmd.Flags().Changed("risk") {
					opts.Risk = &risk
				}
				s, err := a.Engine.UpdateStrategy(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&owner, "owner-id", "", "owner")
	cmd.Flags().IntVar(&readiness, "readiness", 0, "readiness 0-100")
	cmd.Flags().IntVar(&risk, "risk", 0, "risk 0-100")
	return cmd
}

func strategyCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a strategy completed and drop the dependencies under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, removed, err := a.Engine.CompleteStrategy(ctx, args[0], a.Config.Org.ID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"strategy": s, "dependencies_removed": removed})
			})
		},
	}
}

func strategyArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a completed strategy with its projects and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, removed, err := a.Engine.ArchiveStrategy(ctx, args[0], a.Config.Org.ID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"strategy": s, "dependencies_removed": removed})
			})
		},
	}
}

func strategyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a strategy and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				removed, err := a.Engine.DeleteStrategy(ctx, args[0], a.Config.Org.ID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"deleted": args[0], "dependencies_removed": removed})
			})
		},
	}
}

func strategyTreeCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "tree <id>",
		Short: "Show the strategy with its projects and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.GetStrategy(ctx, args[0], a.Config.Org.ID)
				if err != nil {
					return err
				}
				projects, err := a.Engine.ListProjects(ctx, repo.ProjectFilters{OrgID: s.OrgID, StrategyID: s.ID, IncludeArchived: includeArchived})
				if err != nil {
					return err
				}
				fmt.Printf("%s [%s %s]\n", s.Title, s.Status, percent(s.Progress))
				for i, p := range projects {
					last := i == len(projects)-1
					connector, prefix := "├── ", "│   "
					if last {
						connector, prefix = "└── ", "    "
					}
					label := fmt.Sprintf("%s [%s %s]", p.Title, p.Status, percent(p.Progress))
					if p.IsArchived {
						label += " (archived)"
					}
					fmt.Println(connector + label)
					actions, err := a.Engine.ListActions(ctx, repo.ActionFilters{OrgID: p.OrgID, ProjectID: p.ID, IncludeArchived: includeArchived})
					if err != nil {
						return err
					}
					for j, act := range actions {
						ac := "├── "
						if j == len(actions)-1 {
							ac = "└── "
						}
						fmt.Printf("%s%s%s [%s]\n", prefix, ac, act.Title, act.Status)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "show archived projects and actions")
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	c := &cobra.Command{Use: "project", Short: "Manage projects"}
	c.AddCommand(projectCreateCmd())
	c.AddCommand(projectListCmd())
	c.AddCommand(projectShowCmd())
	c.AddCommand(projectUpdateCmd())
	c.AddCommand(projectDeleteCmd())
	c.AddCommand(projectArchiveCmd())
	c.AddCommand(projectUnarchiveCmd())
	c.AddCommand(projectCopyCmd())
	c.AddCommand(projectSnapshotsCmd())
	return c
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	var start, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project under a strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDate(start); err != nil {
				return err
			}
			if opts.DueDate, err = parseDate(due); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				p, res, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.StrategyID, "strategy", "", "strategy id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (NotYetStarted, OnTrack, OnHold, Behind, Completed)")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				f.OrgID = a.Config.Org.ID
				items, err := a.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Strategy", "Status", "Progress", "Due", "Archived"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.StrategyID, p.Status, percent(p.Progress), formatDate(p.DueDate), p.IsArchived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StrategyID, "strategy", "", "strategy filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.GetProject(ctx, args[0], a.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var title, description, status, owner, start, due string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateProjectOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("owner-id") {
				opts.OwnerID = &owner
			}
			var err error
			if opts.StartDate, err = parseDate(start); err != nil {
				return err
			}
			if opts.DueDate, err = parseDate(due); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				p, res, err := a.Engine.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&owner, "owner-id", "", "owner")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.DeleteProject(ctx, args[0], a.Config.Org.ID, actorID())
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(map[string]any{"deleted": args[0]})
			})
		},
	}
}

func projectArchiveCmd() *cobra.Command {
	var reason, wake string
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a project with its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wakeUp, err := parseDate(wake)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, res, err := a.Engine.ArchiveProject(ctx, engine.ArchiveProjectOptions{
					ProjectID:  args[0],
					OrgID:      a.Config.Org.ID,
					ActorID:    actorID(),
					Reason:     reason,
					WakeUpDate: wakeUp,
				})
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the project is archived")
	cmd.Flags().StringVar(&wake, "wake-up", "", "date to revisit (YYYY-MM-DD)")
	return cmd
}

func projectUnarchiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "unarchive <id>",
		Short: "Restore an archived project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, res, err := a.Engine.UnarchiveProject(ctx, engine.UnarchiveProjectOptions{
					ProjectID: args[0],
					OrgID:     a.Config.Org.ID,
					ActorID:   actorID(),
					Reason:    reason,
				})
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the project is restored")
	return cmd
}

func projectCopyCmd() *cobra.Command {
	var opts engine.CopyProjectOptions
	cmd := &cobra.Command{
		Use:   "copy <id>",
		Short: "Copy a project and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.SourceProjectID = args[0]
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				p, res, err := a.Engine.CopyProject(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "id of the copy (generated when empty)")
	cmd.Flags().StringVar(&opts.NewTitle, "title", "", "title of the copy")
	cmd.Flags().BoolVar(&opts.AsTemplate, "template", false, "reset dates and values as a template")
	return cmd
}

func projectSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots <id>",
		Short: "List archive snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				snaps, err := a.Engine.ListSnapshots(ctx, args[0], a.Config.Org.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snaps)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Seq", "Kind", "Taken", "Actor", "Reason"})
				for _, s := range snaps {
					tw.AppendRow(table.Row{s.Seq, s.Kind, s.TakenAt.Format(time.RFC3339), s.ActorID, s.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- actions ---

func actionCmd() *cobra.Command {
	c := &cobra.Command{Use: "action", Short: "Manage actions"}
	c.AddCommand(actionCreateCmd())
	c.AddCommand(actionListCmd())
	c.AddCommand(actionUpdateCmd())
	c.AddCommand(actionDoneCmd())
	c.AddCommand(actionDeleteCmd())
	return c
}

func actionCreateCmd() *cobra.Command {
	var opts engine.CreateActionOptions
	var due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.DueDate, err = parseDate(due); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				act, res, err := a.Engine.CreateAction(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(act)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "action id (generated when empty)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id; empty leaves the action unassigned")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Status, "status", "", "not_started, in_progress, on_hold or achieved")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func actionListCmd() *cobra.Command {
	var f repo.ActionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				f.OrgID = a.Config.Org.ID
				items, err := a.Engine.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Project", "Due"})
				for _, act := range items {
					project := ""
					if act.ProjectID != nil {
						project = *act.ProjectID
					}
					tw.AppendRow(table.Row{act.ID, act.Title, act.Status, project, formatDate(act.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only actions without a project")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived actions")
	return cmd
}

func actionUpdateCmd() *cobra.Command {
	var title, status, notes, owner, project, due string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateActionOptions{ID: args[0], ActorID: actorID(), ClearDueDate: clearDue}
			for name, dst := range map[string]**string{
				"title":    &opts.Title,
				"status":   &opts.Status,
				"notes":    &opts.Notes,
				"owner-id": &opts.OwnerID,
				"project":  &opts.ProjectID,
			} {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetString(name)
					*dst = &v
				}
			}
			var err error
			if opts.DueDate, err = parseDate(due); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				act, res, err := a.Engine.UpdateAction(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(act)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&status, "status", "", "not_started, in_progress, on_hold or achieved")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&owner, "owner-id", "", "owner")
	cmd.Flags().StringVar(&project, "project", "", "move to project; empty string detaches")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	return cmd
}

func actionDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark an action achieved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				status := string(domain.ActionAchieved)
				act, res, err := a.Engine.UpdateAction(ctx, engine.UpdateActionOptions{
					ID:      args[0],
					OrgID:   a.Config.Org.ID,
					ActorID: actorID(),
					Status:  &status,
				})
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(act)
			})
		},
	}
}

func actionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.DeleteAction(ctx, args[0], a.Config.Org.ID, actorID())
				if err != nil {
					return err
				}
				printWarnings(res)
				return printJSONOrTable(map[string]any{"deleted": args[0]})
			})
		},
	}
}

// --- dependencies and barriers ---

func depCmd() *cobra.Command {
	c := &cobra.Command{Use: "dep", Short: "Manage dependencies between projects and actions"}
	c.AddCommand(depAddCmd())
	c.AddCommand(depListCmd())
	c.AddCommand(depRemoveCmd())
	c.AddCommand(depCollectCmd())
	return c
}

func depAddCmd() *cobra.Command {
	var opts engine.CreateDependencyOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				d, err := a.Engine.CreateDependency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SourceType, "source-type", "project", "project or action")
	cmd.Flags().StringVar(&opts.SourceID, "source", "", "source id")
	cmd.Flags().StringVar(&opts.TargetType, "target-type", "project", "project or action")
	cmd.Flags().StringVar(&opts.TargetID, "target", "", "target id")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func depListCmd() *cobra.Command {
	var entityType, entityID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListDependencies(ctx, a.Config.Org.ID, entityType, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Source", "Target"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, fmt.Sprintf("%s:%s", d.SourceType, d.SourceID), fmt.Sprintf("%s:%s", d.TargetType, d.TargetID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "project or action")
	cmd.Flags().StringVar(&entityID, "entity", "", "only edges touching this entity")
	return cmd
}

func depRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.DeleteDependency(ctx, args[0], a.Config.Org.ID, actorID()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"deleted": args[0]})
			})
		},
	}
}

func depCollectCmd() *cobra.Command {
	var projectIDs, actionIDs []string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Remove every dependency touching the given projects or actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				n, err := a.Engine.DeleteDependenciesForEntities(ctx, projectIDs, actionIDs, a.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"removed": n})
			})
		},
	}
	cmd.Flags().StringSliceVar(&projectIDs, "project", nil, "project ids")
	cmd.Flags().StringSliceVar(&actionIDs, "action", nil, "action ids")
	return cmd
}

func barrierCmd() *cobra.Command {
	c := &cobra.Command{Use: "barrier", Short: "Record what blocks a project"}
	var opts engine.CreateBarrierOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a barrier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				opts.OrgID = a.Config.Org.ID
				opts.ActorID = actorID()
				b, err := a.Engine.CreateBarrier(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	add.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	add.Flags().StringVar(&opts.Title, "title", "", "title")
	add.Flags().StringVar(&opts.Severity, "severity", "", "low, medium or high")
	_ = add.MarkFlagRequired("project")
	_ = add.MarkFlagRequired("title")

	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's barriers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListBarriers(ctx, args[0], a.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	c.AddCommand(add, list)
	return c
}

// --- maintenance ---

func recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute every project and strategy of the org and repair drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				rep, err := a.Engine.Reconcile(ctx, a.Config.Org.ID)
				if err != nil {
					return err
				}
				for _, w := range rep.Warnings {
					fmt.Fprintln(os.Stderr, "warning:", w)
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect stratline.yml",
		Long:  "stratline.yml sets the org, milestone thresholds, template due dates, webhooks, logging and the database.",
	}
	var orgID string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default stratline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&orgID, "org-id", "default", "org id")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate stratline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	c.AddCommand(initCmd, show, validate)
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				f.OrgID = a.Config.Org.ID
				items, err := a.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	c.AddCommand(tail)
	return c
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var headerAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:       viper.GetString("jwt-secret"),
				AllowHeaderAuth: headerAuth,
			}
			if authCfg.JWTSecret == "" && !headerAuth {
				return fmt.Errorf("STRATLINE_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				authCfg.Logger = a.Logger
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Logger: a.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving stratline api", "addr", addr, "base_path", basePath, "org_default", a.Config.Org.ID)
				fmt.Printf("Serving Stratline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&headerAuth, "dev-header-auth", false, "trust X-Actor-Id/X-Org-Id headers (development only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		DSN:       viper.GetString("dsn"),
		OrgID:     viper.GetString("org"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printWarnings(res engine.CascadeResult) {
	for _, w := range res.WarningMessages() {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func percent(v int) string {
	return fmt.Sprintf("%d%%", v)
}
