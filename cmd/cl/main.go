package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/defs"
	"caseline/internal/engine"
	"caseline/internal/facts"
	"caseline/internal/migrate"
	"caseline/internal/render"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline orchestrates personal injury case lifecycles.
Core concepts:
- Workspace: the directory holding .caseline/caseline.db; one database per firm workspace.
- Case: the aggregate tracking phases, workflows, steps, pending items, and the statute clock.
- Facts: an independently sourced snapshot of reality (claims, providers, documents,
  litigation dates). 'cl sync' corrects persisted status against it, never the reverse.
- Phases: file_setup -> treatment -> negotiation -> (litigation) -> closed.
  The engine only suggests a phase change; an attorney approves or rejects it.
- SOL: the statute of limitations clock with explicit filed/tolled/n-a overrides.
- Event log: diary of changes, view with 'cl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("case", "", "case id (defaults to the single case in the workspace)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("case", rootCmd.PersistentFlags().Lookup("case"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(solCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(factsCmd())
	rootCmd.AddCommand(firmCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var p engine.CreateCaseParams
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.CreateCase(ctx, p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrPretty(state)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "case id (e.g. mva-smith-2024)")
	cmd.Flags().StringVar(&p.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&p.AccidentDate, "accident-date", "", "accident date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.AccidentType, "accident-type", "", "accident type (mva, premises, wc)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func caseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Type", "Phase", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.ClientName, c.AccidentType, c.CurrentPhase, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the raw case aggregate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				state, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				return printJSONOrPretty(state)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show case status",
		Long:  "Renders the case dashboard: alerts, statute clock, recent completions, pending items, next actions, and any phase change awaiting approval. Fact-derived corrections are applied first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				view, err := e.Status(ctx, caseID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Print(render.Markdown(view, e.Defs))
				return nil
			})
		},
	}
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Correct persisted status from facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				corrections, _, err := e.Sync(ctx, caseID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(corrections)
				}
				if len(corrections) == 0 {
					fmt.Println("No corrections; status matches the facts.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Workflow", "Phase", "Old", "New", "Evidence"})
				for _, c := range corrections {
					tw.AppendRow(table.Row{c.Workflow, c.Phase, c.OldStatus, c.NewStatus, c.Evidence})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func nextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show next actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				state, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				f, err := e.Facts.Facts(ctx, caseID)
				if err != nil {
					return fmt.Errorf("facts unavailable: %w", err)
				}
				view, _ := e.DeriveStatus(state, f)
				if viper.GetBool("json") {
					return printJSON(view.NextActions)
				}
				if len(view.NextActions) == 0 {
					fmt.Println("No actions; the case is waiting or complete.")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Action", "Workflow", "Step", "Owner", "Auto"})
				for i, a := range view.NextActions {
					auto := ""
					if a.Automatable {
						auto = "yes"
					}
					tw.AppendRow(table.Row{i + 1, a.Description, a.Workflow, a.Step, a.Owner, auto})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func solCmd() *cobra.Command {
	sol := &cobra.Command{
		Use:   "sol",
		Short: "Statute of limitations",
	}
	sol.AddCommand(solShowCmd())
	sol.AddCommand(solOverrideCmd())
	return sol
}

func solShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the statute clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				state, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				f, _ := e.Facts.Facts(ctx, caseID)
				sol := engine.ComputeSOL(e.Config, state, f, time.Now())
				if viper.GetBool("json") {
					return printJSON(sol)
				}
				fmt.Printf("Status: %s\n", sol.Status)
				if sol.Deadline != "" {
					fmt.Printf("Deadline: %s\n", sol.Deadline)
				}
				if sol.DaysRemaining != nil {
					fmt.Printf("Days remaining: %d\n", *sol.DaysRemaining)
				}
				if sol.Notes != "" {
					fmt.Printf("Notes: %s\n", sol.Notes)
				}
				return nil
			})
		},
	}
	return cmd
}

func solOverrideCmd() *cobra.Command {
	var status, notes, filingDate string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Set or clear the statute override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				state, err := e.SetSOLOverride(ctx, caseID, status, notes, filingDate, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrPretty(state.SOL)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "override status (filed, tolled, n/a; empty clears)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&filingDate, "filing-date", "", "complaint filing date (YYYY-MM-DD)")
	return cmd
}

func phaseCmd() *cobra.Command {
	phase := &cobra.Command{
		Use:   "phase",
		Short: "Approve or reject a suggested phase change",
		Long:  "The engine never advances a phase on its own. When every exit criterion is met it records a suggestion; 'cl phase approve' moves the case, 'cl phase reject' keeps it in place.",
	}
	phase.AddCommand(phaseDecisionCmd("approve", "Approve the pending phase change", true))
	phase.AddCommand(phaseDecisionCmd("reject", "Reject the pending phase change", false))
	return phase
}

func phaseDecisionCmd(use, short string, approve bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				before, err := e.Repo.GetCase(ctx, caseID)
				if err != nil {
					return err
				}
				if before.Suggestion == nil {
					fmt.Println("No phase change is pending.")
					return nil
				}
				state, err := e.ApprovePhaseChange(ctx, caseID, approve, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(state)
				}
				if approve {
					fmt.Printf("Case advanced to %s.\n", state.CurrentPhase)
				} else {
					fmt.Printf("Suggestion rejected; case stays in %s.\n", state.CurrentPhase)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decision reason")
	return cmd
}

func pendingCmd() *cobra.Command {
	pending := &cobra.Command{Use: "pending", Short: "Manage pending items"}
	pending.AddCommand(pendingAddCmd())
	pending.AddCommand(pendingResolveCmd())
	return pending
}

func pendingAddCmd() *cobra.Command {
	var p engine.PendingItemParams
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pending item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				item, err := e.AddPendingItem(ctx, caseID, p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrPretty(item)
			})
		},
	}
	cmd.Flags().StringVar(&p.Description, "description", "", "what is outstanding")
	cmd.Flags().StringVar(&p.Owner, "owner", "", "owner (agent, user, client, external)")
	cmd.Flags().StringVar(&p.Workflow, "workflow", "", "related workflow id")
	cmd.Flags().BoolVar(&p.Blocking, "blocking", false, "blocks phase advancement review")
	cmd.Flags().StringVar(&p.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func pendingResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Resolve a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				_, err = e.ResolvePendingItem(ctx, caseID, args[0], viper.GetString("actor-id"))
				return err
			})
		},
	}
	return cmd
}

func stepCmd() *cobra.Command {
	step := &cobra.Command{Use: "step", Short: "Manage workflow steps"}
	step.AddCommand(stepDoneCmd())
	return step
}

func stepDoneCmd() *cobra.Command {
	var workflow, stepID string
	cmd := &cobra.Command{
		Use:   "done",
		Short: "Mark a workflow step complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				state, err := e.CompleteStep(ctx, caseID, workflow, stepID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrPretty(state)
			})
		},
	}
	cmd.Flags().StringVar(&workflow, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func factsCmd() *cobra.Command {
	fc := &cobra.Command{Use: "facts", Short: "Manage the facts snapshot"}
	fc.AddCommand(factsImportCmd())
	fc.AddCommand(factsShowCmd())
	return fc
}

func factsImportCmd() *cobra.Command {
	var filePath string
	var noSync bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a facts snapshot from JSON",
		Long:  "Replaces the stored facts for the case and syncs derived status unless --no-sync is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var snapshot facts.CaseFacts
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return fmt.Errorf("invalid facts json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID := viper.GetString("case")
				if caseID == "" {
					caseID = snapshot.Overview.CaseID
				}
				caseID, err := app.ResolveCase(ctx, caseID, e.Repo)
				if err != nil {
					return err
				}
				store := facts.NewStore(e.DB)
				if err := store.Replace(ctx, caseID, &snapshot); err != nil {
					return err
				}
				if noSync {
					fmt.Printf("Imported facts for %s.\n", caseID)
					return nil
				}
				corrections, _, err := engine.New(e.DB, e.Config, e.Defs, store).Sync(ctx, caseID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Imported facts for %s; %d corrections applied.\n", caseID, len(corrections))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to facts JSON")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip the sync after import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func factsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored facts snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				f, err := e.Facts.Facts(ctx, caseID)
				if err != nil {
					return err
				}
				return printJSON(f)
			})
		},
	}
	return cmd
}

func firmCmd() *cobra.Command {
	firm := &cobra.Command{Use: "firm", Short: "Manage firm configuration"}
	cfg := &cobra.Command{Use: "config", Short: "Firm config stored in the DB"}
	cfg.AddCommand(firmConfigShowCmd())
	cfg.AddCommand(firmConfigImportCmd())
	cfg.AddCommand(firmConfigInitCmd())
	firm.AddCommand(cfg)
	return firm
}

func firmConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective firm config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
	return cmd
}

func firmConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import firm config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertFirmConfig(ctx, cfg.Firm.ID, cfg); err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func firmConfigInitCmd() *cobra.Command {
	var firmID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Print a default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(firmID))
			return nil
		},
	}
	cmd.Flags().StringVar(&firmID, "firm-id", "default-firm", "firm id")
	return cmd
}

func assignCmd() *cobra.Command {
	assign := &cobra.Command{Use: "assign", Short: "Manage case role assignments"}
	assign.AddCommand(assignSetCmd())
	assign.AddCommand(assignListCmd())
	assign.AddCommand(assignRemoveCmd())
	return assign
}

func assignSetCmd() *cobra.Command {
	var actor, role string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Assign an actor to a case role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				a, err := e.Repo.AssignActor(ctx, caseID, actor, role)
				if err != nil {
					return err
				}
				return printJSONOrPretty(a)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id (attorney, paralegal, agent)")
	return cmd
}

func assignListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List case assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListAssignments(ctx, caseID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Actor", "Role", "Since"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActorID, a.Role, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func assignRemoveCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an actor from the case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID, err := app.ResolveCase(ctx, viper.GetString("case"), e.Repo)
				if err != nil {
					return err
				}
				return e.Repo.UnassignActor(ctx, caseID, actor)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.NewString()
				k, err := r.CreateAPIKey(ctx, actor, name, rawKey)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": rawKey, "record": k})
				}
				fmt.Printf("API key for %s (save it now, only the hash is stored):\n%s\n", actor, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Event log"}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caseID := viper.GetString("case")
				if caseID != "" {
					var err error
					caseID, err = app.ResolveCase(ctx, caseID, e.Repo)
					if err != nil {
						return err
					}
				}
				events, err := e.Repo.ListEvents(ctx, caseID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Case", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.CaseID, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			lib, err := defs.Default()
			if err != nil {
				return err
			}
			store := facts.NewStore(conn)
			e := engine.New(conn, cfg, lib, store)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CASELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, FactsStore: store, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (local dev)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	lib, err := defs.Default()
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, lib, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrPretty(v any) error {
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
