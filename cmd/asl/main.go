package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"assessline/internal/config"
	"assessline/internal/db"
	"assessline/internal/domain"
	"assessline/internal/engine"
	"assessline/internal/migrate"
	"assessline/internal/repo"
	"assessline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "asl",
	Short: "Assessline CLI",
	Long: `Assessline drives a self-assessment and independent review over a
multi-level capability framework.
- Workspace: your .assessline directory holding the database; configuration
  lives in assessline.yml next to it.
- Framework: objectives -> principles -> outcomes -> indicator statements,
  compiled into an ordered wizard of steps.
- Assessment: an organisation answers indicator questions step by step, then
  confirms (or overrides) the computed status per outcome.
- Review: an independent assessor layers a versioned review on top of a
  submitted assessment; completed versions form an immutable history.`,
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
	viper.SetEnvPrefix("ASSESSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(frameworkCmd())
	rootCmd.AddCommand(stepsCmd())
	rootCmd.AddCommand(assessmentCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func openEngine() (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	return e, func() { conn.Close() }, nil
}

func actorID() string { return viper.GetString("actor-id") }

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func frameworkCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "framework", Short: "Inspect the capability framework"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the framework document",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			fmt.Printf("framework %s valid: %d objectives, %d steps\n",
				e.Framework.Version, len(e.Framework.Objectives), len(e.Steps.Ordered))
			return nil
		},
	})
	return cmd
}

func stepsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "steps", Short: "Inspect the compiled wizard"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List wizard steps in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			if viper.GetBool("json") {
				printJSON(e.Steps.Ordered)
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "Key", "Kind", "Stage", "Parent", "Next"})
			for i, s := range e.Steps.Ordered {
				t.AppendRow(table.Row{i + 1, s.Key, s.Kind, s.Stage, s.ParentKey, s.Next})
			}
			t.Render()
			return nil
		},
	})
	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Show a step's field schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			assessmentID, _ := cmd.Flags().GetString("assessment")
			step, fields, err := e.StepSchema(cmd.Context(), assessmentID, args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				printJSON(map[string]any{"step": step, "fields": fields})
				return nil
			}
			fmt.Printf("%s (%s) -> %s\n", step.Key, step.Kind, step.Next)
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Field", "Type", "Required", "Bucket", "#", "Label"})
			for _, f := range fields {
				t.AppendRow(table.Row{f.Name, f.Type, f.Required, f.Bucket, f.Ordinal, f.Label})
			}
			t.Render()
			return nil
		},
	}
	show.Flags().String("assessment", "", "resolve confirmation options against this assessment")
	cmd.AddCommand(show)
	return cmd
}

func assessmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assessment", Short: "Manage self-assessments"}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start a self-assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			profile, _ := cmd.Flags().GetString("profile")
			a, err := e.StartAssessment(cmd.Context(), "", profile, actorID())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				printJSON(a)
				return nil
			}
			fmt.Printf("assessment %s started (profile=%s, first step=%s)\n", a.ID, a.Profile, e.Steps.Ordered[0].Key)
			return nil
		},
	}
	start.Flags().String("profile", "", "assessment profile (baseline or enhanced)")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			a, err := e.Repo.GetAssessment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(a)
			return nil
		},
	})

	answer := &cobra.Command{
		Use:   "answer <id> <step-key>",
		Short: "Submit a wizard step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			raw, _ := cmd.Flags().GetString("answers-json")
			answers := map[string]any{}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &answers); err != nil {
					return fmt.Errorf("answers-json: %w", err)
				}
			}
			a, next, err := e.SubmitStep(cmd.Context(), engine.SubmitStepOptions{
				AssessmentID: args[0],
				StepKey:      args[1],
				Answers:      answers,
				ActorID:      actorID(),
				CanEdit:      true,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				printJSON(map[string]any{"assessment": a, "next": next})
				return nil
			}
			fmt.Printf("step stored; next step: %s\n", next)
			return nil
		},
	}
	answer.Flags().String("answers-json", "", "answers as a JSON object")
	cmd.AddCommand(answer)

	cmd.AddCommand(&cobra.Command{
		Use:   "progress <id>",
		Short: "Per-objective completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			objectives, complete, err := e.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				printJSON(map[string]any{"objectives": objectives, "complete": complete})
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Objective", "Title", "Complete"})
			for _, o := range objectives {
				t.AppendRow(table.Row{o.ObjectiveCode, o.Title, o.Complete})
			}
			t.Render()
			fmt.Println("assessment complete:", complete)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a completed assessment for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			a, err := e.SubmitAssessment(cmd.Context(), args[0], actorID(), true)
			if err != nil {
				return err
			}
			fmt.Printf("assessment %s is now %s\n", a.ID, a.Status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			a, err := e.CancelAssessment(cmd.Context(), args[0], actorID())
			if err != nil {
				return err
			}
			fmt.Printf("assessment %s is now %s\n", a.ID, a.Status)
			return nil
		},
	})

	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Manage independent reviews"}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <assessment-id>",
		Short: "Open a review for a submitted assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			rv, err := e.StartReview(cmd.Context(), args[0], actorID())
			if err != nil {
				return err
			}
			fmt.Printf("review %s opened (status=%s, last_updated=%s)\n", rv.ID, rv.Status, rv.LastUpdated)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			rv, err := e.Repo.GetReview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(rv)
			return nil
		},
	})

	save := &cobra.Command{
		Use:   "save <id>",
		Short: "Save review data under optimistic locking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			expected, _ := cmd.Flags().GetString("expected-timestamp")
			raw, _ := cmd.Flags().GetString("data-json")
			var data domain.ReviewData
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &data); err != nil {
					return fmt.Errorf("data-json: %w", err)
				}
			}
			rv, err := e.SaveReview(cmd.Context(), engine.ReviewSaveOptions{
				ID:                args[0],
				ExpectedTimestamp: expected,
				CanEdit:           true,
				Data:              data,
				ActorID:           actorID(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("review %s saved (status=%s, last_updated=%s)\n", rv.ID, rv.Status, rv.LastUpdated)
			return nil
		},
	}
	save.Flags().String("expected-timestamp", "", "last_updated value read before editing")
	save.Flags().String("data-json", "", "review data as a JSON object")
	cmd.AddCommand(save)

	for _, op := range []struct {
		use, short, event string
		run               func(engine.Engine, context.Context, engine.ReviewTransitionOptions) (domain.Review, error)
	}{
		{"complete", "Mark a review complete", "completed", func(e engine.Engine, ctx context.Context, opts engine.ReviewTransitionOptions) (domain.Review, error) {
			return e.MarkReviewComplete(ctx, opts)
		}},
		{"reopen", "Reopen a completed review", "reopened", func(e engine.Engine, ctx context.Context, opts engine.ReviewTransitionOptions) (domain.Review, error) {
			return e.ReopenReview(ctx, opts)
		}},
		{"finalise", "Finalise a completed review", "finalised", func(e engine.Engine, ctx context.Context, opts engine.ReviewTransitionOptions) (domain.Review, error) {
			return e.FinaliseReview(ctx, opts)
		}},
	} {
		op := op
		c := &cobra.Command{
			Use:   op.use + " <id>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, done, err := openEngine()
				if err != nil {
					return err
				}
				defer done()
				expected, _ := cmd.Flags().GetString("expected-timestamp")
				rv, err := op.run(e, cmd.Context(), engine.ReviewTransitionOptions{
					ID:                args[0],
					ExpectedTimestamp: expected,
					CanEdit:           true,
					ActorID:           actorID(),
					Role:              "reviewer",
				})
				if err != nil {
					return err
				}
				fmt.Printf("review %s %s (last_updated=%s)\n", rv.ID, op.event, rv.LastUpdated)
				return nil
			},
		}
		c.Flags().String("expected-timestamp", "", "last_updated value read before editing")
		cmd.AddCommand(c)
	}

	versions := &cobra.Command{
		Use:   "versions <id> [n]",
		Short: "List distinct completed versions, or show one (1 = oldest)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("version number: %w", err)
				}
				hv, ok, err := e.ReviewVersion(cmd.Context(), args[0], n)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("review %s has no version %d", args[0], n)
				}
				printJSON(hv)
				return nil
			}
			list, err := e.ReviewVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				printJSON(list)
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"#", "Status", "Captured"})
			for i, hv := range list {
				t.AppendRow(table.Row{len(list) - i, hv.Status, hv.CreatedAt})
			}
			t.Render()
			return nil
		},
	}
	cmd.AddCommand(versions)

	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	create := &cobra.Command{
		Use:   "create <key>",
		Short: "Register an API key for the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			roles, _ := cmd.Flags().GetStringSlice("roles")
			name, _ := cmd.Flags().GetString("name")
			key := domain.APIKey{
				ID:      uuid.New().String(),
				ActorID: actorID(),
				Name:    name,
				Roles:   roles,
				KeyHash: repo.HashAPIKey(args[0]),
			}
			if err := e.Repo.InsertAPIKey(cmd.Context(), nil, key); err != nil {
				return err
			}
			fmt.Printf("api key %s registered for %s (roles=%s)\n", key.ID, key.ActorID, strings.Join(roles, ","))
			return nil
		},
	}
	create.Flags().StringSlice("roles", []string{"contributor"}, "roles granted to the key")
	create.Flags().String("name", "", "key label")
	cmd.AddCommand(create)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()
			addr, _ := cmd.Flags().GetString("addr")
			secret, _ := cmd.Flags().GetString("jwt-secret")
			legacy, _ := cmd.Flags().GetBool("allow-legacy-actor-header")
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: "/v0",
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacy,
				},
			})
			if err != nil {
				return err
			}
			fmt.Printf("listening on %s\n", addr)
			return http.ListenAndServe(addr, handler)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("allow-legacy-actor-header", false, "accept X-Actor-Id without auth (local use)")
	return cmd
}
