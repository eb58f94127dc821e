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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"authorline/internal/app"
	"authorline/internal/config"
	"authorline/internal/db"
	"authorline/internal/domain"
	"authorline/internal/engine"
	"authorline/internal/migrate"
	"authorline/internal/review"
	"authorline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Authorline CLI",
	Long: `Authorline tracks concept review state for authoring tasks and answers
whether a task is ready for promotion.
- Review state: which changed concepts a reviewer approved, which carry
  unread feedback, and the per-concept message threads.
- Promotion check: an ordered list of readiness checks over the task branch,
  its review state and its latest classification.
- Event log: every review-state mutation, view with 'al log tail'.`,
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
	viper.SetEnvPrefix("AUTHORLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project key")
	rootCmd.PersistentFlags().StringP("task", "t", "", "task key")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("task", rootCmd.PersistentFlags().Lookup("task"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(promoteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

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
	return fn(ctx, engine.New(conn))
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.New(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func projectTaskKeys() (string, string, error) {
	projectKey := viper.GetString("project")
	taskKey := viper.GetString("task")
	if projectKey == "" {
		return "", "", fmt.Errorf("--project required")
	}
	if taskKey == "" {
		return "", "", fmt.Errorf("--task required")
	}
	return projectKey, taskKey, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter authorline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func reviewCmd() *cobra.Command {
	rev := &cobra.Command{Use: "review", Short: "Concept review state"}
	rev.AddCommand(reviewListCmd())
	rev.AddCommand(reviewApproveCmd())
	rev.AddCommand(reviewApprovedCmd())
	rev.AddCommand(reviewUnreadCmd())
	rev.AddCommand(reviewMessageCmd())
	return rev
}

func reviewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Aggregated concept reviews for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				task, err := a.Tasks.Task(ctx, projectKey, taskKey)
				if err != nil {
					return err
				}
				res := a.Aggregator.Aggregate(ctx, task)
				if viper.GetBool("json") {
					return printJSON(res.ConceptReviews)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Concept", "FSN", "Approved", "Unread", "Messages"})
				for _, cr := range res.ConceptReviews {
					fsn := ""
					if cr.Concept != nil {
						fsn = cr.Concept.FSNTerm
					}
					msgs := 0
					if cr.Reviews != nil {
						msgs = len(cr.Reviews.Messages)
					}
					tw.AppendRow(table.Row{cr.ConceptID, fsn, cr.Approved, cr.Unread, msgs})
				}
				tw.Render()
				if res.IsError() {
					fmt.Println("warning: partial result:", res.Err())
				}
				return nil
			})
		},
	}
}

func reviewApproveCmd() *cobra.Command {
	var conceptID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Flip one concept's approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				if conceptID == "" {
					return fmt.Errorf("--concept required")
				}
				list, err := e.ToggleApproval(ctx, projectKey, taskKey, conceptID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(list)
			})
		},
	}
	cmd.Flags().StringVar(&conceptID, "concept", "", "concept id")
	return cmd
}

func reviewApprovedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approved",
		Short: "Show the approved concept list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				list, err := e.Repo.ReviewedList(ctx, projectKey, taskKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(list)
			})
		},
	}
}

func reviewUnreadCmd() *cobra.Command {
	var conceptID string
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show or flip unread feedback marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				if conceptID != "" {
					ids, err := e.ToggleUnread(ctx, projectKey, taskKey, conceptID, viper.GetString("actor-id"))
					if err != nil {
						return err
					}
					return printJSONOrTable(ids)
				}
				ids, err := e.Repo.UnreadConceptIDs(ctx, projectKey, taskKey)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	}
	cmd.Flags().StringVar(&conceptID, "concept", "", "concept id to flip")
	return cmd
}

func reviewMessageCmd() *cobra.Command {
	var message string
	var concepts []string
	var feedback bool
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Post a feedback message, marking its subjects unread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				if message == "" {
					return fmt.Errorf("--message required")
				}
				actorID := viper.GetString("actor-id")
				post := domain.ReviewMessagePost{
					MessageHTML:       message,
					FeedbackRequested: feedback,
					SubjectConceptIDs: concepts,
				}
				msg, err := e.PostMessage(ctx, projectKey, taskKey, post, actorID)
				if err != nil {
					return err
				}
				if err := e.NotifyUnread(ctx, projectKey, taskKey, msg.SubjectConceptIDs, actorID); err != nil {
					fmt.Println("warning: message posted but unread marking failed:", err)
				}
				return printJSONOrTable(msg)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "message HTML")
	cmd.Flags().StringSliceVar(&concepts, "concepts", nil, "subject concept ids")
	cmd.Flags().BoolVar(&feedback, "feedback-requested", false, "request feedback")
	return cmd
}

func promoteCmd() *cobra.Command {
	prm := &cobra.Command{Use: "promote", Short: "Promotion readiness"}
	prm.AddCommand(promoteCheckCmd())
	return prm
}

func promoteCheckCmd() *cobra.Command {
	var unsaved, deletedCrs bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate promotion readiness for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				projectKey, taskKey, err := projectTaskKeys()
				if err != nil {
					return err
				}
				task, err := a.Tasks.Task(ctx, projectKey, taskKey)
				if err != nil {
					return err
				}
				res := a.Aggregator.Aggregate(ctx, task)
				if res.IsError() {
					return res.Err()
				}
				verdict := review.Evaluate(review.EvaluateOptions{
					Task:                   &task,
					ConceptReviews:         res.ConceptReviews,
					Activities:             res.Activities,
					HasUnsavedConcepts:     unsaved,
					DeletedCrsConceptFound: deletedCrs,
				})
				if viper.GetBool("json") {
					return printJSON(verdict)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check", "Blocks", "Warning"})
				for _, f := range verdict.BlockingIssues {
					tw.AppendRow(table.Row{f.CheckTitle, true, f.CheckWarning})
				}
				for _, f := range verdict.Warnings {
					tw.AppendRow(table.Row{f.CheckTitle, false, f.CheckWarning})
				}
				tw.Render()
				if verdict.Promotable {
					fmt.Println("task is promotable")
				} else {
					fmt.Println("task is NOT promotable")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unsaved, "unsaved", false, "unsaved concept edits exist")
	cmd.Flags().BoolVar(&deletedCrs, "deleted-crs", false, "a CRS concept was deleted on this task")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Review event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail review events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, viper.GetString("project"), viper.GetString("task"), evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("AUTHORLINE_JWT_SECRET"),
					AllowLegacyActorHeader: allowLegacyActor,
				}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = a.Config.Server.JWTSecret
				}
				if authCfg.JWTSecret == "" && !allowLegacyActor {
					return fmt.Errorf("AUTHORLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:     a.Engine,
					Tasks:      a.Tasks,
					Aggregator: a.Aggregator,
					AppConfig:  a.Config,
					BasePath:   basePath,
					Auth:       authCfg,
				})
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.Config.Server.Listen
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Authorline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth")
	return cmd
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
