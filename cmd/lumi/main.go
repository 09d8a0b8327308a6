// Command lumi runs the outline, interview and drafting flow from a terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/config"
	"github.com/ashureev/lumi/internal/session"
	"github.com/ashureev/lumi/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

// app is what every subcommand works against.
type app struct {
	repo  store.Repository
	model agent.LanguageModel
	mgr   *session.Manager
	close func()
}

type openFunc func(ctx context.Context, userID string) (*app, error)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := newRootCmd(openFromEnv, os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open openFunc, in io.Reader, out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "lumi",
		Short:         "Lumi - memoir interviews with a language model",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.user, "user", "local", "User the stories belong to")
	rootCmd.PersistentFlags().StringVar(&opts.userContext, "user-context", "", "YAML file describing the author")

	rootCmd.AddCommand(outlineCmd(open, opts))
	rootCmd.AddCommand(interviewCmd(open, opts))
	rootCmd.AddCommand(writeCmd(open, opts))
	rootCmd.AddCommand(checkModelCmd(open, opts))
	rootCmd.AddCommand(promptCmd(opts))
	return rootCmd
}

type rootOptions struct {
	user        string
	userContext string
}

// start opens the app and applies the user context file, if any.
func (o *rootOptions) start(ctx context.Context, open openFunc) (*app, error) {
	a, err := open(ctx, o.user)
	if err != nil {
		return nil, err
	}
	if o.userContext == "" {
		return a, nil
	}
	uc, err := loadUserContext(o.userContext)
	if err != nil {
		a.close()
		return nil, err
	}
	if _, err := a.mgr.UpdateUserContext(ctx, uc); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func openFromEnv(ctx context.Context, userID string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	repo, err := store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		SQLitePath:    cfg.Store.SQLitePath,
		MongoURI:      cfg.Store.MongoURI,
		MongoDatabase: cfg.Store.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	model, closeModel, err := agent.OpenModel(ctx, agent.ModelOptions{
		Provider:     cfg.Model.Provider,
		GeminiAPIKey: cfg.Model.GeminiAPIKey,
		GeminiModel:  cfg.Model.GeminiModel,
		OllamaURL:    cfg.Model.OllamaURL,
		OllamaModel:  cfg.Model.OllamaModel,
		GrpcAddr:     cfg.Model.GrpcAddr,
	}, slog.Default())
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("open model: %w", err)
	}
	orch := agent.NewOrchestrator(model, agent.WithTimeout(cfg.Model.Timeout))
	return &app{
		repo:  repo,
		model: model,
		mgr:   session.NewManager(userID, repo, orch, nil),
		close: func() {
			closeModel()
			_ = repo.Close()
		},
	}, nil
}
