package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intrachat/intrachat/internal/app"
)

var askShowThinking bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot retrieval-augmented question",
	Long: `Answers a single question from the terminal, grounded in the ingested
documents. The session is ephemeral; nothing is written to the database.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().BoolVar(&askShowThinking, "thinking", false, "print the model's reasoning")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot: do not touch Postgres for a throwaway session.
	cfg.DatabaseURL = ""

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	answer, err := a.Chat.Ask(ctx, 1, "", question)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	if askShowThinking && answer.Thinking != "" {
		fmt.Printf("[thinking]\n%s\n\n", answer.Thinking)
	}
	fmt.Println(answer.Content)
	return nil
}
