// Command taskctl previews how task input is interpreted without a running
// server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmaster/api"
	"taskmaster/domain"
	"taskmaster/parser"
	"taskmaster/progress"
	"taskmaster/suggest"
)

func main() {
	if err := rootCmd(time.Now).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(now func() time.Time) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Inspect task parsing, suggestions and levels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "Output as JSON")

	root.AddCommand(parseCmd(now))
	root.AddCommand(suggestCmd(now))
	root.AddCommand(levelCmd())
	root.AddCommand(tokenCmd())
	return root
}

func parseCmd(now func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "parse [text]",
		Short: "Show the fields extracted from task input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := parser.Parse(strings.Join(args, " "), now())
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:    %s\n", p.Title)
			fmt.Fprintf(out, "Priority: %s\n", p.Priority)
			if p.DueDate != nil {
				fmt.Fprintf(out, "Due:      %s\n", p.DueDate.Format(time.RFC1123))
			} else {
				fmt.Fprintln(out, "Due:      none")
			}
			fmt.Fprintf(out, "Tags:     %s\n", strings.Join(p.Tags, ", "))
			return nil
		},
	}
}

func suggestCmd(now func() time.Time) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest [title]",
		Short: "Suggest subtasks, priority and tags for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := log.New()
			logger.SetOutput(cmd.ErrOrStderr())

			var gen suggest.Generator
			if key, _ := cmd.Flags().GetString("gemini-key"); key != "" {
				model, _ := cmd.Flags().GetString("model")
				g, err := suggest.NewGemini(ctx, key, model)
				if err != nil {
					return fmt.Errorf("gemini: %w", err)
				}
				gen = g
			}

			p := parser.Parse(strings.Join(args, " "), now())
			task := domain.Task{Title: p.Title, DueDate: p.DueDate, Priority: p.Priority, Tags: p.Tags, CreatedAt: now()}
			s := suggest.NewAdvisor(gen, logger).For(ctx, task)
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Priority: %s (%s)\n", s.Priority, s.Source)
			fmt.Fprintf(out, "Insight:  %s\n", s.Insight)
			if len(s.Tags) > 0 {
				fmt.Fprintf(out, "Tags:     %s\n", strings.Join(s.Tags, ", "))
			}
			if s.EstimateMinutes > 0 {
				fmt.Fprintf(out, "Estimate: %d min\n", s.EstimateMinutes)
			}
			for i, step := range s.Subtasks {
				fmt.Fprintf(out, "  %d. %s\n", i+1, step)
			}
			return nil
		},
	}
	cmd.Flags().String("gemini-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key; rules only when empty")
	cmd.Flags().String("model", "gemini-1.5-flash", "Gemini model name")
	return cmd
}

func levelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "level [xp]",
		Short: "Show the level reached with the given experience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.Atoi(args[0])
			if err != nil || xp < 0 {
				return fmt.Errorf("invalid xp %q", args[0])
			}
			lp := progress.Progress(xp)
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), lp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Level %d: %d/%d XP (%d%%)\n", lp.Level, lp.CurrentXP, lp.NeededXP, lp.Percentage)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id...]",
		Short: "Issue test-mode bearer tokens signed with TEST_JWT_SECRET",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tokens := make([]string, 0, len(args))
			for _, userID := range args {
				tok, err := api.SignTestToken([]byte(secret), userID, ttl)
				if err != nil {
					return fmt.Errorf("sign token for %s: %w", userID, err)
				}
				tokens = append(tokens, tok)
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), tokens)
			}
			for _, tok := range tokens {
				fmt.Fprintln(cmd.OutOrStdout(), tok)
			}
			return nil
		},
	}
	cmd.Flags().String("secret", os.Getenv("TEST_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
