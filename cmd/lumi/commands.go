package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/outline"
	"github.com/ashureev/lumi/internal/prompt"
	"github.com/spf13/cobra"
)

func outlineCmd(open openFunc, opts *rootOptions) *cobra.Command {
	var title, storyID string
	var doImport bool
	cmd := &cobra.Command{
		Use:   "outline [file]",
		Short: "Generate an outline from raw autobiographical text (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := opts.start(ctx, open)
			if err != nil {
				return err
			}
			defer a.close()

			if storyID == "" {
				if title == "" && args[0] != "-" {
					title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
				if title == "" {
					title = "Untitled Memoir"
				}
				story := &domain.Story{UserID: opts.user, Title: title, Visibility: domain.VisibilityPrivate}
				if err := a.repo.CreateStory(ctx, story); err != nil {
					return fmt.Errorf("create story: %w", err)
				}
				storyID = story.ID
			}

			text, err := a.mgr.ProcessNewTopic(ctx, storyID, raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, text)
			fmt.Fprintf(out, "\nOutline saved to story %s\n", storyID)

			if !doImport {
				return nil
			}
			chapters, err := outline.Import(ctx, a.repo, storyID, outline.Parse(text))
			if err != nil {
				return err
			}
			if len(chapters) == 0 {
				fmt.Fprintln(out, "No outline points found. The outline might not be properly formatted.")
				return nil
			}
			fmt.Fprintf(out, "Imported %d chapters\n", len(chapters))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Title for a new story (defaults to the file name)")
	cmd.Flags().StringVar(&storyID, "story-id", "", "Existing story to attach the outline to")
	cmd.Flags().BoolVar(&doImport, "import", true, "Create chapters and scenes from the outline")
	return cmd
}

func interviewCmd(open openFunc, opts *rootOptions) *cobra.Command {
	var storyID string
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Interview the author scene by scene (type 'done' to move on)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.start(ctx, open)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			in := bufio.NewScanner(cmd.InOrStdin())
			return eachScene(ctx, a, storyID, func(chapter *domain.Chapter, scene *domain.Scene) error {
				history, err := a.repo.GetInterviewHistoryByScene(ctx, scene.ID)
				if err != nil {
					return err
				}
				if history.Len() > 0 {
					fmt.Fprintf(out, "Skipping %q, already interviewed.\n", scene.DisplayTitle())
					return nil
				}
				return interviewScene(ctx, a, in, out, storyID, chapter.ID, scene)
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story-id", "", "Story to interview for")
	_ = cmd.MarkFlagRequired("story-id")
	return cmd
}

func interviewScene(ctx context.Context, a *app, in *bufio.Scanner, out io.Writer, storyID, chapterID string, scene *domain.Scene) error {
	fmt.Fprintf(out, "\nInterviewing for: %s\n", scene.DisplayTitle())
	if _, err := a.mgr.StartSession(ctx, storyID, chapterID, &scene.ID); err != nil {
		return err
	}
	rec, err := a.mgr.StartInterview(ctx, nil)
	fmt.Fprintf(out, "Lumi: %s\n", rec.LastResponse)
	if err != nil && !isModelFailure(err) {
		return err
	}

	for {
		fmt.Fprint(out, "You: ")
		if !in.Scan() {
			break
		}
		answer := strings.TrimSpace(in.Text())
		if strings.EqualFold(answer, "done") {
			break
		}
		if answer == "" {
			continue
		}
		rec, err = a.mgr.HandleUserInput(ctx, answer, nil)
		fmt.Fprintf(out, "Lumi: %s\n", rec.LastResponse)
		if err != nil && !isModelFailure(err) {
			return err
		}
	}
	if err := in.Err(); err != nil {
		return err
	}
	return a.mgr.PauseSession(ctx)
}

func isModelFailure(err error) bool {
	return errors.Is(err, domain.ErrModelUnavailable) ||
		errors.Is(err, domain.ErrModelExecution) ||
		errors.Is(err, context.DeadlineExceeded)
}

func writeCmd(open openFunc, opts *rootOptions) *cobra.Command {
	var storyID, output string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Draft prose for every interviewed scene",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.start(ctx, open)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			var manuscript strings.Builder
			err = eachScene(ctx, a, storyID, func(_ *domain.Chapter, scene *domain.Scene) error {
				history, err := a.repo.GetInterviewHistoryByScene(ctx, scene.ID)
				if err != nil {
					return err
				}
				if history.Len() == 0 {
					return nil
				}
				drafted, err := a.mgr.DraftScene(ctx, scene.ID)
				if err != nil {
					fmt.Fprintf(out, "Failed to generate scene for: %s (%v)\n", scene.DisplayTitle(), err)
					return nil
				}
				fmt.Fprintf(&manuscript, "## %s\n\n%s\n\n", drafted.DisplayTitle(), drafted.Draft)
				return nil
			})
			if err != nil {
				return err
			}

			if output == "" {
				fmt.Fprint(out, manuscript.String())
				return nil
			}
			if err := os.WriteFile(output, []byte(manuscript.String()), 0o600); err != nil {
				return fmt.Errorf("write draft: %w", err)
			}
			fmt.Fprintf(out, "Draft saved to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&storyID, "story-id", "", "Story to draft")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the draft to a file instead of stdout")
	_ = cmd.MarkFlagRequired("story-id")
	return cmd
}

func checkModelCmd(open openFunc, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-model",
		Short: "Check that the configured language model is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.start(cmd.Context(), open)
			if err != nil {
				return err
			}
			defer a.close()

			if err := agent.CheckHealth(cmd.Context(), a.model); err != nil {
				return fmt.Errorf("model check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s: ok\n", a.model.Name())
			return nil
		},
	}
}

// eachScene visits every scene of a story in chapter then scene order.
func eachScene(ctx context.Context, a *app, storyID string, fn func(*domain.Chapter, *domain.Scene) error) error {
	chapters, err := a.repo.ListChapters(ctx, storyID)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return fmt.Errorf("story %s has no chapters; run 'lumi outline' first", storyID)
	}
	for _, c := range chapters {
		scenes, err := a.repo.ListScenes(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, s := range scenes {
			if err := fn(c, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("input is empty")
	}
	return text, nil
}

func promptCmd(opts *rootOptions) *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "prompt <outline|interview|draft>",
		Short: "Print a filled prompt template without calling the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, err := prompt.ByName(args[0])
			if err != nil {
				return err
			}
			uc := domain.DefaultUserContext()
			if opts.userContext != "" {
				if uc, err = loadUserContext(opts.userContext); err != nil {
					return err
				}
			}
			for _, name := range prompt.Missing(tmpl, params) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: no value for %s\n", prompt.Token(name))
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt.Fill(tmpl.Text, uc, params))
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "Template parameter as key=value (repeatable)")
	return cmd
}
