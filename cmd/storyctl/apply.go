// cmd/storyctl/apply.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sumanurawat/storyboarder/internal/llm"
	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
)

// applyResult apply 的机器可读输出
type applyResult struct {
	ProjectID  string                   `json:"projectId"`
	Structured bool                     `json:"structured"`
	ChatText   string                   `json:"chatText"`
	Saved      bool                     `json:"saved"`
	Live       bool                     `json:"live"`
	Report     services.ReconcileReport `json:"report"`
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		live   string
		model  string
	)
	cmd := &cobra.Command{
		Use:   "apply <id> [reply-file]",
		Short: "Apply an assistant reply to a project",
		Long: `Parses a raw assistant reply ({"chat": ..., "updates": {...}}, optionally fenced)
and reconciles its updates into the project, appending the chat text as an
assistant message. Use "-" to read the reply from stdin.

With --live "<message>" the reply is requested from the model in one
non-streaming JSON-mode call instead of being read from a file; the message is
recorded as the user turn. Combine with --dry-run to preview the model's edits.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			live = strings.TrimSpace(live)
			if (live == "") == (len(args) == 1) {
				return errors.New("give either a reply file or --live <message>")
			}
			var raw string
			if live == "" {
				var err error
				if raw, err = readReply(cmd.InOrStdin(), args[1]); err != nil {
					return err
				}
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := loadDocument(cmd, s, args[0])
			if err != nil {
				return err
			}

			if live != "" {
				llmService, err := connectLLM(cmd, s, model)
				if err != nil {
					return err
				}
				doc.AppendMessage(models.RoleUser, live, time.Now())
				if raw, err = completeReply(cmd.Context(), llmService, doc); err != nil {
					return err
				}
			}

			parsed := services.ParseReply(raw)
			doc.AppendMessage(models.RoleAssistant, parsed.ChatText, time.Now())
			next, report := services.NewReconciler().Apply(doc, parsed.Envelope)

			result := applyResult{
				ProjectID:  next.ID,
				Structured: parsed.Structured,
				ChatText:   parsed.ChatText,
				Report:     report,
				Live:       live != "",
			}
			if !dryRun {
				if err := s.repo.SaveDocument(cmd.Context(), next); err != nil {
					return err
				}
				result.Saved = true
				s.log.WithFields(report.Fields()).WithField("project_id", next.ID).Info("reply applied")
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, result)
			}
			return writeApplyResult(out, result)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without saving")
	cmd.Flags().StringVar(&live, "live", "", "ask the model for a reply to this message instead of reading a file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model for --live (defaults to the saved model)")
	return cmd
}

// completeReply 以当前文档状态和完整历史请求一次 JSON 回复
func completeReply(ctx context.Context, llmService *services.LLMService, doc *models.Document) (string, error) {
	if !llmService.HasCredential() {
		return "", errors.New(services.MissingCredentialMessage)
	}
	req := llm.CompletionRequest{
		SystemPrompt: services.ComposeSystemPrompt(doc.Storyboard, doc.Entities),
		Messages:     make([]llm.Message, 0, len(doc.Messages)),
	}
	for _, m := range doc.Messages {
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	resp, err := llmService.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("request reply: %w", err)
	}
	return resp.Text, nil
}

func readReply(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(data), nil
}

func writeApplyResult(w io.Writer, r applyResult) error {
	mode := "plain text"
	if r.Structured {
		mode = "structured"
	}
	status := "saved"
	if !r.Saved {
		status = "dry run, not saved"
	}
	if r.Live {
		mode = "live " + mode
	}
	fmt.Fprintf(w, "Applied %s reply to %s (%s)\n", mode, r.ProjectID, status)
	fmt.Fprintf(w, "Chat: %s\n\n", strings.TrimSpace(r.ChatText))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tADDED\tUPDATED\tREMOVED")
	fmt.Fprintf(tw, "characters\t%d\t%d\t-\n", r.Report.CharactersAdded, r.Report.CharactersUpdated)
	fmt.Fprintf(tw, "locations\t%d\t%d\t-\n", r.Report.LocationsAdded, r.Report.LocationsUpdated)
	fmt.Fprintf(tw, "scenes\t%d\t%d\t%d\n", r.Report.ScenesAdded, r.Report.ScenesUpdated, r.Report.ScenesRemoved)
	if err := tw.Flush(); err != nil {
		return err
	}
	if r.Report.Skipped > 0 {
		fmt.Fprintf(w, "%d update(s) skipped\n", r.Report.Skipped)
	}
	return nil
}
