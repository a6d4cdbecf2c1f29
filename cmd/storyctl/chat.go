// cmd/storyctl/chat.go
package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/llm/providers/openrouter"
	"github.com/sumanurawat/storyboarder/internal/services"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		model   string
		timeout time.Duration
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "chat <id> <message>",
		Short: "Run one turn against a project, streaming the reply to stdout",
		Long: `Sends a message to the project's assistant and applies the structured reply
to the storyboard, exactly like the server does. Raw tokens are streamed as they
arrive; the final chat text is printed once the turn completes.

The API key comes from saved settings or OPENROUTER_API_KEY.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return errors.New("message must not be blank")
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			llmService, err := connectLLM(cmd, s, model)
			if err != nil {
				return err
			}

			if timeout <= 0 {
				timeout = s.cfg.TurnTimeout
			}
			projects := services.NewProjectService(s.repo, llmService, services.TurnOptions{
				Timeout: timeout,
				Log:     s.entry("turn"),
			})
			defer projects.Close()

			controller, err := projects.Get(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			updates := controller.Subscribe()
			done := make(chan struct{})
			go func() {
				defer close(done)
				printed := 0
				for update := range updates {
					if quiet || len(update.StreamingText) <= printed {
						continue
					}
					fmt.Fprint(out, update.StreamingText[printed:])
					printed = len(update.StreamingText)
				}
				if printed > 0 {
					fmt.Fprintln(out)
				}
			}()

			submitErr := controller.Submit(ctx, text)
			controller.Unsubscribe(updates)
			<-done
			if submitErr != nil {
				return submitErr
			}

			doc := controller.Document()
			reply := doc.Messages[len(doc.Messages)-1]
			if !quiet {
				fmt.Fprintln(out, "---")
			}
			fmt.Fprintln(out, reply.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use for this turn (defaults to the saved model)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "turn timeout (defaults to TURN_TIMEOUT)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the final reply")
	return cmd
}

// connectLLM 按保存的设置初始化生成服务；model 非空时只作用于本次调用，不写入设置
func connectLLM(cmd *cobra.Command, s *session, model string) (*services.LLMService, error) {
	llmService := services.NewLLMService(openrouter.ProviderName, s.cfg.OpenRouterBaseURL, s.entry("llm"))
	settings := services.NewSettingsService(s.repo, llmService, s.cfg.SettingsSecret, s.cfg.OpenRouterAPIKey, s.entry("settings"))
	stored, err := settings.Load(cmd.Context())
	if apperrors.IsPersistenceError(err) {
		return nil, err
	}
	if model != "" && model != stored.Model {
		if err := llmService.UpdateCredentials(settings.EffectiveAPIKey(), model); err != nil {
			s.log.WithError(err).Warn("failed to apply --model")
		}
	}
	return llmService, nil
}
