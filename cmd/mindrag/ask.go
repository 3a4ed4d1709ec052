package main

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message through the pipeline and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		req := &domain.ChatRequest{Message: strings.Join(args, " ")}
		if askSession != "" {
			req.SessionID = &askSession
		}
		resp, err := a.chat.Chat(cmd.Context(), req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resp.Response)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "session: %s\n", resp.SessionID)
		fmt.Fprintf(out, "intent:  %s\n", resp.Intent)
		if resp.IsCrisis {
			fmt.Fprintln(out, "crisis:  true")
		}
		for _, s := range resp.Sources {
			fmt.Fprintf(out, "source:  %s / %s\n", s.Domain, s.Title)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue an existing session")
}
