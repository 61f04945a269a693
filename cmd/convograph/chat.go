package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/convograph/internal/app"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: `Starts an interactive conversation. Answers to clarification and
confirmation questions resume the paused thread. Commands: /state, /usage, /quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
				cfg.LogLevel = "error"
			}

			a, svc, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			thread, _ := cmd.Flags().GetString("thread")
			if thread == "" {
				thread = uuid.NewString()
			}
			return chatLoop(cmd.Context(), svc, thread, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("thread", "", "thread id to continue (new thread when empty)")
	cmd.Flags().BoolP("verbose", "v", false, "keep application logs")
	return cmd
}

func chatLoop(ctx context.Context, svc *app.Service, thread string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "thread %s\n", thread)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/state":
			t, err := svc.Get(ctx, thread)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			printJSON(out, t)
			continue
		case "/usage":
			printJSON(out, svc.Usage())
			continue
		}

		turn, err := svc.Send(ctx, thread, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if turn.Prompt != nil {
			fmt.Fprintf(out, "%s\n", turn.Prompt.Text)
			continue
		}
		fmt.Fprintf(out, "%s\n", turn.Reply)
	}
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
}
