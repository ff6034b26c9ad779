package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/medmesh"
	"github.com/hupe1980/medmesh/config"
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/runner"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var patientID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive patient conversation",
		Long: `Start an interactive patient conversation.

The assistant greets the patient, researches the named condition and asks a
reviewer to approve the technical summary before it reaches the patient.

Examples:
  medmesh chat                 # prompts for the patient ID
  medmesh chat -p p1           # continue memory for patient p1
  medmesh chat -c medmesh.yaml # load settings from a file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Warn("medmesh.close.failed", "error", err.Error())
				}
			}()

			return runChat(ctx, a.svc, patientID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&patientID, "patient", "p", "", "patient ID (prompted when omitted)")

	return cmd
}

// runChat drives one conversation over a line-oriented reader. Empty lines
// are skipped; "exit" or "quit" or end of input ends the conversation. A
// message sent while an earlier run is still paused continues that run
// instead.
func runChat(ctx context.Context, svc *medmesh.Service, patientID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	if patientID == "" {
		fmt.Fprint(out, "Patient ID: ")
		if scanner.Scan() {
			patientID = strings.TrimSpace(scanner.Text())
		}
	}

	conv, err := svc.Start(patientID)
	if err != nil {
		return err
	}

	reply, err := conv.Greet(ctx)
	if err == nil {
		reply, err = review(ctx, conv, reply, scanner, out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nAssistant: %s\n\n", reply.Output)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		reply, err := conv.Send(ctx, input)
		switch {
		case errors.Is(err, medmesh.ErrRunPending):
			fmt.Fprint(out, "\nThe previous answer still waits for review.\n")
			reply, err = resumePaused(ctx, conv, scanner, out)
		case err == nil:
			reply, err = review(ctx, conv, reply, scanner, out)
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "\nAssistant: %s\n\n", reply.Output)
	}
	return scanner.Err()
}

// resumePaused continues the run a failed review left paused. Approvals
// that never got a decision are asked again; decisions already recorded are
// kept and the run is only resumed.
func resumePaused(ctx context.Context, conv *medmesh.Conversation, scanner *bufio.Scanner, out io.Writer) (*medmesh.Reply, error) {
	approvals, err := conv.Pending(ctx)
	if err != nil {
		return nil, err
	}
	return review(ctx, conv, &medmesh.Reply{Status: runner.StatusAwaitingApproval, Approvals: approvals}, scanner, out)
}

// review asks for a decision on every pending approval until the run
// completes. End of input rejects.
func review(ctx context.Context, conv *medmesh.Conversation, reply *medmesh.Reply, scanner *bufio.Scanner, out io.Writer) (*medmesh.Reply, error) {
	for reply.Status == runner.StatusAwaitingApproval {
		decisions := make(map[string]core.Decision, len(reply.Approvals))
		for _, a := range reply.Approvals {
			fmt.Fprintf(out, "\n[PhD REVIEW REQUIRED]\n%s\n", a.Summary)
			fmt.Fprint(out, "Approve summary? (y/n): ")
			answer := ""
			if scanner.Scan() {
				answer = scanner.Text()
			}
			decisions[a.CallID] = core.ParseDecision(answer)
		}

		var err error
		if reply, err = conv.Resolve(ctx, decisions); err != nil {
			return nil, err
		}
	}
	return reply, nil
}
