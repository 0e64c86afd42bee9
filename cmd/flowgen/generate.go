package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
)

func newGenerateCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate one workflow locally",
		Long: `Runs the pipeline once without quota or authentication.

Without --output every event is printed as one JSON line. With --output
progress goes to stderr and the workflow is written to the file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			a := newApp(s, cmd.ErrOrStderr())
			defer a.Close()

			p, err := a.pipeline()
			if err != nil {
				return err
			}
			req := flowgen.GenerationRequest{Prompt: strings.Join(args, " ")}

			if output == "" {
				return streamEvents(cmd, p, req)
			}
			return writeWorkflow(cmd, p, req, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the workflow JSON to this file")
	return cmd
}

// eventLine is the JSON-lines form of an event.
type eventLine struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

func streamEvents(cmd *cobra.Command, p *flowgen.Pipeline, req flowgen.GenerationRequest) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed *flowgen.ErrorEvent
	for ev := range p.Stream(cmd.Context(), req) {
		if err := enc.Encode(eventLine{ID: ev.ID, Type: string(ev.Kind), Data: ev.Payload()}); err != nil {
			return err
		}
		if ev.Kind == flowgen.EventError {
			failed = ev.Error
		}
	}
	if failed != nil {
		return &flowgen.RunError{Event: *failed}
	}
	return cmd.Context().Err()
}

func writeWorkflow(cmd *cobra.Command, p *flowgen.Pipeline, req flowgen.GenerationRequest, path string) error {
	stderr := cmd.ErrOrStderr()
	result, err := p.Generate(cmd.Context(), req, func(ev flowgen.ProgressEvent) {
		if ev.Status == flowgen.StatusCompleted {
			fmt.Fprintf(stderr, "%-18s %s\n", ev.Step, ev.Message)
		}
	})
	if err != nil {
		var runErr *flowgen.RunError
		if errors.As(err, &runErr) && runErr.Event.Content != "" {
			fmt.Fprintf(stderr, "model output:\n%s\n", runErr.Event.Content)
		}
		return err
	}

	var pretty any
	if err := json.Unmarshal(result.Workflow, &pretty); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write workflow: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Workflow: %s (%d nodes considered)\n", path, len(result.Nodes))
	return nil
}
