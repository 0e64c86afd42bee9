package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

type quotaStatus struct {
	Identity  string    `json:"identity"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

func newQuotaCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quota <identity>",
		Short: "Show remaining generations for an identity",
		Long:  "Reads the quota counter for an identity from the configured store without consuming it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			a := newApp(s, cmd.ErrOrStderr())
			defer a.Close()

			limiter, err := a.limiter()
			if err != nil {
				return err
			}
			d, err := limiter.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(quotaStatus{
				Identity:  args[0],
				Limit:     limiter.Limit(),
				Remaining: d.Remaining,
				ResetAt:   d.ResetAt.UTC(),
			})
		},
	}
}
