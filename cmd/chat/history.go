package main

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/history"
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the recorded messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := domain.SessionID(args[0])
			if sessionID.IsZero() {
				return errors.ErrInvalidSession
			}
			loader, err := history.NewLoader(a.log, a.config.APIURL, a.config.HistoryLimit, a.config.HistoryTimeout)
			if err != nil {
				return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
			}
			messages, err := loader.Load(cmd.Context(), sessionID, a.config.Token)
			if err != nil {
				return err
			}
			self := ""
			if claims, err := auth.Inspect(a.config.Token); err == nil {
				self = claims.Participant()
			}
			renderTable(cmd.OutOrStdout(), messages, self)
			return nil
		},
	}
}
