package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsPurgeCmd())
	return cmd
}

func openStore() (*session.Store, *config.Config, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Driver == "memory" {
		return nil, nil, fmt.Errorf("session commands require a durable storage driver")
	}
	db, err := session.OpenDatabase(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewStore(db, log)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func newSessionsListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg, err := openStore()
			if err != nil {
				return err
			}
			sessions, err := store.ListSessions(cmd.Context(), cfg.Agent.Name, userID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title, _ := s.State[session.StateKeyConversationTitle].(string)
				fmt.Printf("%s\t%s\t%s\n", s.ID, s.LastUpdateTime.Format(time.RFC3339), title)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore()
			if err != nil {
				return err
			}
			if err := store.DeleteSession(cmd.Context(), cfg.Agent.Name, userID, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete all sessions whose retention window has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			purged, err := store.PurgeExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d sessions\n", purged)
			return nil
		},
	}
}
