// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strconv"
	"strings"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/spf13/cobra"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the backend's chat-history sessions",
	}

	var list api.ListSessionsOptions
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List remote sessions",
		Args:  exactArgs(0, "mmchat sessions list --archived"),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.backend().ListSessionsWith(cmd.Context(), list)
			if err != nil {
				return commandError("sessions list", "fetch sessions", err)
			}
			if a.jsonMode {
				return a.printJSON(sessions)
			}
			if len(sessions) == 0 {
				a.printf("No sessions.\n")
				return nil
			}
			t := newTable("ID", "TITLE", "MESSAGES", "UPDATED", "TAGS")
			for _, s := range sessions {
				t.add(s.ID, s.Title, strconv.Itoa(s.MessageCount), formatTime(s.UpdatedAt), strings.Join(s.Tags, ","))
			}
			t.write(a.out, map[int]int{1: 40, 4: 24})
			return nil
		},
	}
	listCmd.Flags().BoolVar(&list.Archived, "archived", false, "list archived sessions")
	listCmd.Flags().IntVar(&list.Limit, "limit", 0, "maximum number of sessions")
	listCmd.Flags().IntVar(&list.Offset, "offset", 0, "skip this many sessions")

	cmd.AddCommand(
		listCmd,
		sessionAction(a, "archive", "Archive a session", a.backendArchive),
		sessionAction(a, "restore", "Restore an archived session", a.backendRestore),
		sessionAction(a, "delete", "Delete a session on the backend only", a.backendDelete),
	)
	return cmd
}

func sessionAction(a *app, name, short string, fn func(cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <session-id>",
		Short: short,
		Args:  exactArgs(1, "mmchat sessions "+name+" 7c1e9a40"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fn(cmd, args[0]); err != nil {
				return commandError("sessions "+name, args[0], err)
			}
			if a.jsonMode {
				return a.printJSON(map[string]string{"id": args[0], "action": name})
			}
			a.printf("%s %s\n", SuccessStyle.Render(name+"d"), args[0])
			return nil
		},
	}
}

func (a *app) backendArchive(cmd *cobra.Command, id string) error {
	return a.backend().ArchiveSession(cmd.Context(), id)
}

func (a *app) backendRestore(cmd *cobra.Command, id string) error {
	return a.backend().RestoreSession(cmd.Context(), id)
}

func (a *app) backendDelete(cmd *cobra.Command, id string) error {
	return a.backend().DeleteSession(cmd.Context(), id)
}
