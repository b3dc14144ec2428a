// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jeranaias/mmchat/internal/export"
	"github.com/spf13/cobra"
)

func newConversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "c"},
		Short:   "Manage local conversations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, newest first",
			Args:  exactArgs(0, "mmchat conversations list"),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.open(cmd.Context()); err != nil {
					return err
				}
				return a.listConversations(cmd.Context())
			},
		},
		newConversationShowCmd(a),
		newConversationExportCmd(a),
		&cobra.Command{
			Use:   "switch <ref>",
			Short: "Make a conversation current",
			Args:  exactArgs(1, "mmchat conversations switch 3fa2"),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := a.open(ctx); err != nil {
					return err
				}
				conv, err := a.conversations.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.conversations.SetCurrent(ctx, conv.ID); err != nil {
					return err
				}
				a.printf("Switched to %s\n", conv.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <ref> <title>",
			Short: "Rename a conversation",
			Args:  exactArgs(2, `mmchat conversations rename 3fa2 "Trip notes"`),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := a.open(ctx); err != nil {
					return err
				}
				conv, err := a.conversations.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				return a.conversations.Rename(ctx, conv.ID, args[1])
			},
		},
		&cobra.Command{
			Use:     "delete <ref>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation here and on the backend",
			Args:    exactArgs(1, "mmchat conversations delete 3fa2"),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := a.open(ctx); err != nil {
					return err
				}
				conv, err := a.conversations.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.chat.DeleteConversation(ctx, conv.ID); err != nil {
					return err
				}
				a.printf("Deleted %s\n", conv.Title)
				return nil
			},
		},
	)
	return cmd
}

func newConversationShowCmd(a *app) *cobra.Command {
	var loadHistory bool
	cmd := &cobra.Command{
		Use:   "show [ref]",
		Short: "Print a conversation (default: current)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if len(args) > 1 {
				return usageErrorf("mmchat conversations show 3fa2", "show takes at most one conversation")
			}
			conv, err := a.conversations.Current(ctx)
			if len(args) == 1 {
				conv, err = a.conversations.Resolve(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if conv == nil {
				return usageErrorf("mmchat conversations show 3fa2", "no current conversation")
			}
			if loadHistory {
				if _, err := a.reconciler.LoadHistory(ctx, conv.ID); err != nil {
					return err
				}
			}
			return a.showConversation(ctx, conv.ID, newRenderer(a.cfg.UI.Markdown, a.cfg.UI.WordWrap))
		},
	}
	cmd.Flags().BoolVar(&loadHistory, "load-history", false, "replace the messages with the backend's copy first")
	return cmd
}

func newConversationExportCmd(a *app) *cobra.Command {
	var (
		format string
		dir    string
		stdout bool
	)
	cmd := &cobra.Command{
		Use:   "export [ref]",
		Short: "Export a conversation as Markdown or JSON (default: current)",
		Example: `  mmchat conversations export
  mmchat conversations export 3fa2 --format json --dir ./exports
  mmchat conversations export --stdout | less`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) > 1 {
				return usageErrorf("mmchat conversations export 3fa2", "export takes at most one conversation")
			}
			exporter, err := export.ForFormat(format, nil)
			if err != nil {
				return usageErrorf("mmchat conversations export --format md", "%v", err)
			}
			if err := a.open(ctx); err != nil {
				return err
			}

			conv, err := a.conversations.Current(ctx)
			if len(args) == 1 {
				conv, err = a.conversations.Resolve(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if conv == nil {
				return usageErrorf("mmchat conversations export 3fa2", "no current conversation")
			}
			data, err := a.conversations.Get(ctx, conv.ID)
			if err != nil {
				return err
			}

			if stdout {
				content, err := exporter.Export(data)
				if err != nil {
					return err
				}
				_, err = a.out.Write(content)
				return err
			}
			path, err := export.ToFile(data, exporter, dir, nil)
			if err != nil {
				return err
			}
			if a.jsonMode {
				return a.printJSON(map[string]string{"path": path, "mime_type": exporter.MimeType()})
			}
			a.printf("Exported to %s\n", path)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&format, "format", "md", "md or json")
	fl.StringVar(&dir, "dir", ".", "output directory")
	fl.BoolVar(&stdout, "stdout", false, "write to standard output instead of a file")
	return cmd
}

// listConversations prints the conversation table.
func (a *app) listConversations(ctx context.Context) error {
	list, err := a.conversations.List(ctx)
	if err != nil {
		return err
	}
	if a.jsonMode {
		return a.printJSON(list)
	}
	if len(list) == 0 {
		a.printf("No conversations. Start one with mmchat chat.\n")
		return nil
	}

	t := newTable("", "ID", "TITLE", "MESSAGES", "UPDATED", "SESSION")
	for _, c := range list {
		marker := " "
		if c.IsActive {
			marker = "*"
		}
		session := "local"
		if c.IsSynced() {
			session = shortID(c.HistorySessionID)
		}
		t.add(marker, shortID(c.ID), c.Title, strconv.Itoa(c.MessageCount), formatTime(c.UpdatedAt), session)
	}
	t.write(a.out, map[int]int{2: 40})
	return nil
}

// showConversation prints the transcript of one conversation.
func (a *app) showConversation(ctx context.Context, id string, r *renderer) error {
	data, err := a.conversations.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.jsonMode {
		return a.printJSON(data)
	}

	fmt.Fprintln(a.out, TitleStyle.Render(data.Conversation.Title))
	fmt.Fprintln(a.out, RenderSeparator(GetTerminalWidth()))
	if len(data.Messages) == 0 {
		fmt.Fprintln(a.out, DimStyle.Render("(no messages)"))
		return nil
	}
	for _, m := range data.Messages {
		writeMessage(a.out, r, m)
	}
	return nil
}
