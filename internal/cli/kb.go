// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/knowledge"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/spf13/cobra"
)

var errRefreshFailed = errors.New("refresh failed; see the log for details")

func newKnowledgeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kb",
		Aliases: []string{"knowledge"},
		Short:   "Browse and select knowledge bases",
	}

	var refresh bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached knowledge bases",
		Args:  exactArgs(0, "mmchat kb list --refresh"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			if refresh && !a.knowledge.Refresh(cmd.Context()) {
				fmt.Fprintln(a.errOut, WarningStyle.Render("Refresh failed; showing cached knowledge bases."))
			}
			return a.listKnowledgeBases()
		},
	}
	listCmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from the backend first")

	var clearSelection bool
	selectCmd := &cobra.Command{
		Use:   "select [id|name]",
		Short: "Choose the knowledge base used with --rag",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if clearSelection {
				return a.knowledge.Select(ctx, "")
			}
			if len(args) != 1 {
				return usageErrorf("mmchat kb select manuals", "select needs a knowledge base or --clear")
			}
			kb, err := a.resolveKnowledgeBase(args[0])
			if err != nil {
				return err
			}
			if err := a.knowledge.Select(ctx, kb.ID); err != nil {
				return err
			}
			a.printf("Using %s\n", kb.Name)
			return nil
		},
	}
	selectCmd.Flags().BoolVar(&clearSelection, "clear", false, "clear the selection")

	cmd.AddCommand(
		listCmd,
		&cobra.Command{
			Use:   "refresh",
			Short: "Fetch knowledge bases and their documents",
			Args:  exactArgs(0, "mmchat kb refresh"),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.open(cmd.Context()); err != nil {
					return err
				}
				if !a.knowledge.Refresh(cmd.Context()) {
					return commandError("kb refresh", "fetch knowledge bases", errRefreshFailed)
				}
				if a.jsonMode {
					return a.printJSON(a.knowledge.List())
				}
				a.printf("Refreshed %d knowledge bases\n", len(a.knowledge.List()))
				return nil
			},
		},
		selectCmd,
		&cobra.Command{
			Use:   "docs [id|name]",
			Short: "List the documents of a knowledge base (default: selected)",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.open(cmd.Context()); err != nil {
					return err
				}
				kb := a.knowledge.Selected()
				if len(args) > 0 {
					var err error
					if kb, err = a.resolveKnowledgeBase(args[0]); err != nil {
						return err
					}
				}
				if kb == nil {
					return usageErrorf("mmchat kb docs manuals", "no knowledge base selected")
				}
				return a.listDocuments(kb.Documents)
			},
		},
		&cobra.Command{
			Use:   "create <name> [description]",
			Short: "Create a knowledge base on the backend",
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 0 || len(args) > 2 {
					return usageErrorf(`mmchat kb create manuals "Product manuals"`, "create takes a name and an optional description")
				}
				in := api.KnowledgeBaseInput{Name: args[0]}
				if len(args) == 2 {
					in.Description = args[1]
				}
				kb, err := a.backend().CreateKnowledgeBase(cmd.Context(), in)
				if err != nil {
					return commandError("kb create", args[0], err)
				}
				if a.jsonMode {
					return a.printJSON(kb)
				}
				a.printf("Created %s (%s)\n", kb.Name, kb.ID)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) listKnowledgeBases() error {
	list := a.knowledge.List()
	if a.jsonMode {
		return a.printJSON(list)
	}
	if len(list) == 0 {
		a.printf("No knowledge bases. Try mmchat kb refresh.\n")
		return nil
	}
	selected := ""
	if kb := a.knowledge.Selected(); kb != nil {
		selected = kb.ID
	}
	t := newTable("", "ID", "NAME", "DOCUMENTS", "UPDATED")
	for _, kb := range list {
		marker := " "
		if kb.ID == selected {
			marker = "*"
		}
		t.add(marker, shortID(kb.ID), kb.Name, strconv.Itoa(kb.DocumentCount), formatTime(kb.UpdatedAt))
	}
	t.write(a.out, map[int]int{2: 40})
	if at := a.knowledge.RefreshedAt(); !at.IsZero() {
		fmt.Fprintln(a.out, DimStyle.Render("refreshed "+formatTime(at)))
	}
	return nil
}

func (a *app) listDocuments(docs []*model.RAGDocument) error {
	if a.jsonMode {
		if docs == nil {
			docs = []*model.RAGDocument{}
		}
		return a.printJSON(docs)
	}
	if len(docs) == 0 {
		a.printf("No documents.\n")
		return nil
	}
	t := newTable("ID", "FILENAME", "SIZE", "CHUNKS", "STATUS")
	for _, d := range docs {
		t.add(shortID(d.ID), d.Filename, formatSize(d.Size), strconv.Itoa(d.ChunkCount), RenderStatus(d.Status))
	}
	t.write(a.out, map[int]int{1: 48})
	return nil
}

// resolveKnowledgeBase finds a cached knowledge base by id, id prefix or
// name.
func (a *app) resolveKnowledgeBase(ref string) (*model.KnowledgeBase, error) {
	var matches []*model.KnowledgeBase
	for _, kb := range a.knowledge.List() {
		if kb.ID == ref {
			return kb, nil
		}
		if strings.HasPrefix(kb.ID, ref) || strings.EqualFold(kb.Name, ref) {
			matches = append(matches, kb)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", knowledge.ErrUnknownBase, ref)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%q matches %d knowledge bases", ref, len(matches))
}
