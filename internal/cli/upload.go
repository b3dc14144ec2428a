// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		opts api.UploadOptions
		kb   string
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file, optionally indexing it for retrieval",
		Example: `  mmchat upload scan.png --ocr
  mmchat upload manual.pdf --index --kb manuals`,
		Args: exactArgs(1, "mmchat upload manual.pdf --index"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if kb != "" {
				if err := a.open(ctx); err != nil {
					return err
				}
				base, err := a.resolveKnowledgeBase(kb)
				if err != nil {
					return err
				}
				opts.KnowledgeBaseID = base.ID
				opts.Index = true
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			name := filepath.Base(args[0])
			up, err := a.backend().UploadFile(ctx, name, f, opts)
			if err != nil {
				return commandError("upload", name, err)
			}
			if opts.KnowledgeBaseID != "" && !a.knowledge.Refresh(ctx) {
				a.logger.Warn("KNOWLEDGE_REFRESH_FAILED", "after", "upload")
			}

			if a.jsonMode {
				return a.printJSON(map[string]any{"file": up.File, "document_id": up.DocumentID})
			}
			a.printf("%s %s\n", RenderLabel("File ID"), up.File.ID)
			a.printf("%s %s\n", RenderLabel("Size"), formatSize(up.File.Size))
			if up.File.ContentType != "" {
				a.printf("%s %s\n", RenderLabel("Type"), up.File.ContentType)
			}
			if up.DocumentID != "" {
				a.printf("%s %s\n", RenderLabel("Document ID"), up.DocumentID)
			}
			if up.File.OCRText != "" {
				a.printf("%s\n%s\n", RenderLabel("OCR text"), up.File.OCRText)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&opts.OCR, "ocr", false, "extract text from images and scans")
	fl.BoolVar(&opts.Index, "index", false, "add the file to the document index")
	fl.StringVar(&kb, "kb", "", "knowledge base to attach the indexed document to")
	return cmd
}
