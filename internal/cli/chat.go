// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/chat"
	"github.com/jeranaias/mmchat/internal/config"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/stream"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

type chatFlags struct {
	newConv bool
	conv    string
	file    string
	ocr     bool
	rag     bool
	noSync  bool
}

func newChatCmd(a *app) *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or start an interactive chat",
		Example: `  mmchat chat                          Interactive chat in the current conversation
  mmchat chat "summarise this" --file report.pdf
  mmchat chat --new "hello"             Start a new conversation
  mmchat chat -c 3fa2 --rag "what does the manual say about resets?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := newREPL(a)
			r.useRAG = f.rag

			if err := a.open(ctx); err != nil {
				return err
			}
			if !f.noSync {
				a.syncOnStart(ctx)
			}
			if err := r.selectConversation(ctx, f.newConv, f.conv); err != nil {
				return err
			}
			if f.file != "" {
				file, err := r.upload(ctx, f.file, f.ocr)
				if err != nil {
					return err
				}
				r.pending = file
			}

			if len(args) > 0 {
				return r.send(ctx, strings.Join(args, " "))
			}
			if !IsTTY() {
				data, err := io.ReadAll(a.in)
				if err != nil {
					return err
				}
				if strings.TrimSpace(string(data)) == "" && r.pending == nil {
					return usageErrorf(`mmchat chat "hello"`, "no message given")
				}
				return r.send(ctx, string(data))
			}
			return r.loop(ctx)
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.newConv, "new", "n", false, "start a new conversation")
	fl.StringVarP(&f.conv, "conversation", "c", "", "conversation id, id prefix or title")
	fl.StringVarP(&f.file, "file", "f", "", "upload and attach a file")
	fl.BoolVar(&f.ocr, "ocr", false, "run OCR on the attached file")
	fl.BoolVar(&f.rag, "rag", false, "answer from the selected knowledge base")
	fl.BoolVar(&f.noSync, "no-sync", false, "skip the start-up sync")
	return cmd
}

// =============================================================================
// REPL
// =============================================================================

// repl prints streamed replies and handles slash commands.
type repl struct {
	a       *app
	render  *renderer
	useRAG  bool
	pending *model.FileInfo

	// printed is set once a fragment of the current reply was written.
	printed bool
}

func newREPL(a *app) *repl {
	r := &repl{a: a}
	r.render = newRenderer(a.cfg.UI.Markdown && !a.jsonMode, a.cfg.UI.WordWrap)
	a.handlers = stream.Handlers{
		OnContent: func(fragment string) {
			if a.jsonMode || !r.render.streaming() {
				return
			}
			fmt.Fprint(a.out, fragment)
			r.printed = true
		},
		OnStatus: func(status string) {
			if status != "" && !a.jsonMode {
				fmt.Fprintln(a.errOut, DimStyle.Render("... "+status))
			}
		},
	}
	return r
}

func (r *repl) selectConversation(ctx context.Context, create bool, ref string) error {
	convs := r.a.conversations
	switch {
	case create:
		_, err := convs.Create(ctx, "")
		return err
	case ref != "":
		conv, err := convs.Resolve(ctx, ref)
		if err != nil {
			return err
		}
		return convs.SetCurrent(ctx, conv.ID)
	}
	return nil
}

func (r *repl) upload(ctx context.Context, path string, ocr bool) (*model.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	up, err := r.a.backend().UploadFile(ctx, filepath.Base(path), f, api.UploadOptions{OCR: ocr})
	if err != nil {
		return nil, commandError("upload", filepath.Base(path), err)
	}
	if !r.a.jsonMode {
		fmt.Fprintln(r.a.errOut, DimStyle.Render(fmt.Sprintf("attached %s (%s)", up.File.Name, formatSize(up.File.Size))))
	}
	return up.File, nil
}

// send streams one reply. Ctrl+C cancels the reply, not the process.
func (r *repl) send(ctx context.Context, text string) error {
	opts := chat.SendOptions{File: r.pending}
	if r.useRAG {
		if kb := r.a.knowledge.Selected(); kb != nil {
			opts.KnowledgeBaseID = kb.ID
			opts.UseRAG = true
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			r.a.chat.Cancel()
		case <-done:
		}
	}()

	r.printed = false
	reply, err := r.a.chat.Send(ctx, text, opts)
	close(done)
	signal.Stop(sig)
	if reply != nil {
		r.pending = nil
	}
	return r.report(reply, err)
}

// report prints the end of a reply.
func (r *repl) report(reply *chat.Reply, err error) error {
	a := r.a
	if a.jsonMode {
		if reply != nil {
			if jerr := a.printJSON(replyJSON(reply)); jerr != nil {
				return jerr
			}
		}
		return err
	}

	if r.printed {
		fmt.Fprintln(a.out)
	}
	switch {
	case stream.IsCancellation(err):
		fmt.Fprintln(a.errOut, WarningStyle.Render("[Cancelled]"))
	case err != nil:
		// DisplayError reports it.
	case reply != nil && reply.Assistant != nil && !r.printed:
		fmt.Fprintln(a.out, strings.TrimRight(r.render.render(reply.Assistant.Content), "\n"))
	case reply != nil && reply.Assistant == nil:
		fmt.Fprintln(a.errOut, DimStyle.Render("(no reply)"))
	}
	return err
}

type replyView struct {
	ConversationID string         `json:"conversation_id"`
	Outcome        string         `json:"outcome"`
	User           *model.Message `json:"user,omitempty"`
	Assistant      *model.Message `json:"assistant,omitempty"`
}

func replyJSON(r *chat.Reply) replyView {
	return replyView{
		ConversationID: r.ConversationID,
		Outcome:        r.Outcome.String(),
		User:           r.User,
		Assistant:      r.Assistant,
	}
}

// loop runs the interactive prompt until /quit or EOF.
func (r *repl) loop(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyFile == "" {
			return
		}
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	r.banner(ctx)
	for {
		input, err := line.Prompt("mmchat> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.a.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				DisplayError(r.a.errOut, err, false)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(ctx, input); err != nil && !stream.IsCancellation(err) {
			DisplayError(r.a.errOut, err, false)
		}
	}
}

func (r *repl) banner(ctx context.Context) {
	a := r.a
	fmt.Fprintln(a.out, TitleStyle.Render("mmchat")+DimStyle.Render(" connected to "+a.cfg.Backend.BaseURL))
	if conv, err := a.conversations.Current(ctx); err == nil && conv != nil {
		fmt.Fprintf(a.out, "%s %s (%d messages)\n", DimStyle.Render("conversation:"), conv.Title, conv.MessageCount)
	}
	if kb := a.knowledge.Selected(); kb != nil {
		fmt.Fprintf(a.out, "%s %s\n", DimStyle.Render("knowledge base:"), kb.Name)
	}
	fmt.Fprintln(a.out, DimStyle.Render("Type /help for commands. Ctrl+C cancels a reply, Ctrl+D exits."))
	fmt.Fprintln(a.out)
}

const replHelp = `Commands:
  /new [title]        Start a new conversation
  /list               List conversations
  /switch <ref>       Switch conversation by id, id prefix or title
  /delete [ref]       Delete a conversation (default: current)
  /rename <title>     Rename the current conversation
  /history            Load the current conversation's messages from the backend
  /show               Print the current conversation
  /sync               Reconcile with the backend
  /kb [id|off]        Show or select the knowledge base
  /rag on|off         Answer from the selected knowledge base
  /attach <path>      Attach a file to the next message
  /quit               Exit`

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	a := r.a
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/help", "/h", "/?":
		fmt.Fprintln(a.out, replHelp)

	case "/quit", "/q", "/exit":
		return true, nil

	case "/new":
		conv, err := a.conversations.Create(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Started %s\n", conv.Title)

	case "/list", "/ls":
		return false, a.listConversations(ctx)

	case "/switch", "/sw":
		if rest == "" {
			return false, usageErrorf("/switch 3fa2", "/switch needs a conversation")
		}
		conv, err := a.conversations.Resolve(ctx, rest)
		if err != nil {
			return false, err
		}
		if err := a.conversations.SetCurrent(ctx, conv.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Switched to %s\n", conv.Title)

	case "/delete", "/rm":
		conv, err := r.resolveOrCurrent(ctx, rest)
		if err != nil {
			return false, err
		}
		if err := a.chat.DeleteConversation(ctx, conv.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Deleted %s\n", conv.Title)

	case "/rename":
		conv, err := r.resolveOrCurrent(ctx, "")
		if err != nil {
			return false, err
		}
		return false, a.conversations.Rename(ctx, conv.ID, rest)

	case "/history":
		conv, err := r.resolveOrCurrent(ctx, "")
		if err != nil {
			return false, err
		}
		n, err := a.reconciler.LoadHistory(ctx, conv.ID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Loaded %d messages\n", n)

	case "/show":
		conv, err := r.resolveOrCurrent(ctx, "")
		if err != nil {
			return false, err
		}
		return false, a.showConversation(ctx, conv.ID, r.render)

	case "/sync":
		plan, err := a.reconciler.Run(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, planSummary(plan.Empty(), len(plan.Adds), len(plan.Updates), len(plan.Removals)))

	case "/kb":
		return false, r.knowledgeCommand(ctx, rest)

	case "/rag":
		switch strings.ToLower(rest) {
		case "on":
			r.useRAG = true
		case "off":
			r.useRAG = false
		default:
			return false, usageErrorf("/rag on", "/rag takes on or off")
		}
		fmt.Fprintf(a.out, "RAG %s\n", rest)

	case "/attach":
		if rest == "" {
			return false, usageErrorf("/attach ./photo.png", "/attach needs a path")
		}
		file, err := r.upload(ctx, rest, true)
		if err != nil {
			return false, err
		}
		r.pending = file

	default:
		return false, usageErrorf("/help", "unknown command %s", name)
	}
	return false, nil
}

func (r *repl) resolveOrCurrent(ctx context.Context, ref string) (*model.Conversation, error) {
	if ref != "" {
		return r.a.conversations.Resolve(ctx, ref)
	}
	conv, err := r.a.conversations.Current(ctx)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errors.New("no current conversation")
	}
	return conv, nil
}

func (r *repl) knowledgeCommand(ctx context.Context, arg string) error {
	a := r.a
	switch strings.ToLower(arg) {
	case "":
		if kb := a.knowledge.Selected(); kb != nil {
			fmt.Fprintf(a.out, "Knowledge base: %s (%d documents)\n", kb.Name, kb.DocumentCount)
		} else {
			fmt.Fprintln(a.out, "No knowledge base selected")
		}
		return nil
	case "off", "none":
		return a.knowledge.Select(ctx, "")
	case "list":
		return a.listKnowledgeBases()
	}
	kb, err := a.resolveKnowledgeBase(arg)
	if err != nil {
		return err
	}
	if err := a.knowledge.Select(ctx, kb.ID); err != nil {
		return err
	}
	r.useRAG = true
	fmt.Fprintf(a.out, "Using %s\n", kb.Name)
	return nil
}

func planSummary(empty bool, adds, updates, removals int) string {
	if empty {
		return "Already in sync"
	}
	return fmt.Sprintf("Synced: %d added, %d updated, %d removed", adds, updates, removals)
}
