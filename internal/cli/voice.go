// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newVoiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Speech input and output",
	}
	cmd.AddCommand(newVoiceSendCmd(a), newVoiceSayCmd(a), newVoiceStatusCmd(a), newVoiceClearCmd(a))
	return cmd
}

func newVoiceSendCmd(a *app) *cobra.Command {
	var (
		newConv  bool
		conv     string
		audioOut string
	)
	cmd := &cobra.Command{
		Use:   "send <audio-file>",
		Short: "Send recorded speech to the current conversation",
		Example: `  mmchat voice send question.wav
  mmchat voice send question.webm --tts --audio-out answer.pcm`,
		Args: exactArgs(1, "mmchat voice send question.wav"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.voiceTTS = audioOut != ""

			var out *os.File
			if audioOut != "" {
				f, err := os.Create(audioOut)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			r := newREPL(a)
			a.handlers.OnRecognition = func(text string) {
				if !a.jsonMode {
					fmt.Fprintf(a.out, "%s %s\n", UserStyle.Render("you:"), text)
				}
			}
			chunks := 0
			a.handlers.OnAudio = func(chunkID int, audio []byte) {
				if out == nil {
					return
				}
				if _, err := out.Write(audio); err != nil {
					a.logger.Warn("AUDIO_WRITE_FAILED", "chunk_id", chunkID, "error", err)
					return
				}
				chunks++
			}

			if err := a.open(ctx); err != nil {
				return err
			}
			if err := r.selectConversation(ctx, newConv, conv); err != nil {
				return err
			}

			audio, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer audio.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			done := make(chan struct{})
			go func() {
				select {
				case <-sig:
					a.chat.Cancel()
				case <-done:
				}
			}()
			r.printed = false
			reply, err := a.chat.SendVoice(ctx, filepath.Base(args[0]), audio)
			close(done)
			signal.Stop(sig)

			err = r.report(reply, err)
			if chunks > 0 && !a.jsonMode {
				fmt.Fprintln(a.errOut, DimStyle.Render(fmt.Sprintf("wrote %d audio chunks to %s", chunks, audioOut)))
			}
			return err
		},
	}
	fl := cmd.Flags()
	fl.BoolVarP(&newConv, "new", "n", false, "start a new conversation")
	fl.StringVarP(&conv, "conversation", "c", "", "conversation id, id prefix or title")
	fl.StringVar(&audioOut, "audio-out", "", "ask for spoken replies and write the audio here")
	return cmd
}

func newVoiceSayCmd(a *app) *cobra.Command {
	var (
		voice  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Synthesize speech to a WAV file",
		Args:  exactArgs(1, `mmchat voice say "hello" -o hello.wav`),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := a.backend().Synthesize(cmd.Context(), args[0], voice)
			if err != nil {
				return commandError("voice say", "synthesize", err)
			}
			if err := os.WriteFile(output, audio, 0o644); err != nil {
				return err
			}
			if a.jsonMode {
				return a.printJSON(map[string]any{"output": output, "bytes": len(audio)})
			}
			a.printf("Wrote %s (%s)\n", output, formatSize(int64(len(audio))))
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "voice name")
	cmd.Flags().StringVarP(&output, "output", "o", "speech.wav", "output file")
	return cmd
}

func newVoiceStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend's speech engines",
		Args:  exactArgs(0, "mmchat voice status"),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.backend().EngineStatus(cmd.Context())
			if err != nil {
				return commandError("voice status", "fetch engine status", err)
			}
			if a.jsonMode {
				return a.printJSON(st)
			}
			a.printf("%s %s %s\n", RenderLabel("Speech input"), readiness(st.ASR), st.ASRModel)
			a.printf("%s %s %s\n", RenderLabel("Speech output"), readiness(st.TTS), st.TTSEngine)
			a.printf("%s %s\n", RenderLabel("Language model"), readiness(st.LLM))
			return nil
		},
	}
}

func newVoiceClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the backend's voice context for the current conversation",
		Args:  exactArgs(0, "mmchat voice clear"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			sessionID := ""
			if conv, err := a.conversations.Current(ctx); err == nil && conv != nil {
				sessionID = conv.HistorySessionID
			}
			if err := a.backend().ClearVoiceHistory(ctx, sessionID); err != nil {
				return commandError("voice clear", "clear history", err)
			}
			a.printf("Voice history cleared\n")
			return nil
		},
	}
}

func readiness(ok bool) string {
	if ok {
		return RenderStatus("ready")
	}
	return RenderStatus("failed")
}
