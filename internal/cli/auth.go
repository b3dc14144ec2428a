// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"strings"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/config"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var cred api.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Example: `  mmchat login
  MMCHAT_PASSWORD=secret mmchat login --username demo`,
		Args: exactArgs(0, "mmchat login --username demo"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.promptCredentials(&cred); err != nil {
				return err
			}
			if cred.Username == "" || cred.Password == "" {
				return usageErrorf("mmchat login --username demo", "username and password are required")
			}

			tok, err := a.backend().Login(cmd.Context(), cred)
			if err != nil {
				return commandError("login", "authenticate", err)
			}
			err = a.editConfig(func(cfg *config.Config) error {
				cfg.Backend.Token = tok.AccessToken
				return nil
			})
			if err != nil {
				return err
			}
			if a.jsonMode {
				return a.printJSON(map[string]any{"username": cred.Username, "expires_in": tok.ExpiresIn})
			}
			a.printf("%s Logged in as %s\n", SuccessStyle.Render("OK"), cred.Username)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&cred.Username, "username", "u", "", "account name")
	fl.StringVar(&cred.Password, "password", "", "password (prompted when omitted)")
	fl.StringVar(&cred.CaptchaID, "captcha-id", "", "captcha challenge id")
	fl.StringVar(&cred.Captcha, "captcha", "", "captcha answer")
	return cmd
}

// promptCredentials fills missing fields interactively. Without a terminal
// the password may come from MMCHAT_PASSWORD.
func (a *app) promptCredentials(cred *api.Credentials) error {
	if cred.Password == "" {
		cred.Password = os.Getenv("MMCHAT_PASSWORD")
	}
	if (cred.Username != "" && cred.Password != "") || !IsTTY() {
		return nil
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if cred.Username == "" {
		name, err := line.Prompt("Username: ")
		if err != nil {
			return err
		}
		cred.Username = strings.TrimSpace(name)
	}
	if cred.Password == "" {
		pw, err := line.PasswordPrompt("Password: ")
		if err != nil {
			return err
		}
		cred.Password = pw
	}
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored token",
		Args:  exactArgs(0, "mmchat logout"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Backend.Token == "" {
				a.printf("Not logged in\n")
				return nil
			}
			if err := a.backend().Logout(cmd.Context()); err != nil {
				a.logger.Warn("LOGOUT_FAILED", "error", err)
			}
			err := a.editConfig(func(cfg *config.Config) error {
				cfg.Backend.Token = ""
				return nil
			})
			if err != nil {
				return err
			}
			a.printf("Logged out\n")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		Args:  exactArgs(0, "mmchat whoami"),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.backend().Profile(cmd.Context())
			if err != nil {
				return commandError("whoami", "fetch profile", err)
			}
			if a.jsonMode {
				return a.printJSON(p)
			}
			a.printf("%s %s\n", RenderLabel("Username"), p.Username)
			if p.Email != "" {
				a.printf("%s %s\n", RenderLabel("Email"), p.Email)
			}
			a.printf("%s %s\n", RenderLabel("Backend"), a.backend().BaseURL())
			return nil
		},
	}
}
