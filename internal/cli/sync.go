// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"

	"github.com/jeranaias/mmchat/internal/syncer"
	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		policy string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local conversations with the backend's sessions",
		Example: `  mmchat sync
  mmchat sync --policy merge    Keep conversations that were never uploaded
  mmchat sync --dry-run`,
		Args: exactArgs(0, "mmchat sync"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if policy != "" {
				if _, err := syncer.ParsePolicy(policy); err != nil {
					return usageErrorf("mmchat sync --policy merge", "%v", err)
				}
				a.cfg.Sync.Policy = policy
			}
			if err := a.open(ctx); err != nil {
				return err
			}

			var (
				plan syncer.Plan
				err  error
			)
			if dryRun {
				plan, err = a.reconciler.Preview(ctx)
			} else {
				plan, err = a.reconciler.Run(ctx)
			}
			if errors.Is(err, syncer.ErrFetchFailed) {
				return commandError("sync", "fetch sessions", err)
			}
			if err != nil {
				return commandError("sync", "update cache", err)
			}
			return a.printPlan(plan, dryRun)
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "mirror or merge (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the plan without applying it")
	return cmd
}

type planView struct {
	Policy   string   `json:"policy"`
	Applied  bool     `json:"applied"`
	Added    []string `json:"added"`
	Updated  []string `json:"updated"`
	Removed  []string `json:"removed"`
	Unsynced int      `json:"removed_unsynced"`
}

func (a *app) printPlan(plan syncer.Plan, dryRun bool) error {
	v := planView{
		Policy:  a.reconciler.Policy().String(),
		Applied: !dryRun,
		Added:   []string{},
		Updated: []string{},
		Removed: []string{},
	}
	for _, s := range plan.Adds {
		v.Added = append(v.Added, s.ID)
	}
	for _, u := range plan.Updates {
		v.Updated = append(v.Updated, u.ConversationID)
	}
	for _, r := range plan.Removals {
		v.Removed = append(v.Removed, r.ConversationID)
		if r.Unsynced {
			v.Unsynced++
		}
	}
	if a.jsonMode {
		return a.printJSON(v)
	}

	summary := planSummary(plan.Empty(), len(plan.Adds), len(plan.Updates), len(plan.Removals))
	if dryRun && !plan.Empty() {
		summary = "Would sync: " + plan.String()
	}
	a.printf("%s\n", SuccessStyle.Render(summary))
	if v.Unsynced > 0 {
		a.printf("%s\n", WarningStyle.Render(
			"Local-only conversations are dropped by the mirror policy; use --policy merge to keep them."))
	}
	return nil
}
