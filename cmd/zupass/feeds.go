// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/proof"
	"github.com/spf13/cobra"
)

func newFeedsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Feed client operations",
	}
	cmd.AddCommand(newFeedsPollCommand(opts))
	return cmd
}

func newFeedsPollCommand(opts *rootOptions) *cobra.Command {
	var (
		providers []string
		feedIDs   []string
		seedHex   string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Subscribe to provider feeds and poll them once",
		Long: "Lists the feeds of each --provider, subscribes to them (or only to\n" +
			"those named by --feed) and polls every subscription with a\n" +
			"credential signed by the identity derived from --seed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.load(); err != nil {
				return err
			}
			if len(providers) == 0 {
				return errors.New("at least one --provider is required")
			}
			identity, err := feedIdentity(seedHex)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			mgr := feed.NewManager(feed.NewHTTPClient(feed.HTTPOptions{Timeout: timeout}),
				feed.WithLogger(log.WithComponent("feeds_cli")))
			for _, url := range providers {
				list, err := mgr.ListFeeds(ctx, url)
				if err != nil {
					return fmt.Errorf("list feeds of %s: %w", url, err)
				}
				mgr.AddProvider(url, list.ProviderName)
				for _, f := range list.Feeds {
					if len(feedIDs) > 0 && !slices.Contains(feedIDs, f.ID) {
						continue
					}
					if _, err := mgr.Subscribe(url, f); err != nil {
						return err
					}
				}
			}
			subs := mgr.Subscriptions()
			if len(subs) == 0 {
				return errors.New("no matching feeds")
			}

			byID := make(map[string]feed.Subscription, len(subs))
			for _, s := range subs {
				byID[s.ID] = s
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, res := range mgr.PollSubscriptions(ctx, credential.NewManager(identity)) {
				sub := byID[res.SubscriptionID]
				if res.Err != nil {
					failed++
					_, _ = fmt.Fprintf(out, "%s %s: error: %v\n", sub.ProviderURL, sub.Feed.ID, res.Err)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s %s: ok (%d actions)\n", sub.ProviderURL, sub.Feed.ID, len(res.Response.Actions))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d feed(s) failed", failed, len(subs))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "feed provider base url (repeatable)")
	cmd.Flags().StringSliceVar(&feedIDs, "feed", nil, "only subscribe to these feed ids")
	cmd.Flags().StringVar(&seedHex, "seed", "", "hex-encoded 32-byte identity seed (random when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	return cmd
}

// feedIdentity decodes seedHex, or generates a throwaway identity.
func feedIdentity(seedHex string) (*proof.Identity, error) {
	if seedHex == "" {
		return proof.NewIdentity(nil)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode --seed: %w", err)
	}
	return proof.IdentityFromSeed(seed)
}
