package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/team-exchange/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run a single ingestion pass and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requirePersistent(); err != nil {
				return err
			}
			client := a.steamClient()
			pipeline := ingest.NewPipeline(client, a.registry, a.settings, nil, a.cfg.IngestMaxPages, nil)

			rep, err := ingest.NewRunner(pipeline, a.settings, nil).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change ingestion settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.settings.Load(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"poll_interval":           st.PollInterval.String(),
				"league_id":               st.LeagueID,
				"last_processed_match_id": st.LastProcessedMatchID,
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-interval <duration>",
		Short: "Change the poll interval, e.g. 5m",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requirePersistent(); err != nil {
				return err
			}
			if err := a.settings.SetPollInterval(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Printf("poll interval set to %s\n", d)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-league <id>",
		Short: "Change the tracked league",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid league id %q", args[0])
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requirePersistent(); err != nil {
				return err
			}
			if err := a.settings.SetLeagueID(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("league set to %d\n", id)
			return nil
		},
	})
	return cmd
}

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage tradable teams",
	}

	var (
		id    int64
		name  string
		price int64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a team by its Steam team id",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.requirePersistent(); err != nil {
				return err
			}
			team, err := a.registry.Register(cmd.Context(), id, name, price)
			if err != nil {
				return err
			}
			return printJSON(team)
		},
	}
	add.Flags().Int64Var(&id, "id", 0, "Steam team id")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().Int64Var(&price, "price", 0, "starting price (default 50)")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
