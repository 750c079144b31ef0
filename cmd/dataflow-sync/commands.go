package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/version"
)

func newRunCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full cycle: fetch, diff, promote, download.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			rep, err := s.pipeline.RunCycle(cmd.Context())
			for _, st := range rep.Stages {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-9s %-10s %s\n", st.Stage, st.Outcome.Status, st.Outcome.Detail)
			}
			return err
		},
	}
}

func newFetchCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the dataflow catalog into the new snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.pipeline.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %d dataflows to %s\n", res.Dataflows, res.Path)
			return nil
		},
	}
}

func newDiffCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Compare the old and new snapshots and write the change-set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.pipeline.Diff(cmd.Context())
			if err != nil {
				return err
			}
			if res.Outcome == diff.NoChanges {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no changes")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d deleted, %d inserted, %d updated -> %s\n",
				res.Counts.Deleted, res.Counts.Inserted, res.Counts.Updated, res.Path)
			return nil
		},
	}
}

func newPromoteCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Replace the old snapshot with the new one, archiving the old one first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.pipeline.Promote(cmd.Context())
			if err != nil {
				return err
			}
			if res.Baseline {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "baseline created at %s\n", s.cfg.Paths.OldFile)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "promoted; previous baseline archived to %s\n", res.Archived)
			return nil
		},
	}
}

func newDownloadCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download data and metadata for finalized new inserts in the change-set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, gf)
			if err != nil {
				return err
			}
			defer s.close()

			rep, err := s.pipeline.Download(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d dataflows selected, %d files saved, %d failed\n",
				len(rep.Selected), len(rep.Saved), len(rep.Failures))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
		},
	}
}
