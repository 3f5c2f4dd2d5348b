package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GaryBoone/ai-critics/pkg/store"
)

func (a *app) runsCmd() *cobra.Command {
	var journalKind, journalPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run journal",
	}
	cmd.PersistentFlags().StringVar(&journalKind, "journal", "", "run journal: jsonl or sqlite")
	cmd.PersistentFlags().StringVar(&journalPath, "journal-path", "", "journal directory")

	open := func() (store.RunStore, error) {
		jc := a.cfg.Journal
		if journalKind != "" {
			jc.Kind = journalKind
		}
		if journalPath != "" {
			jc.Path = journalPath
		}
		s, err := openJournal(jc)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.New("no journal configured")
		}
		return s, nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			runs, err := s.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, formatRuns(runs))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			defer s.Close()
			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := s.Events(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			fmt.Fprintln(a.stdout, titleStyle.Render("Run "+run.ID))
			fmt.Fprintln(a.stdout, field("Status", statusStyle(run.Status).Render(string(run.Status))))
			fmt.Fprintln(a.stdout, field("Proposals", fmt.Sprint(run.Proposals)))
			if run.Error != "" {
				fmt.Fprintln(a.stdout, field("Error", run.Error))
			}
			fmt.Fprintln(a.stdout, field("Problem", run.Problem))
			for _, ev := range events {
				fmt.Fprintln(a.stdout)
				fmt.Fprintln(a.stdout, formatEvent(ev))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
