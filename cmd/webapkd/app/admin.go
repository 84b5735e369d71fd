package app

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/duration"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/cmd/webapkd/app/options"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/internal/webapk/registry"
	"github.com/autopeer-io/webapkd/internal/webapk/store"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// openRegistry opens the durable state directly, without a running daemon.
func openRegistry(opts *options.ServerOptions) (*registry.Registry, func(), error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(cfg.StoreOptions.DBPath)
	if err != nil {
		return nil, nil, err
	}
	files, _, err := cfg.NewFileStore()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	reg := registry.New(db, files, clock.RealClock{}, cfg.RegistryConfig(), log.Std())
	return reg, func() { db.Close() }, nil
}

func newStatusCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the update state of every registered WebAPK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, closeFn, err := openRegistry(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			recs, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), recs, time.Now())
			return nil
		},
	}
}

func newForceCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force APP_ID",
		Short: "Request an update of a WebAPK on its next launch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			storage := reg.Storage(args[0])
			rec, err := storage.Record(cmd.Context())
			if err != nil {
				return err
			}
			if !reg.IsBound(rec.PackageName) {
				return fmt.Errorf("%s (%s) is not bound to this daemon", args[0], rec.PackageName)
			}
			if err := storage.SetShouldForceUpdate(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s will be updated on its next launch\n", args[0])
			return nil
		},
	}
}

func newForgetCommand(opts *options.ServerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget APP_ID",
		Short: "Drop the update record and pending request of a WebAPK",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openRegistry(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := reg.Unregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s forgotten\n", args[0])
			return nil
		},
	}
}

func printStatus(w io.Writer, recs []*model.UpdateRecord, now time.Time) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].AppID < recs[j].AppID })

	table := uitable.New()
	table.MaxColWidth = 48
	table.AddRow("APP", "PACKAGE", "LAST CHECK", "LAST UPDATE", "RESULT", "FORCE", "SCHEDULED")
	for _, rec := range recs {
		result := "FAILURE"
		if rec.LastRequestSucceeded {
			result = "SUCCESS"
		}
		table.AddRow(rec.AppID, rec.PackageName, ago(now, rec.LastCheckTime), ago(now, rec.LastCompletionTime),
			result, rec.ShouldForceUpdate, rec.UpdateScheduled)
	}
	fmt.Fprintln(w, table)
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return duration.HumanDuration(now.Sub(t)) + " ago"
}
