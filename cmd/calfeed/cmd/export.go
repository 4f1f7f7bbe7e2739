package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"calfeed/internal/config"
	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/store"
)

var (
	exportOwner string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Compile one owner's calendar and write it to stdout or a file",
	Example: `  calfeed export --owner alice > alice.ics
  calfeed export --owner alice --out /srv/feeds/alice.ics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		compiler := newCompiler(cfg)
		raws, err := st.EventsForOwner(cmd.Context(), exportOwner)
		if err != nil {
			return fmt.Errorf("load events for %s: %w", exportOwner, err)
		}

		res := compiler.Compile(raws)
		appLog.Info("export compiled",
			"owner", exportOwner,
			"status", string(res.Status),
			"events", res.Compiled,
			"skipped", len(res.Skipped),
		)
		for _, sk := range res.Skipped {
			appLog.Debug("skipped event", "index", sk.Index, "id", sk.ID, "reason", string(sk.Reason), "detail", sk.Detail)
		}

		if exportOut == "" || exportOut == "-" {
			if _, err := cmd.OutOrStdout().Write(res.Body); err != nil {
				return err
			}
		} else if err := config.WriteFileAtomic(exportOut, res.Body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}

		if res.Status == ics.StatusDegraded {
			return errors.Join(errors.New("calendar encoding failed; wrote empty calendar"), res.Err)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "owner id whose events are exported")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("owner")
}
