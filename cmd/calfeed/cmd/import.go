package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/store"
)

var (
	importOwner string
	importJSON  string
	importICS   string
	importURL   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace one owner's stored events from a JSON array, an .ics file or an ICS URL",
	Example: `  calfeed import --owner alice --json events.json
  calfeed import --owner alice --ics exported.ics
  calfeed import --owner alice --url https://example.com/basic.ics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var docs []json.RawMessage
		switch {
		case importJSON != "":
			data, err := os.ReadFile(importJSON)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &docs); err != nil {
				return fmt.Errorf("%s: expected a JSON array of event documents: %w", importJSON, err)
			}
		case importICS != "":
			data, err := os.ReadFile(importICS)
			if err != nil {
				return err
			}
			if docs, err = ics.ParseICS(data); err != nil {
				return fmt.Errorf("%s: %w", importICS, err)
			}
		case importURL != "":
			data, err := ics.NewFetcher(nil).Fetch(cmd.Context(), importURL)
			if err != nil {
				return err
			}
			if docs, err = ics.ParseICS(data); err != nil {
				return err
			}
		default:
			return errors.New("one of --json, --ics or --url is required")
		}

		st, err := store.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		stored, err := st.PutEvents(cmd.Context(), importOwner, docs)
		if err != nil {
			return err
		}
		appLog.Info("import finished", "owner", importOwner, "documents", len(docs), "stored", stored)
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d events for %s\n", stored, importOwner)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importOwner, "owner", "", "owner id the events belong to")
	importCmd.Flags().StringVar(&importJSON, "json", "", "JSON file holding an array of raw event documents")
	importCmd.Flags().StringVar(&importICS, "ics", "", "iCalendar file to import")
	importCmd.Flags().StringVar(&importURL, "url", "", "iCalendar URL to fetch and import")
	_ = importCmd.MarkFlagRequired("owner")
	importCmd.MarkFlagsMutuallyExclusive("json", "ics", "url")
}
