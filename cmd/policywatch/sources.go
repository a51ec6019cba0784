package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"policywatch/internal/crawler"
	"policywatch/internal/report"
)

var errUnknownCountry = errors.New("unknown country")

var sourcesCmd = &cobra.Command{
	Use:   "sources [country...]",
	Short: "List configured countries and their data sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		codes := a.collector.SupportedCountries()

		if len(args) > 0 {
			codes = nil

			for _, arg := range args {
				country, ok := cfg.GetCountry(arg)
				if !ok {
					return fmt.Errorf("%w: %s", errUnknownCountry, strings.ToUpper(arg))
				}

				codes = append(codes, country.Code)
			}
		}

		infos := make([]crawler.CountryInfo, 0, len(codes))

		for _, code := range codes {
			if info, ok := a.collector.SourceInfo(code); ok {
				infos = append(infos, info)
			}
		}

		if jsonOutput {
			return report.WriteJSON(cmd.OutOrStdout(), infos)
		}

		return report.WriteSources(cmd.OutOrStdout(), infos)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
