package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/inventory"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/observability"
)

// checkVerdict is the JSON shape the check command prints.
type checkVerdict struct {
	Available      bool                            `json:"available"`
	QualifyingArea string                          `json:"qualifying_area,omitempty"`
	Areas          map[string]inventory.AreaReport `json:"areas,omitempty"`
	Prices         []float64                       `json:"prices,omitempty"`
}

func newCheckCmd() *cobra.Command {
	var (
		pageFile string
		seats    int
		areas    []string
	)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Analyze a saved storefront page and print the availability verdict",
		Long: `Runs the availability checker and seat analyzer over a page saved to disk,
without touching the network. Useful for verifying what the engine would do
with a page a profile captured during a hunt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seats < 1 {
				return fmt.Errorf("--seats must be at least 1")
			}

			page, err := os.ReadFile(pageFile)
			if err != nil {
				return fmt.Errorf("reading page file: %w", err)
			}

			logger := observability.GetLogger()
			ceiling := config.Get().Purchase.PriceCeiling
			checker := inventory.NewChecker(logger, ceiling)
			analyzer := inventory.NewAnalyzer(logger, ceiling)

			text := string(page)
			verdict := checkVerdict{
				Available: checker.CheckAvailability(text, seats, areas),
				Areas:     analyzer.AnalyzeSeats(text, areas),
				Prices:    analyzer.PagePrices(text),
			}
			if snapshot, err := inventory.ParseSnapshot(text); err == nil {
				verdict.QualifyingArea = checker.FindQualifyingArea(snapshot, seats, areas)
			}

			out, err := json.MarshalIndent(verdict, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding verdict: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	checkCmd.Flags().StringVar(&pageFile, "file", "", "path to the saved storefront page (required)")
	checkCmd.Flags().IntVar(&seats, "seats", 1, "number of seats the profile wants")
	checkCmd.Flags().StringSliceVar(&areas, "area", nil, "restrict the verdict to these area ids (repeatable)")
	_ = checkCmd.MarkFlagRequired("file")

	return checkCmd
}
