package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/app"
	"github.com/mohammad-safakhou/delver/internal/archive"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/store"
)

func researchCMD() *cobra.Command {
	var cfgPath string
	var outPath string
	var interactive bool
	var save bool

	var researchCmd = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research session and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if interactive {
				cfg.Research.Interactive = true
			}

			var feedback research.FeedbackSource
			if cfg.Research.Interactive {
				feedback = stdinFeedback{in: bufio.NewReader(os.Stdin)}
			}

			a, err := app.New(cfg, feedback)
			if err != nil {
				return err
			}
			defer a.Telemetry.Shutdown()

			query := strings.Join(args, " ")
			snap, err := a.Controller.Run(cmd.Context(), uuid.NewString(), query)
			if err != nil {
				return err
			}

			if save {
				if err := persist(cmd.Context(), cfg, a, snap); err != nil {
					fmt.Fprintf(os.Stderr, "warning: persisting run failed: %v\n", err)
				}
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(snap.Report), 0o644); err != nil {
					return err
				}
				fmt.Printf("report written to %s (%s)\n", outPath, a.Telemetry.Costs())
				return nil
			}
			fmt.Println(snap.Report)
			fmt.Fprintf(os.Stderr, "\n%s\n", a.Telemetry.Costs())
			return nil
		},
	}
	researchCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./delver.yaml)")
	researchCmd.Flags().StringVarP(&outPath, "out", "o", "", "write report to file instead of stdout")
	researchCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "review the outline before research starts")
	researchCmd.Flags().BoolVar(&save, "save", false, "persist the run to postgres and the knowledge archive")

	return researchCmd
}

func persist(ctx context.Context, cfg *config.Config, a *app.App, snap research.Snapshot) error {
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveRun(ctx, snap); err != nil {
		return err
	}
	arch, err := archive.New(cfg.Storage, a.LLM, a.Logger)
	if err != nil {
		return err
	}
	defer arch.Close()
	return arch.IndexSnapshot(ctx, snap)
}

// stdinFeedback is the terminal outline review channel.
type stdinFeedback struct {
	in *bufio.Reader
}

func (s stdinFeedback) Ask(ctx context.Context, outline []*research.Topic) (research.Feedback, error) {
	fmt.Println("\nProposed research outline:")
	for i, t := range outline {
		fmt.Printf("  %d. %s", i+1, t.Title)
		if t.Description != "" {
			fmt.Printf(": %s", t.Description)
		}
		fmt.Println()
	}
	fmt.Println("\n/keep 1,3,5-7 to keep only those, /remove 2,4 to drop those,")
	fmt.Println("plain text to steer, or enter to continue.")

	for {
		fmt.Print("> ")
		line, err := s.in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		fb, err := research.DecodeFeedback(line)
		if err != nil {
			fmt.Printf("  %v\n", err)
			continue
		}
		return fb, nil
	}
}
