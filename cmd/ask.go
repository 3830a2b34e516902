package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/app"
	"github.com/mohammad-safakhou/delver/internal/archive"
)

func askCMD() *cobra.Command {
	var cfgPath string

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the knowledge archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, nil)
			if err != nil {
				return err
			}
			arch, err := archive.New(cfg.Storage, a.LLM, a.Logger)
			if err != nil {
				return err
			}
			defer arch.Close()

			answer, docs, err := arch.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			if len(docs) > 0 {
				fmt.Println("\nDrawn from:")
				seen := map[string]bool{}
				for _, d := range docs {
					key := d.UserQuery + "/" + d.Topic
					if seen[key] {
						continue
					}
					seen[key] = true
					fmt.Printf("  - %s (%s)\n", d.Topic, d.UserQuery)
				}
			}
			return nil
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}
