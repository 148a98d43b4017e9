package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/modlink/internal/app"
	"github.com/nfrund/modlink/internal/config"
	"github.com/nfrund/modlink/internal/logging"
	"github.com/nfrund/modlink/internal/modules/dashboard"
	"github.com/nfrund/modlink/internal/modules/petstate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo scenario with the example modules",
	Long: `Starts the communication core with the pet state and dashboard example
modules, pushes a mood change through the sync manager and prints what the
dashboard observed.`,
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		logging.New(cfg.LogFormat)

		if err := petstate.RegisterTopics(); err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return err
		}

		pet := petstate.New()
		dash := dashboard.New()
		a.Register(pet)
		a.Register(dash)

		ctx := c.Context()
		if err := a.Start(ctx); err != nil {
			return err
		}

		if err := pet.SetMood(ctx, "happy"); err != nil {
			return err
		}

		// Give the coalescing window and async delivery time to settle.
		a.Sync.Flush(petstate.EntityID)
		time.Sleep(100 * time.Millisecond)

		value, version := dash.Snapshot()
		fmt.Printf("dashboard observed pet state v%d: %s\n", version, value)

		fresh, err := dash.RequestPetState(ctx, petstate.ModuleName)
		if err != nil {
			return err
		}
		fmt.Printf("direct request returned: %s\n", fresh)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
