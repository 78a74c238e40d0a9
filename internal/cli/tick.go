package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTickCmd(s *session, now func() time.Time) *cobra.Command {
	var (
		at   string
		loop bool
	)

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Publish the scheduler messages for a minute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer s.close()

			p, err := s.get()
			if err != nil {
				return err
			}

			if loop {
				if at != "" {
					return fmt.Errorf("--at and --loop cannot be combined")
				}
				return tickLoop(cmd, p, now)
			}

			tick := now()
			if at != "" {
				tick, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			return publishTick(cmd, p, tick)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Tick time in RFC3339; defaults to now")
	cmd.Flags().BoolVar(&loop, "loop", false, "Publish a tick at every minute boundary until interrupted")
	return cmd
}

func publishTick(cmd *cobra.Command, p Producer, tick time.Time) error {
	shards, err := p.PublishTick(cmd.Context(), tick)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tick %s published: %d message(s)\n",
		tick.UTC().Truncate(time.Minute).Format(time.RFC3339), shards)
	return nil
}

// tickLoop publishes one tick per minute, aligned to the minute boundary
func tickLoop(cmd *cobra.Command, p Producer, now func() time.Time) error {
	ctx := cmd.Context()

	for {
		current := now()
		next := current.Truncate(time.Minute).Add(time.Minute)

		timer := time.NewTimer(next.Sub(current))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := publishTick(cmd, p, next); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Tick failed:", err)
		}
	}
}
