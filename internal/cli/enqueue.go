package cli

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/automation-worker/internal/producer"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(s *session) *cobra.Command {
	var (
		maxRetry    int
		workspaceID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <queue> '{\"countUpto\":3,\"intervalInMs\":500}'",
		Short: "Store a job and publish it to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer s.close()

			p, err := s.get()
			if err != nil {
				return err
			}

			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("invalid payload json")
			}

			job, err := p.Enqueue(cmd.Context(), producer.EnqueueRequest{
				QueueName:   args[0],
				WorkspaceID: workspaceID,
				Payload:     json.RawMessage(args[1]),
				MaxRetry:    maxRetry,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", job.ID)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetry, "max-retry", 0, "Retries allowed after the first attempt")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace the job belongs to")
	return cmd
}
