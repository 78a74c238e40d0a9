package cli

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/automation-worker/internal/producer"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
	"github.com/spf13/cobra"
)

// Producer publishes jobs and scheduler ticks
type Producer interface {
	Enqueue(ctx context.Context, req producer.EnqueueRequest) (*domain.Job, error)
	PublishTick(ctx context.Context, tick time.Time) (int, error)
}

// Opener connects to the database and broker described by the config file
// and returns a producer with a function releasing the connections
type Opener func(configPath string) (Producer, func(), error)

// session holds the producer opened for the running command
type session struct {
	open       Opener
	configPath string
	producer   Producer
	closeFn    func()
}

// NewRootCmd builds the jobctl command tree. open is called once before any
// subcommand runs, with the value of --config (default defaultConfigPath).
func NewRootCmd(open Opener, defaultConfigPath string) *cobra.Command {
	s := &session{open: open}

	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Enqueue jobs and publish scheduler ticks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			p, closeFn, err := s.open(s.configPath)
			if err != nil {
				return err
			}
			s.producer, s.closeFn = p, closeFn
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&s.configPath, "config", defaultConfigPath, "Path to configuration file")

	cmd.AddCommand(newEnqueueCmd(s))
	cmd.AddCommand(newTickCmd(s, time.Now))
	return cmd
}

var errNotConnected = errors.New("not connected")

func (s *session) get() (Producer, error) {
	if s.producer == nil {
		return nil, errNotConnected
	}
	return s.producer, nil
}

func (s *session) close() {
	if s.closeFn != nil {
		s.closeFn()
		s.closeFn = nil
	}
}
