package cmd

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/the-dev-tools/restsync/pkg/crudsync"
)

type changeLine struct {
	Kind   crudsync.ChangeKind `json:"kind"`
	Status string              `json:"status"`
	Count  int                 `json:"count"`
	IDs    []string            `json:"ids,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		loads    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the resource periodically and print every change as a JSON line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			ctx := cmd.Context()
			s, err := a.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.Subscribe(ctx)
			if err != nil {
				return err
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			s.Start(ctx, nil)

			out := cmd.OutOrStdout()
			done := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.ReFetch(ctx, nil)
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					line, err := json.Marshal(toChangeLine(ev.Payload))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\n", line)

					if ev.Payload.Kind == crudsync.ChangeLoaded || ev.Payload.Kind == crudsync.ChangeLoadFailed {
						done++
						if loads > 0 && done >= loads {
							return nil
						}
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "time between reloads")
	cmd.Flags().IntVar(&loads, "loads", 0, "exit after this many completed loads (0 runs until interrupted)")
	return cmd
}

func toChangeLine(c crudsync.Change) changeLine {
	line := changeLine{
		Kind:   c.Kind,
		Status: c.Status.String(),
		Count:  len(c.Data),
	}
	for _, id := range c.IDs {
		line.IDs = append(line.IDs, id.String())
	}
	if c.Err != nil {
		line.Error = c.Err.Error()
	}
	return line
}
