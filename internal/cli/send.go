package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"uploaddesk/internal/config"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/transport"
	"uploaddesk/internal/upload"
)

const progressStep = 25

type sendOptions struct {
	transportKind string
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	sendOpts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send FILE...",
		Short: "Upload files through the configured transport and wait for the batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if sendOpts.transportKind != "" {
				cfg.Transport.Kind = sendOpts.transportKind
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSend(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, args)
		},
	}
	cmd.Flags().StringVarP(&sendOpts.transportKind, "transport", "t", "",
		"Override transport kind (simulated, disk, http, s3)")
	return cmd
}

func runSend(ctx context.Context, out, errOut io.Writer, cfg config.Config, paths []string) error {
	tr, err := transport.New(ctx, cfg.Transport, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}

	handles := make([]upload.Handle, 0, len(paths))
	for _, path := range paths {
		h, err := surface.OpenPath(path)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	batchDone := make(chan []upload.TrackedFile, 1)
	opts := managerOptions(cfg, tr)
	opts.OnUploadComplete = func(batch []upload.TrackedFile) { batchDone <- batch }
	opts.OnUploadError = func(msg string) { _, _ = fmt.Fprintln(errOut, msg) }
	manager := upload.NewManager(opts)
	manager.SetBaseContext(ctx)

	// subscriber calls are serialized, so printed needs no lock
	printed := make(map[string]int, len(handles))
	unsubscribe := manager.Subscribe(func(evt upload.Event) {
		if evt.Type != upload.EventProgress {
			return
		}
		step := evt.File.Progress / progressStep * progressStep
		if step > printed[evt.File.ID] {
			printed[evt.File.ID] = step
			_, _ = fmt.Fprintf(out, "%-32s %3d%%\n", evt.File.Name, evt.File.Progress)
		}
	})
	defer unsubscribe()

	accepted, submitErr := manager.Submit(handles)
	if len(accepted) == 0 {
		return submitErr
	}

	// cancelling ctx fails the remaining transfers, so the join always fires
	batch := <-batchDone

	failed := 0
	var total int64
	for _, f := range batch {
		switch f.Status {
		case upload.StatusCompleted:
			total += f.Size
			_, _ = fmt.Fprintf(out, "done   %s (%s)\n", f.Name, humanize.IBytes(uint64(f.Size)))
		default:
			failed++
			_, _ = fmt.Fprintf(out, "failed %s: %s\n", f.Name, f.Error)
		}
	}
	_, _ = fmt.Fprintf(out, "%d of %d uploaded, %s sent\n", len(batch)-failed, len(batch), humanize.IBytes(uint64(total)))

	switch {
	case failed > 0:
		return fmt.Errorf("%d upload(s) failed", failed)
	case submitErr != nil:
		return errors.New("some files were rejected")
	}
	return nil
}
