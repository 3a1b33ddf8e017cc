package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"uploaddesk/internal/config"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/upload"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE...",
		Short: "Validate files against the configured limits without uploading",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runCheck(cmd.OutOrStdout(), cfg, args)
		},
	}
}

func runCheck(out io.Writer, cfg config.Config, paths []string) error {
	manager := upload.NewManager(managerOptions(cfg, nil))
	failed := 0
	if len(paths) > manager.MaxFiles() {
		_, _ = fmt.Fprintf(out, "FAIL  batch: %s\n", (&upload.CapacityError{Max: manager.MaxFiles()}).Error())
		failed++
	}
	for _, path := range paths {
		h, err := surface.OpenPath(path)
		if err != nil {
			_, _ = fmt.Fprintf(out, "FAIL  %s: %v\n", path, err)
			failed++
			continue
		}
		if err := manager.Validate(h); err != nil {
			_, _ = fmt.Fprintf(out, "FAIL  %s: %v\n", h.Name(), err)
			failed++
			continue
		}
		_, _ = fmt.Fprintf(out, "ok    %s  %s  %s\n", h.Name(), humanize.IBytes(uint64(h.Size())), h.MediaType())
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func managerOptions(cfg config.Config, tr upload.Transport) upload.Options {
	return upload.Options{
		MaxFileSizeMB:      cfg.Upload.MaxFileSizeMB,
		AcceptedExtensions: cfg.Upload.AcceptedExtensions,
		MaxFiles:           cfg.Upload.MaxFiles,
		TransferTimeout:    cfg.Upload.TransferTimeout,
		Transport:          tr,
	}
}
