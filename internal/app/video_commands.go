package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/httpserver"
	"github.com/burmeserecap/recap/internal/models"
	"github.com/burmeserecap/recap/internal/preview"
	"github.com/burmeserecap/recap/internal/videos"
)

type videoListing struct {
	Videos []models.Video `json:"videos" yaml:"videos"`
	Total  int            `json:"total" yaml:"total"`
	Page   int            `json:"page" yaml:"page"`
}

func (c *cli) videosCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "videos",
		Aliases: []string{"video"},
		Short:   "Create and follow recap jobs",
	}
	cmd.AddCommand(
		c.videoCreateCommand(),
		c.videoListCommand(),
		c.videoGetCommand(),
		c.videoCancelCommand(),
		c.videoWatchCommand(),
		c.videoPreviewCommand(),
		c.videoArchiveCommand(),
	)
	return cmd
}

func (c *cli) videoCreateCommand() *cobra.Command {
	var (
		in       videos.CreateInput
		withInfo bool
		wait     bool
	)

	cmd := requires(&cobra.Command{
		Use:   "create <youtube-url>",
		Short: "Start a recap of a YouTube video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in.SourceURL = args[0]

			if withInfo {
				source, err := videos.ValidateSourceURL(in.SourceURL)
				if err != nil {
					return err
				}
				if meta, err := c.deps.Preview.Lookup(ctx, source); err != nil {
					c.deps.Logger.Warn("preview source", "error", err)
				} else {
					fmt.Fprintf(c.env.Stderr, "Source: %s (%s)\n", meta.Title, meta.Duration)
				}
			}

			video, err := c.deps.Videos.Create(ctx, in)
			if err != nil {
				if apiclient.IsInsufficientCredits(err) {
					return fmt.Errorf("not enough credits for this recap: %w", err)
				}
				return err
			}
			c.chargeCredits(ctx, video)

			if wait {
				poller := c.deps.Poller()
				defer shutdownPoller(c, poller)
				if video, err = poller.WaitFor(ctx, video.ID); err != nil {
					return err
				}
			}
			return c.printVideo(video)
		},
	}, requireUser)

	cmd.Flags().StringVar(&in.VoiceType, "voice", "", "narration voice")
	cmd.Flags().StringVar(&in.OutputLanguage, "language", "", "output language code")
	cmd.Flags().BoolVar(&withInfo, "preview", false, "look the source up locally before submitting")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job finishes")
	return cmd
}

// chargeCredits lowers the held balance by what the job cost so the cached
// account stays close to the server until the next revalidation.
func (c *cli) chargeCredits(ctx context.Context, video models.Video) {
	state := c.deps.Session.State()
	if state.User == nil || video.CreditsCharged <= 0 {
		return
	}
	remaining := max(0, state.User.Credits-video.CreditsCharged)
	if _, err := c.deps.Session.UpdateUser(ctx, models.UserPatch{Credits: &remaining}); err != nil {
		c.deps.Logger.Warn("update cached credits", "error", err)
	}
}

func (c *cli) videoListCommand() *cobra.Command {
	var (
		page     int
		pageSize int
		status   string
	)

	cmd := requires(&cobra.Command{
		Use:   "list",
		Short: "List recap jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var bucket models.StatusBucket
			if status != "" {
				var err error
				if bucket, err = models.ParseBucket(status); err != nil {
					return err
				}
			}

			result, err := c.deps.Videos.List(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}

			listing := videoListing{Videos: result.Videos, Total: result.Total, Page: result.Page}
			if bucket != "" {
				listing.Videos = c.deps.Videos.Filter(bucket)
			}
			return c.out.print(listing, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tCREATED\tSOURCE")
				for _, v := range listing.Videos {
					fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n", v.ID, v.Status, v.Progress, v.CreatedAt.Format(time.DateTime), sourceLabel(v))
				}
				fmt.Fprintf(w, "\n%d of %d jobs\n", len(listing.Videos), listing.Total)
			})
		},
	}, requireUser)

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "jobs per page")
	cmd.Flags().StringVar(&status, "status", "", "filter by pending, processing, completed or failed")
	return cmd
}

func (c *cli) videoGetCommand() *cobra.Command {
	return requires(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one recap job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			video, err := c.deps.Videos.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printVideo(video)
		},
	}, requireUser)
}

func (c *cli) videoCancelCommand() *cobra.Command {
	return requires(&cobra.Command{
		Use:     "cancel <id>",
		Aliases: []string{"delete"},
		Short:   "Cancel a recap job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.deps.Videos.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.out.message("cancelled", fmt.Sprintf("Cancelled %s.", args[0]))
		},
	}, requireUser)
}

func (c *cli) videoWatchCommand() *cobra.Command {
	var metricsAddr string

	cmd := requires(&cobra.Command{
		Use:   "watch [id]",
		Short: "Follow jobs until they finish",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if metricsAddr == "" {
				metricsAddr = c.deps.Config.MetricsAddr
			}
			if metricsAddr != "" {
				stop, err := c.serveMetrics(metricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			c.deps.Videos.Subscribe(func(t videos.Transition) {
				from := string(t.From)
				if from == "" {
					from = "new"
				}
				fmt.Fprintf(c.env.Stderr, "%s: %s -> %s (%d%%)\n", t.ID, from, t.To, t.Progress)
			})

			poller := c.deps.Poller()
			defer shutdownPoller(c, poller)

			if len(args) == 1 {
				video, err := poller.WaitFor(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printVideo(video)
			}

			if _, err := c.deps.Videos.List(ctx, 1, 50); err != nil {
				return err
			}
			if err := c.waitForActive(ctx, poller); err != nil {
				return err
			}
			jobs := c.deps.Videos.Jobs()
			return c.out.print(videoListing{Videos: jobs, Total: c.deps.Videos.Total(), Page: 1}, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tSTATUS\tRESULT")
				for _, v := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, v.Status, outcomeLabel(v))
				}
			})
		},
	}, requireUser)

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")
	return cmd
}

func (c *cli) waitForActive(ctx context.Context, poller *videos.Poller) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := poller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, videos.ErrPollerClosed) {
			c.deps.Logger.Warn("video poller stopped", "error", err)
		}
	}()

	tick := c.deps.Config.PollInterval / 2
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for len(c.deps.Videos.Active()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (c *cli) serveMetrics(addr string) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.deps.Metrics.Handler())

	srv, err := httpserver.New(addr, mux)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil {
			c.deps.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	fmt.Fprintf(c.env.Stderr, "Serving metrics on %s\n", srv.URL("/metrics"))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			c.deps.Logger.Warn("shutdown metrics server", "error", err)
		}
	}, nil
}

func (c *cli) videoPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <youtube-url>",
		Short: "Look up a YouTube video without creating a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := videos.ValidateSourceURL(args[0])
			if err != nil {
				return err
			}
			meta, err := c.deps.Preview.Lookup(cmd.Context(), source)
			if err != nil {
				if errors.Is(err, preview.ErrProviderUnavailable) {
					return fmt.Errorf("install yt-dlp or set RECAP_YTDLP_PATH: %w", err)
				}
				return err
			}
			return c.out.print(meta, func(w io.Writer) {
				fmt.Fprintf(w, "Title\t%s\n", meta.Title)
				fmt.Fprintf(w, "Uploader\t%s\n", orDash(meta.Uploader))
				fmt.Fprintf(w, "Duration\t%s\n", meta.Duration)
				fmt.Fprintf(w, "Thumbnail\t%s\n", orDash(meta.Thumbnail))
				if meta.IsLive {
					fmt.Fprintln(w, "Live\tyes")
				}
			})
		},
	}
}

func (c *cli) videoArchiveCommand() *cobra.Command {
	return requires(&cobra.Command{
		Use:   "archive <id>",
		Short: "Copy a finished recap into the configured bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			archiver, err := c.deps.Archiver(ctx)
			if err != nil {
				return err
			}
			video, err := c.deps.Videos.Refresh(ctx, args[0])
			if err != nil {
				return err
			}
			archive, err := archiver.Archive(ctx, video)
			if err != nil {
				return err
			}
			return c.out.print(archive, func(w io.Writer) {
				fmt.Fprintf(w, "Archived %s to %s (%d bytes)\n", archive.VideoID, archive.Location, archive.Bytes)
			})
		},
	}, requireUser)
}

func (c *cli) printVideo(v models.Video) error {
	warning := videos.RetentionWarning(v, time.Now())
	return c.out.print(v, func(w io.Writer) {
		fmt.Fprintf(w, "ID\t%s\n", v.ID)
		fmt.Fprintf(w, "Source\t%s\n", sourceLabel(v))
		fmt.Fprintf(w, "Status\t%s\n", v.Status)
		if v.StatusMessage != "" {
			fmt.Fprintf(w, "Message\t%s\n", v.StatusMessage)
		}
		fmt.Fprintf(w, "Progress\t%d%%\n", v.Progress)
		fmt.Fprintf(w, "Credits\t%d\n", v.CreditsCharged)
		if v.VideoURL != "" {
			fmt.Fprintf(w, "Video\t%s\n", v.VideoURL)
		}
		if v.ErrorMessage != "" {
			fmt.Fprintf(w, "Error\t%s\n", v.ErrorMessage)
		}
		if warning != "" {
			fmt.Fprintf(w, "Retention\t%s\n", warning)
		}
	})
}

func shutdownPoller(c *cli, p *videos.Poller) {
	ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		c.deps.Logger.Warn("shutdown poller", "error", err)
	}
}

func sourceLabel(v models.Video) string {
	if v.SourceTitle != "" {
		return v.SourceTitle
	}
	return v.SourceURL
}

func outcomeLabel(v models.Video) string {
	switch v.Status {
	case models.StatusCompleted:
		return orDash(v.VideoURL)
	case models.StatusFailed:
		return orDash(v.ErrorMessage)
	}
	return "-"
}
