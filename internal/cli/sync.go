package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/changesync/internal/client"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/spf13/cobra"
)

type SyncOptions struct {
	*RootOptions
	PageLimit        int
	ResyncOnFullPage bool
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull changes once and advance the stored cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			puller, err := opts.puller(cmd)
			if err != nil {
				return err
			}
			result, err := puller.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), result,
				fmt.Sprintf("cursor %d -> %d, applied %d, resynced %t", result.From, result.Cursor, result.Applied, result.Resynced))
		},
	}
	opts.bindFlags(cmd)
	return cmd
}

func (o *SyncOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.PageLimit, "limit", client.DefaultPageLimit, "changes per page")
	cmd.Flags().BoolVar(&o.ResyncOnFullPage, "resync-on-full-page", false, "resync instead of paging through a backlog")
}

func (o *SyncOptions) puller(cmd *cobra.Command) (*client.Puller, error) {
	if err := o.requireAccount(); err != nil {
		return nil, err
	}
	store, err := o.cursorStore()
	if err != nil {
		return nil, err
	}
	api := o.apiClient(cmd)
	applier := &printApplier{api: api, out: cmd.OutOrStdout(), json: o.JSON}

	puller := client.NewPuller(o.Account, api, store, applier, o.PageLimit, o.logger(cmd))
	puller.ResyncOnFullPage = o.ResyncOnFullPage
	return puller, nil
}

// printApplier reports what a batch of changes calls for. Resync reloads
// the key-value store, the one collection the server serves in full.
type printApplier struct {
	api  *client.APIClient
	out  io.Writer
	json bool
}

func (a *printApplier) Apply(_ context.Context, plan *client.Plan, changes []models.ChangeEntry) error {
	for _, c := range changes {
		if a.json {
			fmt.Fprintf(a.out, `{"cursor":%d,"kind":%q,"entityId":%q}`+"\n", c.Cursor, c.Kind, c.EntityID)
			continue
		}
		fmt.Fprintf(a.out, "%d\t%s\t%s\n", c.Cursor, c.Kind, c.EntityID)
	}
	if !a.json && plan.KV.Type != client.KVActionNone {
		fmt.Fprintf(a.out, "kv: %s %s\n", plan.KV.Type, strings.Join(plan.KV.Keys, ","))
	}
	return nil
}

func (a *printApplier) Resync(ctx context.Context) (int64, error) {
	// Cursor first: anything written after it is replayed on the next pull.
	info, err := a.api.GetCursor(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := a.api.ListKV(ctx)
	if err != nil {
		return 0, err
	}
	if !a.json {
		fmt.Fprintf(a.out, "resynced %d kv entries at cursor %d\n", len(entries), info.Cursor)
	}
	return info.Cursor, nil
}

type WatchOptions struct {
	SyncOptions
	Interval time.Duration
	Live     bool
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{SyncOptions: SyncOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep pulling changes until interrupted",
		Long: `Pull changes on an interval. With --live the command also holds an
updates connection open and pulls as soon as the server announces a change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			puller, err := opts.puller(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var hints chan struct{}
			if opts.Live {
				hints = make(chan struct{}, 1)
				go listenForUpdates(ctx, opts.Server, opts.Token, hints, opts.logger(cmd))
			}
			return puller.Run(ctx, opts.Interval, hints)
		},
	}
	opts.bindFlags(cmd)
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Minute, "time between pulls")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "pull on server update notifications")
	return cmd
}

// listenForUpdates turns every frame from the updates stream into a pull
// hint. Hints coalesce; the puller fetches everything new anyway.
func listenForUpdates(ctx context.Context, server, token string, hints chan<- struct{}, logger *slog.Logger) {
	endpoint, err := updatesURL(server, token)
	if err != nil {
		logger.Error("Invalid server URL", "error", err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, http.Header{})
		if err != nil {
			wait := bo.NextBackOff()
			logger.Warn("Updates connection failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ctx.Err() == nil {
					logger.Warn("Updates connection lost", "error", err)
				}
				break
			}
			select {
			case hints <- struct{}{}:
			default:
			}
		}
		stop()
		conn.Close()
	}
}

func updatesURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v2/updates"
	q := url.Values{}
	q.Set("scope", string(models.ScopeUser))
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
