package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumachat/lumasync/internal/call"
	"github.com/lumachat/lumasync/internal/config"
	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/rest"
	"github.com/lumachat/lumasync/internal/session"
	"github.com/lumachat/lumasync/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		directID int64
		groupID  int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if directID != 0 && groupID != 0 {
				return fmt.Errorf("--direct and --group are mutually exclusive")
			}

			if cfg.Logging.File != "" {
				level := logLevel
				if level == "" {
					level = cfg.Logging.Level
				}
				log = logging.NewFile(cfg.Logging.File, level)
			}

			db, err := store.Open(cfg.Store.Path, log)
			if err != nil {
				return fmt.Errorf("open annotation store: %w", err)
			}
			defer db.Close()

			sess := session.New(cfg, log, db)
			defer sess.Close()

			sess.Subscribe(logEvents(log))

			api := rest.NewClient(cfg.Server, log)

			coordinator := call.NewCoordinator(
				cfg.Session.SelfID,
				sess,
				call.NewPionFactory(cfg.RTC, log),
				call.SampleMediaSource{},
				log,
				nil,
			)
			sess.SetSignalHandler(coordinator.HandleSignal)

			sess.Start()

			if chats, err := api.RecentChats(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("recent chats unavailable")
			} else {
				for _, chat := range chats {
					if chat.UnreadCount > 0 {
						log.Info().Str("user", chat.Username).Int("unread", chat.UnreadCount).Msg("unread conversation")
					}
				}
			}

			switch {
			case directID != 0:
				sess.Open(domain.DirectTarget(directID))
			case groupID != 0:
				sess.Open(domain.GroupTarget(groupID))
			}
			if target := sess.Target(); !target.IsZero() {
				history, err := api.History(cmd.Context(), target)
				if err != nil {
					log.Warn().Err(err).Msg("history backfill failed")
				} else {
					log.Info().Str("target", target.String()).Int("messages", len(history)).Msg("history loaded")
				}
			}

			log.Info().Int64("self", cfg.Session.SelfID).Msg("lumasync running")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			log.Info().Msg("shutting down")
			return nil
		},
	}

	cmd.Flags().Int64Var(&directID, "direct", 0, "open a direct conversation with this user id")
	cmd.Flags().Int64Var(&groupID, "group", 0, "open this group conversation")

	return cmd
}

func logEvents(log *logging.Logger) domain.Listener {
	l := log.Sub("events")
	return func(ev domain.Event) {
		switch ev.Kind {
		case domain.EventRendered:
			l.Info().Int64("sender", ev.Message.SenderID).Str("text", ev.Message.Text).Msg("message")
		case domain.EventReconciled:
			l.Debug().Int64("id", ev.Message.ID).Str("temp_id", ev.Message.CorrelationID).Msg("confirmed")
		case domain.EventRead:
			l.Debug().Ints64("ids", ev.MessageIDs).Int64("reader", ev.UserID).Msg("read")
		case domain.EventPresence:
			l.Info().Int64("user", ev.UserID).Str("presence", string(ev.Presence)).Msg("presence")
		case domain.EventConnection:
			l.Info().Bool("connected", ev.Connected).Msg("conversation channel")
		case domain.EventTyping:
			l.Debug().Int64("user", ev.UserID).Msg("typing")
		case domain.EventAttachment:
			l.Info().Str("url", ev.Message.Attachment.URL).Msg("attachment")
		}
	}
}
