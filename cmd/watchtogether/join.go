package main

import (
	"log"
	"os"

	"watch_together/native/internal/config"
	"watch_together/native/internal/player"
	"watch_together/native/internal/session"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and write the host's stream to stdout",
	Long: `Join a room and write the host's H264 stream to stdout as Annex-B.

Examples:
  watchtogether join room-3f9a1c | ffplay -f h264 -
  watchtogether join room-3f9a1c | ffmpeg -f h264 -i - -c copy out.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(args[0])
	},
}

func join(roomID string) error {
	cfg, err := config.Load(config.Options{
		SignalURL:   flagSignal,
		ICEEndpoint: flagICEEndpoint,
		Scope:       flagScope,
		Room:        roomID,
	})
	if err != nil {
		return err
	}

	ctx, cancel := withShutdown()
	defer cancel()

	// Step 1: Relays, peer connections and signaling
	st, err := connect(ctx, cancel, cfg)
	if err != nil {
		return err
	}
	defer st.signal.Close()

	// Step 2: Session rendering into stdout
	sess := session.New(session.Deps{
		Signaler:  st.signal,
		Connector: st.connector,
		Relays:    st.relays,
		Surface:   player.NewSink(os.Stdout),
	})
	defer sess.Close()

	if _, err := sess.JoinRoom(cfg.Room); err != nil {
		return err
	}
	go func() {
		if err := sess.Run(ctx, st.signal.Messages()); err != nil && ctx.Err() == nil {
			log.Printf("[main] session: %v", err)
		}
		cancel()
	}()

	logEvents(ctx, sess.Events())
	log.Printf("[main] done")
	return nil
}
