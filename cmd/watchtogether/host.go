package main

import (
	"fmt"
	"log"
	"time"

	"watch_together/native/internal/config"
	"watch_together/native/internal/media"
	"watch_together/native/internal/player"
	"watch_together/native/internal/session"
	"watch_together/native/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// pruneEvery matches the console's refresh tick.
const pruneEvery = time.Second

var (
	flagRoom     string
	flagQuality  string
	flagHeadless bool
	flagLogFile  string
)

var hostCmd = &cobra.Command{
	Use:   "host <file.h264>",
	Short: "Create a room and stream a raw H264 file to its guests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return host(args[0])
	},
}

func init() {
	f := hostCmd.Flags()
	f.StringVar(&flagRoom, "room", "", "room id to create (default: random)")
	f.StringVar(&flagQuality, "quality", "", "initial quality: auto, high, ultra")
	f.BoolVar(&flagHeadless, "headless", false, "play immediately and log events instead of showing the console")
	f.StringVar(&flagLogFile, "log-file", "watchtogether.log", "log file used while the console is shown")
}

func host(path string) error {
	cfg, err := config.Load(config.Options{
		SignalURL:   flagSignal,
		ICEEndpoint: flagICEEndpoint,
		Scope:       flagScope,
		Room:        flagRoom,
		Quality:     flagQuality,
	})
	if err != nil {
		return err
	}
	level, err := media.ParseLevel(cfg.Quality)
	if err != nil {
		return err
	}

	if !flagHeadless {
		f, err := tea.LogToFile(flagLogFile, "")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
	}

	ctx, cancel := withShutdown()
	defer cancel()

	// Step 1: Playback surface
	surface, err := player.OpenFile(path, cfg.FPS)
	if err != nil {
		return err
	}
	go surface.Run(ctx)

	// Step 2: Relays, peer connections and signaling
	st, err := connect(ctx, cancel, cfg)
	if err != nil {
		return err
	}
	defer st.signal.Close()

	// Step 3: Stream producer. No canvas is available, so synthetic levels
	// fall back to direct capture of the file.
	profiles := media.DefaultProfiles.
		WithBitrates(cfg.BitrateAuto, cfg.BitrateHigh, cfg.BitrateUltra).
		WithFPS(cfg.FPS)
	producer := media.NewProducer(surface, nil, profiles)

	// Step 4: Session
	sess := session.New(session.Deps{
		Signaler:  st.signal,
		Connector: st.connector,
		Relays:    st.relays,
		Surface:   surface,
		Streams:   producer,
		Quality:   level,
	})
	defer sess.Close()

	room, err := sess.CreateRoom(cfg.Room)
	if err != nil {
		return err
	}
	go func() {
		if err := sess.Run(ctx, st.signal.Messages()); err != nil && ctx.Err() == nil {
			log.Printf("[main] session: %v", err)
		}
		cancel()
	}()

	if flagHeadless {
		fmt.Printf("room: %s\n", room.ID)
		if err := sess.Play(ctx); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		go sess.PruneEvery(ctx, pruneEvery)
		logEvents(ctx, sess.Events())
		log.Printf("[main] done")
		return nil
	}

	// Step 5: Console
	console := ui.NewConsole(ctx, sess, surface, sess.Events())
	if _, err := tea.NewProgram(console, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("console: %w", err)
	}
	log.Printf("[main] done")
	return nil
}
