package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagSignal      string
	flagICEEndpoint string
	flagScope       string
)

var rootCmd = &cobra.Command{
	Use:   "watchtogether",
	Short: "Watch a video together over WebRTC",
	Long: `watchtogether hosts or joins a watch-together room. The host plays a raw
H264 file and streams it to every guest; guests write the received stream
to stdout and follow the host's play, pause and seek.

Environment variables (a .env file is read if present):
  WT_SIGNAL_URL        WebSocket URL of the signaling server (required)
  WT_ICE_ENDPOINT      Relay server list endpoint (default: <signal host>/ice)
  WT_SCOPE             Signaling scope tag (default: watch)
  WT_QUALITY           Initial quality: auto, high, ultra
  WT_FPS               Playback frame rate (default: 30)
  WT_PION_LOG_LEVEL    pion log level (default: error)

Examples:
  # Host a room from a file, with the interactive console
  watchtogether host movie.h264 --signal wss://example.com/ws

  # Join and play the stream
  watchtogether join room-3f9a1c | ffplay -f h264 -`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSignal, "signal", "", "signaling server WebSocket URL")
	pf.StringVar(&flagICEEndpoint, "ice-endpoint", "", "relay server list endpoint")
	pf.StringVar(&flagScope, "scope", "", "signaling scope tag")

	rootCmd.AddCommand(hostCmd, joinCmd)
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
