package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Hiraete/kiel-app-sub000/internal/sigclient"
)

var (
	flagURL   string
	flagRoom  string
	flagName  string
	flagToken string
	flagChat  string
)

var rootCmd = &cobra.Command{
	Use:   "roomprobe",
	Short: "Join a signaling room and print every event as a JSON line",
	Long: `roomprobe connects to a kiel signaling relay as an ordinary peer,
joins the given room and streams every received event to stdout, one JSON
object per line. Use it to watch a live room during debugging, or with
--chat to verify relaying end to end from a shell.`,
	RunE: runProbe,
}

func init() {
	rootCmd.Flags().StringVar(&flagURL, "url", "ws://127.0.0.1:8080/ws", "relay WebSocket URL")
	rootCmd.Flags().StringVar(&flagRoom, "room", "", "room to join")
	rootCmd.Flags().StringVar(&flagName, "name", "roomprobe", "display name announced to the room")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "signed identity token (overrides --name)")
	rootCmd.Flags().StringVar(&flagChat, "chat", "", "send this chat message after joining")
	_ = rootCmd.MarkFlagRequired("room")
}

// Execute runs the probe until the connection dies or the process is
// interrupted.
func Execute() {
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "roomprobe:", err)
		os.Exit(1)
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := sigclient.Options{Name: flagName, Token: flagToken}
	client, err := sigclient.Dial(ctx, flagURL, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Join(flagRoom); err != nil {
		return err
	}
	if flagChat != "" {
		if err := client.SendChat(flagRoom, flagChat); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				return nil
			}
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
	}
}
