package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/taskpulse/internal/client"
	"github.com/iliyamo/taskpulse/internal/model"
)

var (
	tailServer   string
	tailEmail    string
	tailPassword string
	tailCache    string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log in and print notification changes as they happen",
	Long: `Log in as a user, load the local notification cache, reconcile it with
the server history and follow the live stream. Every change to the list is
printed. The cache file survives restarts.`,
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailServer, "server", envOr("TASKPULSE_URL", "http://localhost:8080"), "server base URL")
	tailCmd.Flags().StringVar(&tailEmail, "email", os.Getenv("TASKPULSE_EMAIL"), "login email")
	tailCmd.Flags().StringVar(&tailPassword, "password", os.Getenv("TASKPULSE_PASSWORD"), "login password")
	tailCmd.Flags().StringVar(&tailCache, "cache", envOr("TASKPULSE_CACHE", "notifications.db"), "sqlite cache path")
}

func runTail(cmd *cobra.Command, args []string) error {
	if tailEmail == "" || tailPassword == "" {
		return errors.New("--email and --password are required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(tailServer, nil)
	loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	acct, err := api.Login(loginCtx, tailEmail, tailPassword)
	cancel()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.WithField("user_id", acct.ID).Info("logged in")

	store, err := client.NewSQLiteStore(tailCache)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := client.Open(ctx, api, store, acct.ID, log)
	if err != nil {
		return err
	}
	printList(cache.Snapshot(), cache.Connected())

	unsubscribe := cache.Subscribe(func(ch client.Change) {
		printList(ch.Notifications, ch.Connected)
	})
	defer unsubscribe()

	return cache.Run(ctx)
}

func printList(list []model.Notification, connected bool) {
	state := "live"
	if !connected {
		state = "disconnected"
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	fmt.Printf("--- %d notifications, %d unread (%s)\n", len(list), unread, state)
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Printf("%s %s  %-14s %s\n", mark, n.Timestamp, n.Type, n.Message)
	}
}
