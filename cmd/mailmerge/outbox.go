package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iase/mailmerge/internal/storage"
)

var (
	logLimit         int
	outboxLimit      int
	outboxTo         string
	outboxSession    string
	outboxOlderThan  time.Duration
	backupOutputPath string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Session log commands",
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the session log, newest first",
	RunE:  runLogList,
}

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all session log entries",
	RunE:  runLogClear,
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Sandbox outbox commands",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runOutboxList,
}

var outboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxShow,
}

var outboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete captured messages",
	RunE:  runOutboxClear,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a compressed snapshot of the contact store",
	Long: `Write a zstd-compressed JSON snapshot of the contact store. The snapshot is
a regular import payload: restore it with "mailmerge import --replace".`,
	RunE: runBackup,
}

func init() {
	logListCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum number of entries to show")
	logCmd.AddCommand(logListCmd, logClearCmd)

	outboxListCmd.Flags().IntVar(&outboxLimit, "limit", 50, "Maximum number of messages to show")
	outboxListCmd.Flags().StringVar(&outboxTo, "to", "", "Filter by recipient")
	outboxListCmd.Flags().StringVar(&outboxSession, "session", "", "Filter by session id")
	outboxClearCmd.Flags().DurationVar(&outboxOlderThan, "older-than", 0, "Only delete messages older than this (0 = all)")
	outboxCmd.AddCommand(outboxListCmd, outboxShowCmd, outboxClearCmd)

	backupCmd.Flags().StringVarP(&backupOutputPath, "output", "o", "", "Backup file (default: <storage.backup_dir>/contacts-<time>.json.zst)")

	rootCmd.AddCommand(logCmd, outboxCmd, backupCmd)
}

func runLogList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	entries, err := application.Storage().ListLog(context.Background(), logLimit)
	if err != nil {
		return fmt.Errorf("failed to list log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Log is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tSESSION\tMESSAGE")
	fmt.Fprintln(w, "----\t-----\t-------\t-------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Time.Format("2006-01-02 15:04:05"),
			e.Level,
			truncateID(e.SessionID),
			e.Message,
		)
	}
	return w.Flush()
}

func runLogClear(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	n, err := application.Storage().ClearLog(context.Background())
	if err != nil {
		return fmt.Errorf("failed to clear log: %w", err)
	}

	fmt.Printf("Deleted %d log entries\n", n)
	return nil
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	messages, err := application.Storage().ListOutbox(context.Background(), storage.OutboxFilter{
		To:        outboxTo,
		SessionID: outboxSession,
		Limit:     outboxLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list outbox: %w", err)
	}

	if len(messages) == 0 {
		fmt.Println("Outbox is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTO\tSUBJECT\tCAPTURED\tSIZE")
	fmt.Fprintln(w, "--\t--\t-------\t--------\t----")
	for _, msg := range messages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			truncateID(msg.ID),
			msg.To,
			truncate(msg.Subject, 40),
			msg.CapturedAt.Format("2006-01-02 15:04"),
			msg.Size,
		)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d messages\n", len(messages))

	return nil
}

func runOutboxShow(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	msg, err := application.Storage().GetOutbox(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	fmt.Printf("Message: %s\n\n", msg.ID)
	fmt.Printf("From:     %s\n", msg.From)
	fmt.Printf("To:       %s\n", msg.To)
	fmt.Printf("Subject:  %s\n", msg.Subject)
	fmt.Printf("Captured: %s\n", msg.CapturedAt.Format(time.RFC3339))
	if msg.SessionID != "" {
		fmt.Printf("Session:  %s\n", msg.SessionID)
	}
	if msg.UID != 0 {
		fmt.Printf("Contact:  %d\n", msg.UID)
	}

	if len(msg.Data) > 0 {
		fmt.Println("\n---")
		os.Stdout.Write(msg.Data)
		fmt.Println()
	}
	return nil
}

func runOutboxClear(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	n, err := application.Storage().ClearOutbox(context.Background(), outboxOlderThan)
	if err != nil {
		return fmt.Errorf("failed to clear outbox: %w", err)
	}

	fmt.Printf("Deleted %d messages\n", n)
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	path := backupOutputPath
	if path == "" {
		path = storage.BackupName(application.Config().Storage.BackupDir, time.Now())
	}

	if err := application.Storage().Backup(context.Background(), path); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backup written to %s\n", path)
	return nil
}

// truncateID shortens uuids for table output
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
