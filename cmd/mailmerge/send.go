package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iase/mailmerge/internal/session"
)

var (
	sendNations       []string
	sendMax           int
	sendLanguage      string
	sendLetter        string
	sendSubjectOption string
	sendSubject       string
	sendDelay         time.Duration
	sendWindow        time.Duration
	sendFinalDelay    time.Duration
	sendToName        string
	sendToEmail       string
	sendDryRun        bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run a sending session",
	Long: `Mail the selected letter to the eligible contacts of the selected nations,
one at a time with a randomized pause between emails. Interrupt to stop
before the next email.

Examples:
  # Send up to 25 emails to Norwegian contacts
  mailmerge send -c config.yaml --nation NO --max 25

  # Preview who would be emailed
  mailmerge send -c config.yaml --nation NO --dry-run

  # Email a single recipient without touching the contact store
  mailmerge send -c config.yaml --to-name "Kari Nordmann" --to-email kari@example.com`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringSliceVarP(&sendNations, "nation", "n", nil, "Nation to select (repeatable, default: session.nations)")
	sendCmd.Flags().IntVar(&sendMax, "max", -1, "Maximum emails (default: session.max_count, 0 = unlimited)")
	sendCmd.Flags().StringVar(&sendLanguage, "language", "", "Letter language (en, no)")
	sendCmd.Flags().StringVar(&sendLetter, "letter", "", "Letter id from the catalog")
	sendCmd.Flags().StringVar(&sendSubjectOption, "subject-option", "", "Predefined subject of the letter")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "Custom subject template")
	sendCmd.Flags().DurationVar(&sendDelay, "delay", 0, "Pause between emails (minimum 1s)")
	sendCmd.Flags().DurationVar(&sendWindow, "window", 0, "Extra random pause added to --delay")
	sendCmd.Flags().DurationVar(&sendFinalDelay, "final-delay", -1, "Pause after the last email")
	sendCmd.Flags().StringVar(&sendToName, "to-name", "", "Single recipient name")
	sendCmd.Flags().StringVar(&sendToEmail, "to-email", "", "Single recipient email")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Show the session plan without sending")

	rootCmd.AddCommand(sendCmd)
}

// buildRequest overlays the command line flags on the configured defaults
func buildRequest(cmd *cobra.Command, req session.Request) session.Request {
	if len(sendNations) > 0 {
		req.Nations = sendNations
	}
	if sendMax >= 0 {
		req.MaxCount = sendMax
	}
	if sendLanguage != "" {
		req.Language = sendLanguage
	}
	if sendLetter != "" {
		req.Letter = sendLetter
	}
	if sendSubjectOption != "" {
		req.SubjectOption = sendSubjectOption
	}
	if sendSubject != "" {
		req.CustomSubject = sendSubject
	}
	if cmd.Flags().Changed("delay") {
		req.Delay = sendDelay
	}
	if cmd.Flags().Changed("window") {
		req.RandomWindow = sendWindow
	}
	if cmd.Flags().Changed("final-delay") {
		req.FinalDelay = sendFinalDelay
	}
	if sendToName != "" || sendToEmail != "" {
		req.Single = &session.Recipient{Name: sendToName, Email: sendToEmail}
	}
	return req
}

func runSend(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	runner := application.Runner()
	req := buildRequest(cmd, runner.DefaultRequest())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if sendDryRun {
		plan, err := runner.Plan(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Letter:  %s (%s)\n", plan.Letter.Name, plan.Letter.Language)
		fmt.Printf("Subject: %s\n", plan.Subject)
		fmt.Printf("Emails:  %d\n\n", len(plan.Contacts))
		printContacts(os.Stdout, plan.Contacts)
		return nil
	}

	progress, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s %s\n", progress.SessionID, progress.Status)
	fmt.Printf("  Subject: %s\n", progress.Subject)
	fmt.Printf("  Sent:    %d of %d\n", progress.Sent, progress.Total)
	if progress.Failed > 0 {
		fmt.Printf("  Failed:  %d\n", progress.Failed)
	}
	if progress.Elapsed != "" {
		fmt.Printf("  Elapsed: %s\n", progress.Elapsed)
	}
	return nil
}
