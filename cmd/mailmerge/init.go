package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iase/mailmerge/internal/config"
	"github.com/iase/mailmerge/internal/email"
)

var (
	initFrom        string
	initFromName    string
	initOutput      string
	initDataDir     string
	initMode        string
	initSMTPHost    string
	initContactsURL string
	initAPIKey      string
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Mailmerge configuration",
	Long: `Create a Mailmerge configuration file, prompting for missing values.

Examples:
  # Interactive mode - prompts for missing values
  mailmerge init

  # Quick setup for testing, emails are captured in the outbox
  mailmerge init --from office@example.org --mode sandbox -o test.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initFrom, "from", "", "Sender address (e.g., office@example.org)")
	initCmd.Flags().StringVar(&initFromName, "from-name", "", "Sender display name")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/mailmerge", "Data directory for the database and backups")
	initCmd.Flags().StringVar(&initMode, "mode", config.MailerSandbox, "Mailer mode: smtp, bridge, sandbox")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay host (smtp mode)")
	initCmd.Flags().StringVar(&initContactsURL, "contacts-url", "", "Remote contacts export URL")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Mailmerge Configuration Wizard")
	fmt.Println("==============================")
	fmt.Println()

	if initFrom == "" {
		initFrom = prompt(reader, "Sender address (e.g., office@example.org)", "")
		if initFrom == "" {
			return fmt.Errorf("sender address is required")
		}
	}

	if initFromName == "" {
		initFromName = prompt(reader, "Sender name", "")
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initMode == config.MailerSMTP && initSMTPHost == "" {
		initSMTPHost = prompt(reader, "SMTP host", "smtp."+email.DomainOr(initFrom, "example.org"))
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig() string {
	remoteSection := `remote:
  # contacts_url: "https://example.org/api/contacts"
  # nations_url: "https://example.org/api/nations"
  # refresh_interval: 1h`
	if initContactsURL != "" {
		remoteSection = fmt.Sprintf(`remote:
  contacts_url: "%s"
  # nations_url: "https://example.org/api/nations"
  refresh_interval: 1h
  timeout: 5s`, initContactsURL)
	}

	smtpHost := initSMTPHost
	if smtpHost == "" {
		smtpHost = "smtp." + email.DomainOr(initFrom, "example.org")
	}

	return fmt.Sprintf(`# Mailmerge configuration
# Generated by: mailmerge init

%s

session:
  from: "%s"
  from_name: "%s"
  language: en
  delay: 3s
  random_window: 1s
  final_delay: 2s
  max_count: 10

mailer:
  mode: %s
  smtp:
    host: "%s"
    tls: starttls
    # username and password, or set MAILMERGE_SMTP_PASSWORD
    # username: "%s"
  dkim:
    enabled: false
    selector: "mailmerge"
    key_file: "%s/dkim/%s.key"

api:
  enabled: true
  listen_addr: "127.0.0.1:8080"
  api_key: "%s"

storage:
  path: "%s/mailmerge.db"
  backup_dir: "%s/backups"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  listen_addr: "127.0.0.1:9090"
`,
		remoteSection,
		initFrom,
		initFromName,
		initMode,
		smtpHost,
		initFrom,
		initDataDir, email.DomainOr(initFrom, "example.org"),
		initAPIKey,
		initDataDir,
		initDataDir,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Import your contacts:")
	fmt.Printf("   mailmerge import -c %s contacts.json\n", initOutput)
	fmt.Println()
	fmt.Println("2. Check who the first session would email:")
	fmt.Printf("   mailmerge select -c %s --nation NO\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the server:")
	fmt.Printf("   mailmerge serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("4. Start a session over the API:")
	fmt.Println("   curl -X POST http://127.0.0.1:8080/api/v1/session \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\" \\\n", initAPIKey)
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println(`     -d '{"nations":["NO"],"max_count":10}'`)
	fmt.Println()
	fmt.Printf("Database: %s\n", filepath.Join(initDataDir, "mailmerge.db"))
}
