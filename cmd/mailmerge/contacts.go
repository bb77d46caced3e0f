package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/payload"
	"github.com/iase/mailmerge/internal/syncer"
)

var (
	importReplace   bool
	exportFormat    string
	exportCompress  bool
	exportOutput    string
	selectNations   []string
	selectMax       int
	selectAll       bool
	contactsLimit   int
	contactsDeleted bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a contacts export into the local store",
	Long: `Merge a JSON or CSV contacts export (optionally zstd-compressed) into the
local store. Use --replace to overwrite the store instead of merging.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch contacts from the remote source and merge them",
	RunE:  runSync,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the contact store as an import payload",
	RunE:  runExport,
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Show the contacts the next session would email",
	RunE:  runSelect,
}

var nationsCmd = &cobra.Command{
	Use:   "nations",
	Short: "List available nations",
	RunE:  runNations,
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Contact store commands",
}

var contactsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show contact store statistics",
	RunE:  runContactsStats,
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE:  runContactsList,
}

var contactsDeleteCmd = &cobra.Command{
	Use:   "delete <uid>",
	Short: "Move a contact to the deleted partition",
	Args:  cobra.ExactArgs(1),
	RunE:  runContactsDelete,
}

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Replace the store instead of merging")

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format (json, csv)")
	exportCmd.Flags().BoolVar(&exportCompress, "zstd", false, "Compress output with zstd")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	selectCmd.Flags().StringSliceVarP(&selectNations, "nation", "n", nil, "Nation to select (repeatable, default: session.nations)")
	selectCmd.Flags().IntVar(&selectMax, "max", -1, "Maximum contacts (default: session.max_count, 0 = unlimited)")
	selectCmd.Flags().BoolVar(&selectAll, "all", false, "List every selected contact, not only eligible ones")

	contactsListCmd.Flags().IntVar(&contactsLimit, "limit", 50, "Maximum number of contacts to show")
	contactsListCmd.Flags().BoolVar(&contactsDeleted, "deleted", false, "List the deleted partition")

	contactsCmd.AddCommand(contactsStatsCmd, contactsListCmd, contactsDeleteCmd)
	rootCmd.AddCommand(importCmd, syncCmd, exportCmd, selectCmd, nationsCmd, contactsCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	res, err := payload.Decode(data, payload.ParseFormat(args[0]))
	if err != nil {
		return err
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()
	var out *syncer.Result
	if importReplace {
		out, err = application.Syncer().Replace(ctx, res, metrics.SourceFile)
	} else {
		out, err = application.Syncer().Import(ctx, res, metrics.SourceFile)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	printResult(os.Stdout, out)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()
	out, err := application.Syncer().Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	printResult(os.Stdout, out)

	if _, err := application.Syncer().RefreshNations(ctx); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	return nil
}

func printResult(w io.Writer, r *syncer.Result) {
	fmt.Fprintf(w, "Source:      %s\n", r.Source)
	if r.Fresh {
		fmt.Fprintf(w, "Export date: %s\n", formatMillis(r.ExportDate))
	} else {
		fmt.Fprintf(w, "Export date: %s (not newer than last import)\n", formatMillis(r.ExportDate))
	}
	fmt.Fprintf(w, "Processed:   %d\n", r.Stats.ContactsProcessed)
	fmt.Fprintf(w, "Deleted:     %d\n", r.Stats.ContactsDeleted)
	fmt.Fprintf(w, "Store:       %d active, %d deleted\n", r.Active, r.Deleted)
	if len(r.RowErrors) > 0 {
		fmt.Fprintf(w, "Skipped rows (%d):\n", len(r.RowErrors))
		for _, e := range r.RowErrors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	format := payload.ParseFormat(exportFormat)
	if format == payload.FormatAuto {
		return fmt.Errorf("invalid format %q (must be json or csv)", exportFormat)
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	store, err := application.Storage().LoadContacts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	data, err := payload.Encode(store, time.Now(), format, exportCompress)
	if err != nil {
		return err
	}

	if exportOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d active and %d deleted contacts to %s\n", len(store.Active), len(store.Deleted), exportOutput)
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	defaults := application.Runner().DefaultRequest()
	sel := contact.Selection{Nations: defaults.Nations, MaxCount: defaults.MaxCount}
	if len(selectNations) > 0 {
		sel.Nations = selectNations
	}
	if selectMax >= 0 {
		sel.MaxCount = selectMax
	}
	if len(sel.Nations) == 0 {
		return fmt.Errorf("select at least one nation (use --nation)")
	}

	store, err := application.Storage().LoadContacts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	res := contact.Select(store, sel)

	fmt.Printf("Selected: %d, not sent: %d, eligible: %d\n", len(res.Selected), len(res.NotSent), len(res.Eligible))
	for _, n := range sel.Nations {
		fmt.Printf("  %s: most recent sent uid %d\n", n, res.MostRecentSent[n])
	}
	fmt.Println()

	list := res.Eligible
	if selectAll {
		list = res.Selected
	}
	printContacts(os.Stdout, list)
	return nil
}

func runNations(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	nations, err := application.Syncer().Nations(context.Background())
	if err != nil && len(nations) == 0 {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	for _, n := range nations {
		fmt.Println(n)
	}
	return nil
}

func runContactsStats(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	store, err := application.Storage().LoadContacts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	counts := make(map[string][2]int)
	for _, c := range store.Active {
		v := counts[c.Nation]
		v[0]++
		if c.IsSent() {
			v[1]++
		}
		counts[c.Nation] = v
	}

	fmt.Printf("Active:       %d\n", len(store.Active))
	fmt.Printf("Deleted:      %d (%d were sent)\n", len(store.Deleted), contact.DeletedSentCount(store))
	fmt.Printf("Last import:  %s\n", formatMillis(store.LastImportExportDate))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NATION\tACTIVE\tSENT")
	fmt.Fprintln(w, "------\t------\t----")
	for _, n := range store.Nations() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", n, counts[n][0], counts[n][1])
	}
	return w.Flush()
}

func runContactsList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	store, err := application.Storage().LoadContacts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	list := store.Active
	if contactsDeleted {
		list = store.Deleted
	}
	if contactsLimit > 0 && len(list) > contactsLimit {
		list = list[:contactsLimit]
	}

	printContacts(os.Stdout, list)
	return nil
}

func runContactsDelete(cmd *cobra.Command, args []string) error {
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uid %q", args[0])
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	deleted, err := application.Syncer().Delete(context.Background(), uid)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("contact %d not found", uid)
	}

	fmt.Printf("Contact %d deleted\n", uid)
	return nil
}

func printContacts(out io.Writer, list []contact.Contact) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No contacts")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tNATION\tNAME\tINSTITUTION\tEMAIL\tSENT")
	fmt.Fprintln(w, "---\t------\t----\t-----------\t-----\t----")
	for _, c := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.UID,
			c.Nation,
			truncate(c.Name, 30),
			truncate(c.Institution, 30),
			c.Email,
			formatMillis(c.SentDate),
		)
	}
	w.Flush()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

// truncate shortens s to n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
