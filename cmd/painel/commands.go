package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/painel/internal/api"
	"github.com/kalambet/painel/internal/config"
	"github.com/kalambet/painel/internal/records"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a sample for analysis",
	Long: `Submit a sample to Hybrid Analysis and VirusTotal.

Examples:
  painel submit ./invoice.pdf
  painel submit ./dropper.exe --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		printStep("Submitting %s (%d bytes)...", filepath.Base(args[0]), len(data))
		view, err := submitSample(ctx, client, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		if wait && isPending(view) {
			printStep("Waiting for reports...")
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			view, err = waitForReports(waitCtx, client, view.ID, 2*time.Second)
			if err != nil {
				return err
			}
		}
		printAnalysis(os.Stdout, view)
		return nil
	},
}

func init() {
	submitCmd.Flags().Bool("wait", false, "wait until both reports have resolved")
	submitCmd.Flags().Duration("timeout", 3*time.Minute, "how long --wait polls before giving up")
}

func submitSample(ctx context.Context, client *apiClient, name string, data []byte) (api.AnalysisView, error) {
	resp, err := client.upload(ctx, "/analyses", name, data)
	if err != nil {
		return api.AnalysisView{}, err
	}
	var view api.AnalysisView
	if err := decodeJSON(resp, &view); err != nil {
		return api.AnalysisView{}, err
	}
	return view, nil
}

func isPending(v api.AnalysisView) bool {
	return (v.HybridReport != nil && v.HybridReport.Source == records.SourcePending) ||
		(v.VirusTotalReport != nil && v.VirusTotalReport.Source == records.SourcePending)
}

// waitForReports polls the analysis until no sub-report is pending.
func waitForReports(ctx context.Context, client *apiClient, id int64, interval time.Duration) (api.AnalysisView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return api.AnalysisView{}, fmt.Errorf("waiting for analysis %d: %w", id, ctx.Err())
		case <-ticker.C:
		}
		view, err := getAnalysis(ctx, client, id)
		if err != nil {
			if ctx.Err() != nil {
				return api.AnalysisView{}, fmt.Errorf("waiting for analysis %d: %w", id, ctx.Err())
			}
			return api.AnalysisView{}, err
		}
		if !isPending(view) {
			return view, nil
		}
	}
}

func getAnalysis(ctx context.Context, client *apiClient, id int64) (api.AnalysisView, error) {
	resp, err := client.get(ctx, "/analyses/"+strconv.FormatInt(id, 10))
	if err != nil {
		return api.AnalysisView{}, err
	}
	var view api.AnalysisView
	if err := decodeJSON(resp, &view); err != nil {
		return api.AnalysisView{}, err
	}
	return view, nil
}

func printAnalysis(w io.Writer, v api.AnalysisView) {
	fmt.Fprintf(w, "%s #%d\n", colorize(colorBold, v.FileName), v.ID)
	fmt.Fprintf(w, "  Verdict:   %s (%s)\n", verdictLabel(v.Verdict), v.ThreatLevel)
	fmt.Fprintf(w, "  Size:      %d bytes\n", v.FileSize)
	if v.Hash != "" {
		fmt.Fprintf(w, "  SHA-256:   %s\n", v.Hash)
	}
	if v.MimeType != "" {
		fmt.Fprintf(w, "  Type:      %s\n", v.MimeType)
	}
	if v.PDFPages > 0 {
		fmt.Fprintf(w, "  Pages:     %d\n", v.PDFPages)
	}
	fmt.Fprintf(w, "  Submitted: %s\n", v.CreatedAt.Local().Format(time.DateTime))
	if h := v.HybridReport; h != nil {
		fmt.Fprintf(w, "  Hybrid Analysis [%s]: score %d, %s", sourceLabel(h.Source), h.ThreatScore, h.Verdict)
		if len(h.TechniqueTags) > 0 {
			fmt.Fprintf(w, ", %s", strings.Join(h.TechniqueTags, " "))
		}
		fmt.Fprintln(w)
		if h.Error != "" {
			fmt.Fprintf(w, "    %s\n", h.Error)
		}
	}
	if r := v.VirusTotalReport; r != nil {
		fmt.Fprintf(w, "  VirusTotal [%s]: %d malicious, %d suspicious, %d harmless, %d undetected\n",
			sourceLabel(r.Source), r.Stats.Malicious, r.Stats.Suspicious, r.Stats.Harmless, r.Stats.Undetected)
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", r.Error)
		}
	}
	if v.ArchiveKey != "" {
		fmt.Fprintf(w, "  Archived:  %s\n", v.ArchiveKey)
	}
}

// --- list / show ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		verdict, _ := cmd.Flags().GetString("verdict")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		views, err := listAnalyses(cmd.Context(), client, verdict, limit)
		if err != nil {
			return err
		}
		if len(views) == 0 {
			fmt.Println("No analyses found.")
			return nil
		}
		printAnalysisTable(os.Stdout, views)
		fmt.Fprintf(os.Stderr, "%s analyses\n", countLabel(len(views), limit))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid analysis id %q", args[0])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := getAnalysis(cmd.Context(), client, id)
		if err != nil {
			return err
		}
		printAnalysis(os.Stdout, view)
		return nil
	},
}

func init() {
	listCmd.Flags().String("verdict", "", "only show one verdict (Malware, Suspeito, Seguro, Pendente)")
	listCmd.Flags().Int("limit", 20, "maximum number of analyses")
}

func listAnalyses(ctx context.Context, client *apiClient, verdict string, limit int) ([]api.AnalysisView, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if verdict != "" {
		q.Set("verdict", verdict)
	}
	resp, err := client.get(ctx, "/analyses?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var views []api.AnalysisView
	if err := decodeJSON(resp, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func printAnalysisTable(w io.Writer, views []api.AnalysisView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tVERDICT\tLEVEL\tSUBMITTED")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			v.ID, v.FileName, v.Verdict, v.ThreatLevel, v.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func countLabel(count, limit int) string {
	if limit > 0 && count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup <sha256>",
	Short: "Look up a hash locally and on VirusTotal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := lookupHash(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printLookup(os.Stdout, res)
		return nil
	},
}

func lookupHash(ctx context.Context, client *apiClient, sha256 string) (api.HashLookupResult, error) {
	resp, err := client.get(ctx, "/analyses/hash/"+url.PathEscape(strings.TrimSpace(sha256)))
	if err != nil {
		return api.HashLookupResult{}, err
	}
	var res api.HashLookupResult
	if err := decodeJSON(resp, &res); err != nil {
		return api.HashLookupResult{}, err
	}
	return res, nil
}

func printLookup(w io.Writer, res api.HashLookupResult) {
	fmt.Fprintf(w, "%s\n", colorize(colorBold, res.SHA256))
	if len(res.Records) == 0 {
		fmt.Fprintln(w, "  Local:      not seen")
	} else {
		for _, v := range res.Records {
			fmt.Fprintf(w, "  Local:      #%d %s %s\n", v.ID, v.FileName, verdictLabel(v.Verdict))
		}
	}
	switch {
	case res.VirusTotal != nil:
		vt := res.VirusTotal
		fmt.Fprintf(w, "  VirusTotal: %d malicious, %d suspicious", vt.Stats.Malicious, vt.Stats.Suspicious)
		if vt.ThreatLabel != "" {
			fmt.Fprintf(w, " (%s)", vt.ThreatLabel)
		}
		fmt.Fprintln(w)
	case res.VirusTotalError != "":
		fmt.Fprintf(w, "  VirusTotal: %s\n", res.VirusTotalError)
	}
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Show or replace the investigator notes",
}

var notesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/notes")
		if err != nil {
			return err
		}
		var notes struct {
			Notes string `json:"notes"`
		}
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}
		fmt.Println(notes.Notes)
		return nil
	},
}

var notesSetCmd = &cobra.Command{
	Use:   "set [text]",
	Short: "Replace the notes (reads stdin when no text is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text string
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := saveNotes(cmd.Context(), client, text); err != nil {
			return err
		}
		printSuccess("Notes saved")
		return nil
	},
}

func init() {
	notesCmd.AddCommand(notesShowCmd)
	notesCmd.AddCommand(notesSetCmd)
}

func saveNotes(ctx context.Context, client *apiClient, text string) error {
	resp, err := client.put(ctx, "/notes", map[string]string{"notes": text})
	if err != nil {
		return err
	}
	var out map[string]any
	return decodeJSON(resp, &out)
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage analyzer API keys",
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which analyzer keys are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/credentials")
		if err != nil {
			return err
		}
		var status api.CredentialStatus
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}
		printStatus("Hybrid Analysis", "%s", configuredLabel(status.HybridAnalysis))
		printStatus("VirusTotal", "%s", configuredLabel(status.VirusTotal))
		return nil
	},
}

var keysSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set analyzer API keys",
	Long: `Set analyzer API keys. Only the flags you pass are changed; pass an
empty value to clear a key.

Examples:
  painel keys set --virustotal "$VT_KEY"
  painel keys set --hybrid ""`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update := map[string]string{}
		if cmd.Flags().Changed("hybrid") {
			v, _ := cmd.Flags().GetString("hybrid")
			update["hybridAnalysis"] = v
		}
		if cmd.Flags().Changed("virustotal") {
			v, _ := cmd.Flags().GetString("virustotal")
			update["virusTotal"] = v
		}
		if len(update) == 0 {
			return fmt.Errorf("one of --hybrid or --virustotal is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		status, err := saveKeys(cmd.Context(), client, update)
		if err != nil {
			return err
		}
		printSuccess("Keys saved")
		printStatus("Hybrid Analysis", "%s", configuredLabel(status.HybridAnalysis))
		printStatus("VirusTotal", "%s", configuredLabel(status.VirusTotal))
		return nil
	},
}

func init() {
	keysSetCmd.Flags().String("hybrid", "", "Hybrid Analysis API key")
	keysSetCmd.Flags().String("virustotal", "", "VirusTotal API key")
	keysCmd.AddCommand(keysShowCmd)
	keysCmd.AddCommand(keysSetCmd)
}

func saveKeys(ctx context.Context, client *apiClient, update map[string]string) (api.CredentialStatus, error) {
	resp, err := client.put(ctx, "/credentials", update)
	if err != nil {
		return api.CredentialStatus{}, err
	}
	var status api.CredentialStatus
	if err := decodeJSON(resp, &status); err != nil {
		return api.CredentialStatus{}, err
	}
	return status, nil
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or reset stored data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a JSON backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		withKeys, _ := cmd.Flags().GetBool("keys")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if err := exportData(cmd.Context(), client, withKeys, writer); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		if withKeys {
			printWarning("The export contains API keys in plain text.")
		}
		return nil
	},
}

var dataResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all analyses, notes and keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored data. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := resetData(cmd.Context(), client); err != nil {
			return err
		}
		printSuccess("All data deleted")
		return nil
	},
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataExportCmd.Flags().Bool("keys", false, "include API keys in the export")
	dataResetCmd.Flags().Bool("confirm", false, "confirm data reset")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataResetCmd)
}

func exportData(ctx context.Context, client *apiClient, withKeys bool, w io.Writer) error {
	q := url.Values{}
	q.Set("keys", strconv.FormatBool(withKeys))
	resp, err := client.get(ctx, "/export?"+q.Encode())
	if err != nil {
		return err
	}
	var doc json.RawMessage
	if err := decodeJSON(resp, &doc); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func resetData(ctx context.Context, client *apiClient) error {
	resp, err := client.post(ctx, "/reset?confirm=true", nil)
	if err != nil {
		return err
	}
	var out map[string]any
	return decodeJSON(resp, &out)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
