package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fleet-portal/internal/access"
)

var (
	resolveRecord string
	resolveRole   string
	resolvePath   string
	resolveReport string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve access offline from a permission record file",
	Long: `Read a permission record (or an array of them, picked by --role) and print the
access summary, or the level of one page with --path, or report membership with --report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := loadRecord(resolveRecord, resolveRole)
		if err != nil {
			return err
		}

		resolver := access.Default()
		for _, key := range access.Duplicates(record) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: feature %q is listed more than once, the first entry wins\n", key)
		}

		out := cmd.OutOrStdout()
		switch {
		case resolvePath != "":
			level := resolver.ResolveRouteAccess(record, resolvePath)
			binding, bound := resolver.Bind(resolvePath)
			feature := ""
			if bound {
				feature = binding.Feature
			}
			return writeJSON(out, map[string]any{
				"path":     access.NormalizePath(resolvePath),
				"feature":  feature,
				"level":    level,
				"can_edit": level.CanEdit(),
			})
		case resolveReport != "":
			return writeJSON(out, map[string]any{
				"report_id": resolveReport,
				"allowed":   access.HasReportAccess(record, resolveReport),
			})
		default:
			return writeJSON(out, resolver.Summarize(record))
		}
	},
}

// loadRecord accepts a single record object or an array from which the
// record for role is picked.
func loadRecord(path, role string) (*access.PermissionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []access.PermissionRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		for i := range records {
			if records[i].Role == role {
				return &records[i], nil
			}
		}
		return nil, fmt.Errorf("no record for role %q in %s", role, path)
	}

	var record access.PermissionRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return &record, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveRecord, "record", "", "permission record JSON file")
	resolveCmd.Flags().StringVar(&resolveRole, "role", "", "role to pick when the file holds several records")
	resolveCmd.Flags().StringVar(&resolvePath, "path", "", "page path to resolve")
	resolveCmd.Flags().StringVar(&resolveReport, "report", "", "report id to check")
	_ = resolveCmd.MarkFlagRequired("record")
}
