package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/llm"
	"github.com/jackzampolin/quire/internal/prompts"
	"github.com/jackzampolin/quire/internal/report"
)

var promptsExportForce bool

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect and customise LLM prompts",
	Long: `Prompts are embedded Go templates. Any of them can be overridden by
placing <key>.tmpl in the prompts directory (prompts_dir in the config,
default ~/.quire/prompts).`,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt keys, their content hashes and whether they are overridden",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := loadServices(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormatFlag()
		if err != nil {
			return err
		}
		dir := promptsDir(svcs.Config.Get(), svcs.Home)
		resolver := prompts.NewResolver(dir, svcs.Logger)
		llm.RegisterPrompts(resolver)

		list := report.PromptList{OverrideDir: dir}
		for _, p := range resolver.AllEmbedded() {
			resolved, err := resolver.Resolve(p.Key)
			if err != nil {
				return err
			}
			list.Prompts = append(list.Prompts, report.PromptInfo{
				Key:         p.Key,
				Description: p.Description,
				Variables:   resolved.Variables,
				CID:         resolved.CID,
				Override:    resolved.IsOverride,
			})
		}
		return report.Write(cmd.OutOrStdout(), format, list)
	},
}

var promptsExportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write the embedded prompts as editable override files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := loadServices(cmd)
		if err != nil {
			return err
		}
		dir := promptsDir(svcs.Config.Get(), svcs.Home)
		if len(args) == 1 {
			dir = args[0]
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create prompts directory: %w", err)
		}

		resolver := prompts.NewResolver("", svcs.Logger)
		llm.RegisterPrompts(resolver)
		for _, p := range resolver.AllEmbedded() {
			path := filepath.Join(dir, p.Key+".tmpl")
			if fileExists(path) && !promptsExportForce {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s (exists)\n", path)
				continue
			}
			if err := os.WriteFile(path, []byte(p.Text), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		}
		return nil
	},
}

// promptsDir returns the configured override directory, falling back to
// the home directory's prompts folder.
func promptsDir(cfg *config.Config, h *home.Dir) string {
	if cfg != nil && cfg.PromptsDir != "" {
		return cfg.PromptsDir
	}
	if h != nil {
		return h.PromptsPath()
	}
	return ""
}

func init() {
	promptsExportCmd.Flags().BoolVar(&promptsExportForce, "force", false, "overwrite existing override files")
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsExportCmd)
}
