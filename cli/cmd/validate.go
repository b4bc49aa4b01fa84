package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nodeship/api/assembly"
	"nodeship/api/model"
	"nodeship/cli/api"
	"nodeship/cli/style"
)

var validateLocal bool

var validateCmd = &cobra.Command{
	Use:     "validate",
	Short:   "Validate the topology and routing declarations",
	Aliases: []string{"check", "lint"},
	Args:    cobra.NoArgs,
	RunE:    runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateLocal, "local", false, "validate the local configuration instead of asking the API")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var result *api.ValidationResult
	var err error
	if validateLocal {
		result, err = validateLocalConfig(cmd.Context())
	} else {
		result, err = client.Validate()
	}
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}

	fmt.Println(style.Banner.Render("⚡ NODESHIP VALIDATE"))
	fmt.Println()
	printResult(*result)
	fmt.Println()

	if result.Errors > 0 {
		fmt.Println(style.ErrorBox.Render(fmt.Sprintf("  %d error(s), %d warning(s)  ", result.Errors, result.Warnings)))
		return fmt.Errorf("validation failed")
	}
	fmt.Println(style.SuccessBox.Render("  Declarations are consistent  "))
	return nil
}

func validateLocalConfig(ctx context.Context) (*api.ValidationResult, error) {
	cfg, _, err := localConfig()
	if err != nil {
		return nil, err
	}
	topo, err := assembly.Topology(cfg, "")
	if err != nil {
		return nil, err
	}
	routing, err := assembly.PlannedRouting(cfg)
	if err != nil {
		return nil, err
	}
	r := assembly.Validator(cfg, assembly.Secrets(cfg)).Validate(ctx, topo, routing)
	return convertResult(r), nil
}

func convertResult(r *model.ValidationResult) *api.ValidationResult {
	out := &api.ValidationResult{App: r.App, Errors: r.Errors, Warnings: r.Warnings, Infos: r.Infos}
	for _, f := range r.Findings {
		out.Findings = append(out.Findings, api.ValidationFinding{
			Check:    f.Check,
			Severity: string(f.Severity),
			Message:  f.Message,
			Field:    f.Field,
		})
	}
	return out
}

func printResult(r api.ValidationResult) {
	name := style.Bold.Render(padRight(r.App, 24))

	if r.Errors == 0 && r.Warnings == 0 {
		fmt.Printf("  %s %s\n", name, style.Succeeded.Render("PASS"))
		return
	}

	var parts []string
	if r.Errors > 0 {
		parts = append(parts, style.Failed.Render(fmt.Sprintf("FAIL  %d error(s)", r.Errors)))
	}
	if r.Warnings > 0 {
		parts = append(parts, style.Warning.Render(fmt.Sprintf("%d warning(s)", r.Warnings)))
	}
	fmt.Printf("  %s %s\n", name, strings.Join(parts, "  "))

	for _, f := range r.Findings {
		dot := style.DimText.Render("●")
		switch f.Severity {
		case "error":
			dot = style.Failed.Render("●")
		case "warning":
			dot = style.Warning.Render("●")
		}
		tag := ""
		if f.Field != "" {
			tag = " " + style.DimText.Render("["+f.Field+"]")
		}
		fmt.Printf("    %s %s%s\n", dot, f.Message, tag)
	}
}
