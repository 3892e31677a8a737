package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/sandscript/pkg/policy"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and validate sandbox profiles",
	}
	cmd.AddCommand(newProfileShowCmd(), newProfileCheckCmd())
	return cmd
}

func newProfileShowCmd() *cobra.Command {
	var (
		sb        sandboxFlags
		effective bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the profile that run would use, as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, path, err := sb.resolveProfile(cmd)
			if err != nil {
				return err
			}
			if effective {
				opts, err := p.Options()
				if err != nil {
					return exitWith(exitUsage, fmt.Errorf("sandbox profile: %w", err))
				}
				p = policy.FromOptions(opts)
			}
			data, err := policy.Marshal(p)
			if err != nil {
				return exitWith(exitUsage, err)
			}
			out := cmd.OutOrStdout()
			if path == "" {
				path = "default"
			}
			fmt.Fprintf(out, "# source: %s\n", path)
			fmt.Fprint(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "Expand the preset into explicit limits and restrictions")
	addSandboxFlags(cmd.Flags(), &sb)
	return cmd
}

func newProfileCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>...",
		Short: "Validate profile files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			for _, path := range args {
				if _, err := policy.LoadFile(path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
					failed = true
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed {
				return exitWith(exitDiagnostics, nil)
			}
			return nil
		},
	}
}
