package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ankittk/deskpilot/internal/config"
	"github.com/ankittk/deskpilot/internal/policy"
	"github.com/ankittk/deskpilot/internal/sandbox"
)

var errDenied = errors.New("denied by policy")

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test the sandbox policy (<home>/policy.yaml)",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyInitCmd())
	cmd.AddCommand(newPolicyCheckCmd("check-url <url>", "Check whether open_url would be allowed",
		func(ctx context.Context, s *sandbox.Sandbox, arg string) error { return s.ValidateURL(ctx, arg) }))
	cmd.AddCommand(newPolicyCheckCmd("check-path <path>", "Check whether open_file would be allowed",
		func(_ context.Context, s *sandbox.Sandbox, arg string) error { return s.ValidatePath(arg) }))
	cmd.AddCommand(newPolicyCheckCmd("check-text <text>", "Check whether typing text would be allowed",
		func(_ context.Context, s *sandbox.Sandbox, arg string) error { return s.ValidateText(arg) }))
	cmd.AddCommand(newPolicyCheckCmd("check-task <task>", "Check whether a task would be accepted",
		func(ctx context.Context, s *sandbox.Sandbox, arg string) error { return s.ScreenInstruction(ctx, arg) }))
	return cmd
}

func loadPolicy(cmd *cobra.Command) (*policy.Policy, error) {
	home := config.MustHomeFrom(cmd.Context())
	return policy.Load(policy.Path(home))
}

func newPolicyShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPolicy(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(p.Model())
			}
			b, err := yaml.Marshal(p.Config())
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON (API shape)")
	return cmd
}

func newPolicyInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default policy to <home>/policy.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := policy.Path(config.MustHomeFrom(cmd.Context()))
			if err := policy.WriteDefault(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

type checkFunc func(ctx context.Context, s *sandbox.Sandbox, arg string) error

func newPolicyCheckCmd(use, short string, check checkFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPolicy(cmd)
			if err != nil {
				return err
			}
			s := sandbox.New(p, sandbox.Options{Logger: slog.Default()})
			err = check(cmd.Context(), s, args[0])
			out := cmd.OutOrStdout()
			if err == nil {
				_, _ = fmt.Fprintln(out, "allowed")
				return nil
			}
			if v, ok := sandbox.AsViolation(err); ok {
				_, _ = fmt.Fprintf(out, "denied [%s]: %s\n", v.Rule, v.Reason)
				return errDenied
			}
			return err
		},
	}
	return cmd
}
