package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-lti-provider/pkg/admin"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

func newMigrateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", o.cfg.StoreDriver)
			return nil
		},
	}
}

/* ------------------------------- consumer --------------------------------- */

func newConsumerCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consumer",
		Short: "Manage tool consumers",
	}
	cmd.AddCommand(newConsumerAddCmd(o), newConsumerListCmd(o), newConsumerDeleteCmd(o))
	return cmd
}

func newConsumerAddCmd(o *rootOptions) *cobra.Command {
	var (
		name, secret, scope, email string
		enabled, protected         bool
	)
	cmd := &cobra.Command{
		Use:   "add KEY",
		Short: "Register a tool consumer and print its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idScope, ok := lti.ParseIDScope(scope)
			if !ok {
				return fmt.Errorf("invalid --id-scope %q", scope)
			}
			b, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			c := lti.NewToolConsumer(args[0], enabled)
			if c.Key == "" {
				return fmt.Errorf("consumer key is required")
			}
			if _, err := b.Store.LoadToolConsumer(cmd.Context(), c.Key); err == nil {
				return fmt.Errorf("consumer %q already exists", c.Key)
			}
			c.Name = name
			if c.Name == "" {
				c.Name = c.Key
			}
			if secret != "" {
				c.Secret = secret
			}
			c.IDScope = idScope
			c.Protected = protected
			c.DefaultEmail = email
			if err := b.Store.SaveToolConsumer(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key:    %s\nsecret: %s\n", c.Key, c.Secret)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "display name (default KEY)")
	f.StringVar(&secret, "secret", "", "shared secret (default random)")
	f.StringVar(&scope, "id-scope", "id_only", "user id scope: id_only|global|context|resource")
	f.StringVar(&email, "default-email", "", "default email or @domain for users without one")
	f.BoolVar(&enabled, "enabled", true, "enable the consumer")
	f.BoolVar(&protected, "protected", false, "pin the consumer to its first tool_consumer_instance_guid")
	return cmd
}

func newConsumerListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tool consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			items, err := b.Store.ListToolConsumers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tENABLED\tLAST ACCESS")
			for _, c := range items {
				last := "-"
				if c.LastAccess != nil {
					last = c.LastAccess.UTC().Format(time.DateOnly)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", c.Key, c.Name, c.Enabled, last)
			}
			return tw.Flush()
		},
	}
}

func newConsumerDeleteCmd(o *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a tool consumer with its links, users, share keys and nonces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "delete consumer %q and all its data? [y/N] ", args[0])
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(line)); a != "y" && a != "yes" {
					return fmt.Errorf("aborted")
				}
			}
			b, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.Store.DeleteToolConsumer(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

/* ------------------------------- sharekey --------------------------------- */

func newShareKeyCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sharekey",
		Short: "Manage resource link share keys",
	}
	var (
		autoApprove  bool
		life, length int
	)
	create := &cobra.Command{
		Use:   "create CONSUMER_KEY RESOURCE_LINK_ID",
		Short: "Issue a share key for a resource link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			link, err := b.Store.LoadResourceLink(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("resource link %s/%s: %w", args[0], args[1], err)
			}
			sk, err := lti.IssueShareKey(cmd.Context(), b.Store, link, autoApprove, life, length, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "share key: %s\nexpires:   %s\n", sk.ID, sk.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	f := create.Flags()
	f.BoolVar(&autoApprove, "auto-approve", false, "approve the share on first launch")
	f.IntVar(&life, "life", lti.DefaultShareKeyLife, "lifetime in hours")
	f.IntVar(&length, "length", lti.MaxShareKeyLength, "key length")
	cmd.AddCommand(create)
	return cmd
}

/* ---------------------------- hash-password ------------------------------- */

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print a bcrypt hash for ADMIN_PASS_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := ""
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return fmt.Errorf("password must not be empty")
			}
			h, err := admin.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}
