package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanizio/tenantdb/internal/app"
	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/auth"
	"github.com/yanizio/tenantdb/internal/health"
	"github.com/yanizio/tenantdb/internal/tenant/meta"
)

const closeBudget = 30 * time.Second

var errNotConfirmed = errors.New("confirmation did not match, nothing deleted")

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	actor string
	yes   bool

	open func(ctx context.Context) (backend, error)
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{in: in, out: out, errOut: errOut, open: openRegistry}
}

func openRegistry(ctx context.Context) (backend, error) {
	cfg, log, err := app.Boot(ctx)
	if err != nil {
		return nil, err
	}
	r, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return registryBackend{r: r}, nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "tenantctl"
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "tenantctl",
		Short:        "Manage per-tenant databases",
		Long:         "Provision, migrate, back up, and delete the databases behind each tenant.",
		SilenceUsage: true,
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().StringVar(&c.actor, "actor", defaultActor(), "Name recorded in the audit log")

	root.AddCommand(
		c.provisionCmd(),
		c.backupCmd(),
		c.deleteCmd(),
		c.migrateAllCmd(),
		c.masterMigrateCmd(),
		c.pingCmd(),
		c.statsCmd(),
		c.tokenCmd(),
	)
	return root
}

// run opens the backend, attaches the operator actor, runs fn, and always
// shuts the backend down.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeBudget)
		defer cancel()
		if cerr := b.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx = auth.WithOperator(ctx, c.actor)
	ctx = audit.WithActor(ctx, audit.Actor{ID: c.actor, Client: "tenantctl", UserAgent: "tenantctl"})
	return fn(ctx, b)
}

func (c *cli) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision <tenant-id>",
		Short: "Create and initialise the database of one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				if err := b.Provision(ctx, args[0]); err != nil {
					return err
				}
				rec, err := b.Tenant(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "provisioned %s: %s %s\n", rec.ID, deref(rec.DatabaseName), rec.DatabaseStatus)
				return nil
			})
		},
	}
}

func (c *cli) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <tenant-id>",
		Short: "Dump one tenant database to a timestamped SQL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				bk, err := b.Backup(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "backup %s: %s (%d bytes)\n", bk.TenantID, bk.Path, bk.Size)
				if bk.ObjectKey != "" {
					fmt.Fprintf(c.out, "uploaded: %s\n", bk.ObjectKey)
				}
				return nil
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Drop one tenant database (irreversible)",
		Long: "Terminates connections to the tenant database, drops it, and marks the tenant INACTIVE.\n" +
			"Asks for the tenant slug as confirmation unless --yes is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				rec, err := b.Tenant(ctx, args[0])
				if err != nil {
					return err
				}
				if !c.yes {
					if err := c.confirm(rec); err != nil {
						return err
					}
				}
				if err := b.Delete(ctx, rec.ID); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %s: %s dropped, tenant INACTIVE\n", rec.ID, deref(rec.DatabaseName))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&c.yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

func (c *cli) confirm(rec *meta.Record) error {
	fmt.Fprintf(c.out, "This drops database %s of tenant %s.  Type the tenant slug (%s) to confirm: ",
		deref(rec.DatabaseName), rec.ID, rec.Slug)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(line) != rec.Slug {
		return errNotConfirmed
	}
	return nil
}

func (c *cli) migrateAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-all",
		Short: "Push the current schema to every ACTIVE tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				rep, err := b.MigrateAll(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				for _, res := range rep.Results {
					if res.OK() {
						fmt.Fprintf(tw, "ok\t%s\t%s\t%s\n", res.Slug, res.TenantID, res.Took.Truncate(time.Millisecond))
						continue
					}
					fmt.Fprintf(tw, "FAILED\t%s\t%s\t%v\n", res.Slug, res.TenantID, res.Err)
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				ok := rep.Succeeded()
				fmt.Fprintf(c.out, "%d tenant(s), %d ok, %d failed\n", len(rep.Results), ok, len(rep.Results)-ok)
				if failed := len(rep.Results) - ok; failed > 0 {
					return fmt.Errorf("%d of %d tenant(s) failed", failed, len(rep.Results))
				}
				return nil
			})
		},
	}
}

func (c *cli) masterMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master-migrate",
		Short: "Apply pending migrations to the master database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				applied, err := b.MigrateMaster(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(c.out, "master schema up to date")
				}
				for _, m := range applied {
					fmt.Fprintln(c.out, "applied", m)
				}
				return nil
			})
		},
	}
}

func (c *cli) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [tenant-id]",
		Short: "Ping the master database, or one tenant database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				target, res := "master", health.Status{}
				if len(args) == 1 {
					target, res = args[0], b.PingTenant(ctx, args[0])
				} else {
					res = b.PingMaster(ctx)
				}
				if !res.Success {
					return fmt.Errorf("%s: %s", target, res.Message)
				}
				fmt.Fprintf(c.out, "%s: %s\n", target, res.Message)
				return nil
			})
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count tenants by database status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, b backend) error {
				counts, err := b.CountByStatus(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				for _, st := range statuses {
					fmt.Fprintf(tw, "%s\t%d\n", st, counts[st])
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token for the tenantd API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(_ context.Context, b backend) error {
				tok, err := b.IssueToken(subject, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", defaultActor(), "Operator name placed in the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
