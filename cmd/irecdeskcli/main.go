package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/config"
	"github.com/verdantgrid/irecdesk/internal/ethaddr"
	"github.com/verdantgrid/irecdesk/internal/logging"
	"github.com/verdantgrid/irecdesk/internal/market"
	"github.com/verdantgrid/irecdesk/internal/namestore"
	"github.com/verdantgrid/irecdesk/internal/perm"
	"github.com/verdantgrid/irecdesk/internal/projects"
	"github.com/verdantgrid/irecdesk/internal/roles"
	"github.com/verdantgrid/irecdesk/internal/state"
	"github.com/verdantgrid/irecdesk/internal/txflow"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "irecdeskcli",
		Short:   "Operator CLI for the IREC certificate platform",
		Version: version,
	}
	rootCmd.AddCommand(newGrantCmd())
	rootCmd.AddCommand(newRevokeCmd())
	rootCmd.AddCommand(newProjectCmd())
	rootCmd.AddCommand(newMintCmd())
	rootCmd.AddCommand(newQuoteCmd())
	rootCmd.AddCommand(newAdminsCmd())
	return rootCmd
}

// desk bundles the wired core for one-shot commands.
type desk struct {
	cfg       config.Settings
	actor     string
	pipeline  *txflow.Pipeline
	refresher *state.Refresher
	store     *state.Store
	guard     *txflow.Guard
	engine    perm.Engine
	names     *namestore.Store
}

func openDesk(ctx context.Context) (*desk, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging)

	key := cfg.Chain.SignerKeyHex
	if key == "" {
		if key, err = promptKey(); err != nil {
			return nil, err
		}
	}
	signer, err := chain.NewKeySigner(key)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	actor, _ := signer.Account()

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	names, err := namestore.Open(cfg.Store.SQLitePath, logger)
	if err != nil {
		return nil, err
	}

	engine := perm.Engine{InitialSuperAdmin: cfg.InitialSuperAdminAddr()}
	d := &desk{
		cfg:    cfg,
		actor:  actor.Hex(),
		engine: engine,
		store:  state.NewStore(cfg.Market.RefreshPerMinute),
		guard:  txflow.NewGuard(),
		names:  names,
		refresher: &state.Refresher{
			Reader:   client.Backend,
			Registry: common.HexToAddress(cfg.Chain.RegistryAddress),
			Market:   common.HexToAddress(cfg.Chain.MarketAddress),
			Perm:     engine,
			Names:    names,
			Logger:   logger,
		},
		pipeline: &txflow.Pipeline{
			Submitter: &txflow.Submitter{
				Backend:      client.Backend,
				RPC:          client.RPC,
				ChainID:      client.ChainID,
				Source:       func() (chain.Signer, error) { return signer, nil },
				TipGwei:      cfg.Tx.TipGwei,
				BasefeeMul:   cfg.Tx.BasefeeMul,
				GasBufferPct: cfg.Tx.GasBufferPct,
				Logger:       logger,
			},
			Tracker: &txflow.Tracker{Reader: client.Backend, Logger: logger},
			Opts: txflow.TrackOptions{
				Confirmations: cfg.Tx.Confirmations,
				PollInterval:  cfg.Tx.PollInterval,
				Timeout:       cfg.Tx.ReceiptTimeout,
			},
			Logger: logger,
		},
	}
	return d, nil
}

func (d *desk) rolesOrchestrator() *roles.Orchestrator {
	return &roles.Orchestrator{
		Perm: d.engine, Pipeline: d.pipeline, Refresher: d.refresher,
		Store: d.store, Guard: d.guard, Names: d.names,
		Registry: common.HexToAddress(d.cfg.Chain.RegistryAddress),
	}
}

func (d *desk) projectsOrchestrator() *projects.Orchestrator {
	return &projects.Orchestrator{
		Perm: d.engine, Pipeline: d.pipeline, Refresher: d.refresher,
		Store: d.store, Guard: d.guard,
		Registry: common.HexToAddress(d.cfg.Chain.RegistryAddress),
	}
}

func promptKey() (string, error) {
	fmt.Fprint(os.Stderr, "signer private key (hex): ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", fmt.Errorf("no signer key provided")
	}
	return key, nil
}

func printOutcome(out txflow.Outcome) {
	fmt.Printf("status:  %s\n", out.Status)
	if out.Submitted && out.Hash != nil {
		fmt.Printf("tx:      %s\n", out.Hash.Hex())
	}
	if out.RevertReason != "" {
		fmt.Printf("reason:  %s\n", out.RevertReason)
	}
	if out.Message != "" && out.Message != out.RevertReason {
		fmt.Printf("message: %s\n", out.Message)
	}
}

func newGrantCmd() *cobra.Command {
	var address, name, tier string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant an admin or super-admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDesk(cmd.Context())
			if err != nil {
				return err
			}
			res, err := d.rolesOrchestrator().Grant(cmd.Context(), roles.GrantRequest{
				Actor:       d.actor,
				Address:     address,
				DisplayName: name,
				Tier:        roles.Tier(tier),
			})
			if err != nil {
				return err
			}
			printOutcome(res.Outcome)
			for _, a := range res.Admins {
				fmt.Printf("%-44s admin=%-5v super=%-5v %s\n", a.Address, a.IsAdmin, a.IsSuperAdmin, a.DisplayName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address to grant")
	cmd.Flags().StringVar(&name, "name", "", "display name for the admin list")
	cmd.Flags().StringVar(&tier, "tier", string(roles.TierAdmin), "admin or super_admin")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	var address, tier string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an admin or super-admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDesk(cmd.Context())
			if err != nil {
				return err
			}
			res, err := d.rolesOrchestrator().Revoke(cmd.Context(), roles.RevokeRequest{
				Actor:   d.actor,
				Address: address,
				Tier:    roles.Tier(tier),
			})
			if err != nil {
				return err
			}
			printOutcome(res.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address to revoke")
	cmd.Flags().StringVar(&tier, "tier", string(roles.TierAdmin), "admin or super_admin")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Approve, revoke or remove projects",
	}
	for _, op := range []string{"approve", "revoke", "remove"} {
		op := op
		var project string
		sub := &cobra.Command{
			Use:   op,
			Short: op + " a project",
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := openDesk(cmd.Context())
				if err != nil {
					return err
				}
				orch := d.projectsOrchestrator()
				var res projects.Result
				switch op {
				case "approve":
					res, err = orch.Approve(cmd.Context(), d.actor, project)
				case "revoke":
					res, err = orch.Revoke(cmd.Context(), d.actor, project)
				default:
					res, err = orch.Remove(cmd.Context(), d.actor, project)
				}
				if err != nil {
					return err
				}
				printOutcome(res.Outcome)
				return nil
			},
		}
		sub.Flags().StringVar(&project, "project", "", "project address")
		_ = sub.MarkFlagRequired("project")
		cmd.AddCommand(sub)
	}
	return cmd
}

func newMintCmd() *cobra.Command {
	var project, uri string
	var energy uint64
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a certificate against an approved project",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDesk(cmd.Context())
			if err != nil {
				return err
			}
			out, err := d.projectsOrchestrator().Mint(cmd.Context(), projects.MintRequest{
				Actor:          d.actor,
				ProjectAddress: project,
				MetadataURI:    uri,
				EnergyAmount:   energy,
			})
			if err != nil {
				return err
			}
			printOutcome(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project address")
	cmd.Flags().StringVar(&uri, "uri", "", "certificate metadata URI")
	cmd.Flags().Uint64Var(&energy, "energy", 0, "energy amount represented by the certificate")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("uri")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	var listingID, amount uint64
	var fractional bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the payment owed for a purchase (dry run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDesk(cmd.Context())
			if err != nil {
				return err
			}
			listing, err := d.refresher.Listing(cmd.Context(), listingID)
			if err != nil {
				return err
			}
			q, err := market.ComputeQuote(listing, fractional, amount, d.cfg.Market.PlatformFeeBps)
			if err != nil {
				return err
			}
			if q.Fractional {
				fmt.Printf("tokens:        %d of %d\n", q.Amount, q.TokenCount)
				fmt.Printf("per token:     %s\n", q.PricePerToken.String())
			}
			fmt.Printf("item cost:     %s\n", q.ItemCost.String())
			fmt.Printf("platform fee:  %s\n", q.Fee.RatString())
			fmt.Printf("total owed:    %s\n", q.Total.RatString())
			fmt.Printf("payable:       %s\n", q.Payable.String())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&listingID, "listing", 0, "listing id")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "fraction count (fractional purchases)")
	cmd.Flags().BoolVar(&fractional, "fractional", false, "quote a fractional purchase")
	_ = cmd.MarkFlagRequired("listing")
	return cmd
}

func newAdminsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admins",
		Short: "List admins ordered by privilege",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDesk(cmd.Context())
			if err != nil {
				return err
			}
			admins, err := d.refresher.Admins(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range admins {
				tag := ""
				if a.IsInitialSuperAdmin {
					tag = " (initial)"
				}
				fmt.Printf("%-44s admin=%-5v super=%-5v %s%s\n",
					ethaddr.Shorten(a.Address), a.IsAdmin, a.IsSuperAdmin, a.DisplayName, tag)
			}
			return nil
		},
	}
}
