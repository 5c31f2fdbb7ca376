package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/custody"
	"github.com/Jovells/dchain/pkg/disclosure"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/ledger"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

const (
	demoSupplier    shipment.Address = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	demoRetailer    shipment.Address = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
	demoTransporter shipment.Address = "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
)

type demoStep struct {
	name string
	run  func(ctx context.Context) error
}

func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	sqlitePath := cmd.String("sqlite", "", "Persist the demo ledger to this SQLite file instead of memory")
	verbose := cmd.Bool("v", false, "Log engine activity to stderr")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var st store.Store = store.NewMemoryStore()
	if *sqlitePath != "" {
		s, err := store.OpenSQLite(ctx, *sqlitePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		st = s
	}
	defer st.Close()

	blobDir, err := os.MkdirTemp("", "dchain-demo-")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer os.RemoveAll(blobDir)
	blobs, err := disclosure.NewFileStore(blobDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	asset := custody.DefaultAsset
	cust := custody.NewMemory()
	broker := events.NewBroker()
	feed, unsubscribe := broker.Subscribe(64)
	defer unsubscribe()
	relay := events.NewRelay(st, []events.Publisher{broker})
	engine := ledger.New(st, cust, ledger.WithLogger(logger), ledger.WithCommitHook(relay.Notify))
	disclosures := disclosure.NewService(engine, blobs, nil)

	units := func(s string) uint64 {
		n, err := asset.Parse(s)
		if err != nil {
			panic(err)
		}
		return n
	}
	route := commitment.Route{Origin: "Boston", Destination: "Seattle"}
	routeCommitment, err := commitment.Commit(route)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	public := func(policy shipment.Policy) shipment.Draft {
		return shipment.Draft{
			Visibility:  shipment.VisibilityPublic,
			Origin:      "Boston",
			Destination: "Seattle",
			Transporter: demoTransporter,
			Retailer:    demoRetailer,
			Policy:      policy,
			Amount:      units("100"),
		}
	}
	create := func(d shipment.Draft) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := engine.CreateShipment(ctx, demoSupplier, d)
			return err
		}
	}

	steps := []demoStep{
		{"mint 1000 mUSDT to retailer", func(ctx context.Context) error {
			return cust.Mint(ctx, demoRetailer, units("1000"))
		}},
		{"mint 1000 mUSDT to supplier", func(ctx context.Context) error {
			return cust.Mint(ctx, demoSupplier, units("1000"))
		}},
		{"create shipment 1 (public, escrowed)", create(public(shipment.PolicyEscrowed))},
		{"create shipment 2 (public, prepaid)", create(public(shipment.PolicyPrepaid))},
		{"create shipment 3 (public, postpaid)", create(public(shipment.PolicyPostpaid))},
		{"create shipment 4 (private, escrowed)", create(shipment.Draft{
			Visibility:      shipment.VisibilityPrivate,
			RouteCommitment: routeCommitment,
			Transporter:     demoTransporter,
			Retailer:        demoRetailer,
			Policy:          shipment.PolicyEscrowed,
			Amount:          units("256"),
		})},
		{"retailer pays shipment 1 offering 300 mUSDT", func(ctx context.Context) error {
			return engine.HandlePayment(ctx, demoRetailer, 1, units("300"))
		}},
		{"transporter marks shipment 1 in transit", func(ctx context.Context) error {
			return engine.UpdateStatus(ctx, demoTransporter, 1, shipment.StatusInTransit)
		}},
		{"retailer releases payment 1", func(ctx context.Context) error {
			return engine.ReleasePayment(ctx, demoRetailer, 1)
		}},
		{"supplier discloses the route of shipment 4", func(ctx context.Context) error {
			_, err := disclosures.Disclose(ctx, demoSupplier, 4, route)
			return err
		}},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", step.name, err)
			return 1
		}
		fmt.Fprintf(stdout, "ok  %s\n", step.name)
	}
	if _, err := relay.Flush(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: relay: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "")
	if err := printShipments(ctx, stdout, engine, asset); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "")
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tADDRESS\tBALANCE")
	for _, acct := range []struct {
		name string
		addr shipment.Address
	}{{"supplier", demoSupplier}, {"retailer", demoRetailer}, {"transporter", demoTransporter}} {
		bal, err := cust.Balance(ctx, acct.addr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", acct.name, acct.addr, asset.Format(bal))
	}
	_ = tw.Flush()

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "EVENTS")
	for pending := len(feed); pending > 0; pending-- {
		e := <-feed
		fmt.Fprintf(stdout, "  #%d %-24s shipment=%d payment=%d %s\n", e.Seq, e.Type, e.ShipmentID, e.PaymentID, e.Status)
	}

	if r, err := disclosures.LookupShipment(ctx, 4); err == nil {
		fmt.Fprintf(stdout, "\nshipment 4 route (verified against %s): %s -> %s\n", routeCommitment, r.Origin, r.Destination)
	}
	return 0
}

func printShipments(ctx context.Context, w io.Writer, engine *ledger.Engine, asset custody.Asset) error {
	list, err := engine.ListShipments(ctx, store.Filter{})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVISIBILITY\tROUTE\tPOLICY\tAMOUNT\tSTATUS\tPAYMENT")
	for _, sh := range list {
		p, err := engine.PaymentForShipment(ctx, sh.ID)
		if err != nil {
			return err
		}
		route := sh.Origin + " -> " + sh.Destination
		if sh.Visibility == shipment.VisibilityPrivate {
			route = sh.RouteCommitment.Hex()[:18] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sh.ID, sh.Visibility, route, sh.Policy, asset.Format(sh.Amount), sh.Status, p.Status)
	}
	return tw.Flush()
}
