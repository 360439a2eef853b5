package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/repository/postgres"
	"github.com/andresuchdata/stockcast/internal/service"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func pairFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:     "user",
			Usage:    "User id",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "product",
			Usage:    "Product id",
			Required: true,
		},
	}
}

func orderFlags(dateName string) []cli.Flag {
	return append(append([]cli.Flag{newDBURLFlag()}, pairFlags()...),
		&cli.StringFlag{
			Name:     "quantity",
			Usage:    "Quantity, up to two decimal places",
			Required: true,
		},
		&cli.StringFlag{
			Name:  dateName,
			Usage: "Date (YYYY-MM-DD), defaults to today in SCHEDULER_TIMEZONE",
		},
	)
}

func metricsFlags() []cli.Flag {
	return append(append([]cli.Flag{newDBURLFlag()}, pairFlags()...),
		&cli.StringFlag{
			Name:  "from",
			Usage: "First date (YYYY-MM-DD), defaults to today",
		},
		&cli.IntFlag{
			Name:  "days",
			Usage: "Number of days to show",
			Value: service.DefaultHorizonDays,
		},
	)
}

func newOrderService(c *cli.Context) (*service.OrderService, error) {
	db, err := dbFrom(c)
	if err != nil {
		return nil, err
	}
	cfg := config.Load()
	store := postgres.NewStore(db)
	return service.NewOrderService(store, store, newMetricsCache(cfg), cfg.Scheduler.Location()), nil
}

func parseQuantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidQuantity, s)
	}
	return q, nil
}

// optionalDate returns the zero time for an unset flag so the service picks
// today itself.
func optionalDate(c *cli.Context, name string) (time.Time, error) {
	if c.String(name) == "" {
		return time.Time{}, nil
	}
	return dateFlag(c, name)
}

func runBuy(c *cli.Context) error {
	qty, err := parseQuantity(c.String("quantity"))
	if err != nil {
		return err
	}
	orderDate, err := optionalDate(c, "order-date")
	if err != nil {
		return err
	}
	svc, err := newOrderService(c)
	if err != nil {
		return err
	}

	arrival, err := svc.Buy(c.Context, service.BuyRequest{
		UserID:    c.Int64("user"),
		ProductID: c.Int64("product"),
		Quantity:  qty,
		OrderDate: orderDate,
	})
	if err != nil {
		return orderError(err)
	}

	fmt.Fprintf(c.App.Writer, "ordered %s of product %d, arriving %s\n",
		arrival.Quantity.StringFixed(domain.QuantityPlaces), arrival.ProductID,
		arrival.ArrivalDate.Format(domain.DateLayout))
	return nil
}

func runSell(c *cli.Context) error {
	qty, err := parseQuantity(c.String("quantity"))
	if err != nil {
		return err
	}
	saleDate, err := optionalDate(c, "sale-date")
	if err != nil {
		return err
	}
	svc, err := newOrderService(c)
	if err != nil {
		return err
	}

	sale, err := svc.Sell(c.Context, service.SellRequest{
		UserID:    c.Int64("user"),
		ProductID: c.Int64("product"),
		Quantity:  qty,
		SaleDate:  saleDate,
	})
	if err != nil {
		return orderError(err)
	}

	fmt.Fprintf(c.App.Writer, "sold %s of product %d on %s\n",
		sale.Quantity.StringFixed(domain.QuantityPlaces), sale.ProductID,
		sale.SaleDate.Format(domain.DateLayout))
	return nil
}

// orderError turns rejected requests into a plain message with exit code 1;
// anything else is returned as is.
func orderError(err error) error {
	var stock *domain.InsufficientStockError
	var invalid *service.ValidationError
	switch {
	case errors.As(err, &stock), errors.As(err, &invalid),
		errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrNotFound):
		return cli.Exit(err.Error(), 1)
	}
	return err
}

func showMetrics(c *cli.Context) error {
	from, err := dateFlag(c, "from")
	if err != nil {
		return err
	}
	svc, err := newMetricsService(c)
	if err != nil {
		return err
	}

	rows, err := svc.GetHorizon(c.Context, c.Int64("user"), c.Int64("product"), from, c.Int("days"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tKIND\tSALES\tON HAND\tINCOMING\tFORECAST\tORDER PT\tPROJ OH\tSOQ\tPLANNED\t")
	for _, r := range rows {
		kind := "actual"
		if r.IsProjection {
			kind = "projection"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Date.Format(domain.DateLayout), kind,
			fixed(r.Sales), fixed(r.OnHand), fixed(r.Incoming), fixed(r.Forecast),
			fixed(r.OrderPoint), fixed(r.ProjectedOnHand), fixed(r.SOQ), fixed(r.PlannedArrival))
	}
	return w.Flush()
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(domain.QuantityPlaces)
}
