package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/alerting"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// CreateAlertOptions configure a new target-price alert.
type CreateAlertOptions struct {
	Chain       string
	Address     string
	TargetPrice decimal.Decimal
	Condition   storage.AlertCondition
	Email       string
}

// ListAlertsOptions configure the alert listing.
type ListAlertsOptions struct {
	Email string
	Page  int
	Limit int
}

func (a *App) newAlertService(ctx context.Context) (*alerting.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	cacheStore, closeCache := a.newCache()
	registry := a.newRegistry()
	client := a.newProvider(registry)
	trk := tracker.NewService(a.Config, client, store, store, cacheStore, a.Logger)

	svc := alerting.NewService(a.Config, store, trk, registry, a.Logger)
	closer := func() {
		trk.Close()
		closeCache()
		closeStore()
	}
	return svc, closer, nil
}

// CreateAlert registers a target-price alert for a user.
func (a *App) CreateAlert(ctx context.Context, opts CreateAlertOptions) error {
	svc, closer, err := a.newAlertService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	alert, err := svc.CreateUserAlert(ctx, alerting.CreateAlertRequest{
		Chain:        opts.Chain,
		TokenAddress: opts.Address,
		TargetPrice:  opts.TargetPrice,
		Condition:    opts.Condition,
		UserEmail:    opts.Email,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "alert %d created: %s %s %s USD for %s\n",
		alert.ID, alert.TokenAddress, alert.Condition, alert.TargetPrice.String(), alert.UserEmail)
	return nil
}

// ListAlerts prints a user's alerts, newest first.
func (a *App) ListAlerts(ctx context.Context, opts ListAlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListUserAlertsByEmail(ctx, opts.Email, opts.Page, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tToken\tChain\tCondition\tTarget USD\tActive\tCreated (UTC)")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			alert.ID,
			alert.TokenAddress,
			alert.Chain,
			alert.Condition,
			alert.TargetPrice.String(),
			alert.Active,
			alert.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

// DisableAlert deactivates an alert by id.
func (a *App) DisableAlert(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	claimed, err := store.DeactivateUserAlert(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		fmt.Fprintf(os.Stdout, "alert %d was already inactive or does not exist\n", id)
		return nil
	}
	fmt.Fprintf(os.Stdout, "alert %d deactivated\n", id)
	return nil
}
