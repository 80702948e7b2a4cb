package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"pricewatch/internal/alerting"
	"pricewatch/internal/chains"
	"pricewatch/internal/storage"
)

// SimulateAlert runs a synthetic price through the trigger rule and, when
// it fires, through the configured notifier. Nothing is persisted.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateAlertOptions) error {
	registry := a.newRegistry()
	if _, err := registry.HexCode(opts.Chain); err != nil {
		return err
	}
	address, err := chains.NormalizeAddress(opts.Address)
	if err != nil {
		return err
	}
	if !opts.Condition.Valid() {
		return fmt.Errorf("%w: condition must be above or below", alerting.ErrInvalidAlert)
	}

	alert := storage.UserPriceAlert{
		TokenAddress: address,
		Chain:        opts.Chain,
		TargetPrice:  opts.TargetPrice,
		Condition:    opts.Condition,
		UserEmail:    opts.Email,
	}

	if !alerting.Triggered(alert, opts.CurrentPrice) {
		fmt.Fprintf(os.Stdout, "alert would not trigger: price %s is not %s %s\n",
			opts.CurrentPrice.String(), opts.Condition, opts.TargetPrice.String())
		return nil
	}

	notifier := alerting.NewNotifier(a.Config.Notifier, a.Logger)
	note := alerting.UserAlertNotification{
		RecipientEmail: opts.Email,
		TokenAddress:   address,
		Chain:          opts.Chain,
		Condition:      opts.Condition,
		TargetPrice:    opts.TargetPrice,
		CurrentPrice:   opts.CurrentPrice,
		TriggeredAt:    time.Now().UTC(),
	}
	if err := notifier.SendUserPriceAlert(ctx, note); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "alert triggered and notification sent")
	return nil
}
