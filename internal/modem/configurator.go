package modem

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// Configurator issues the ordered directive sequences the connectivity flow
// needs: radio initialisation, NTN pre-attach configuration and power-saving
// parameters.
type Configurator struct {
	radio    Radio
	phase    config.IntegrationPhase
	radioCfg config.RadioConfig
	power    config.PowerConfig
	log      logging.Logger
}

// NewConfigurator returns a Configurator issuing directives through radio.
func NewConfigurator(radio Radio, cfg config.Config, log logging.Logger) *Configurator {
	if log == nil {
		log = logging.Noop()
	}
	return &Configurator{
		radio:    radio,
		phase:    cfg.Phase,
		radioCfg: cfg.Radio,
		power:    cfg.Power,
		log:      log.With(logging.String("component", "configurator")),
	}
}

// Radio returns the underlying radio.
func (c *Configurator) Radio() Radio { return c.radio }

// Initialise enables network registration reporting.
func (c *Configurator) Initialise(ctx context.Context) error {
	if _, err := c.radio.Execute(ctx, RegistrationReports()); err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	return nil
}

// PreAttach issues the NTN pre-configuration in order: bypass-auth, band
// lock, channel select, NTN features, assisted position (only with a valid
// fix, failure logged) and network selection. Any other failure aborts with
// model.ErrConfigurationFailure. In terrestrial mode it does nothing.
func (c *Configurator) PreAttach(ctx context.Context, pos model.Position) error {
	if c.phase == config.PhaseTN {
		return nil
	}
	required := []Directive{
		BypassAuth(),
		BandLock(c.radioCfg.BandMask),
		ChannelSelect(c.radioCfg.ChannelSelect),
		NTNFeature(c.radioCfg.NTNFeature),
	}
	for _, d := range required {
		if _, err := c.radio.Execute(ctx, d); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrConfigurationFailure, d.Name, err)
		}
	}
	if pos.Valid {
		if _, err := c.radio.Execute(ctx, AssistPosition(pos)); err != nil {
			c.log.Warn(ctx, "assisted position rejected", logging.Err(err))
		}
	}
	sel := NetworkSelect(c.radioCfg.PLMN)
	if _, err := c.radio.Execute(ctx, sel); err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrConfigurationFailure, sel.Name, err)
	}
	c.log.Info(ctx, "ntn pre-configuration applied", logging.String("plmn", c.radioCfg.PLMN))
	return nil
}

// PowerSaving sets PSM timers, which must succeed, then eDRX, whose failure
// is only logged.
func (c *Configurator) PowerSaving(ctx context.Context) error {
	if _, err := c.radio.Execute(ctx, PowerSaving(c.power.PeriodicTAU, c.power.ActiveTime)); err != nil {
		return fmt.Errorf("power saving: %w", err)
	}
	if _, err := c.radio.Execute(ctx, ExtendedDRX(c.power.EDRXCycle)); err != nil {
		c.log.Warn(ctx, "eDRX not applied", logging.Err(err))
	}
	return nil
}

// Reapply restores the full radio configuration after a reinitialisation.
func (c *Configurator) Reapply(ctx context.Context, pos model.Position) error {
	if err := c.Initialise(ctx); err != nil {
		return err
	}
	if err := c.PreAttach(ctx, pos); err != nil {
		return err
	}
	return c.PowerSaving(ctx)
}
