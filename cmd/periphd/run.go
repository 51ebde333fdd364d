package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/bond"
	"github.com/rigado/periph/config"
	"github.com/rigado/periph/gap"
	"github.com/rigado/periph/hci"
	"github.com/rigado/periph/hci/h4"
	"github.com/rigado/periph/hci/socket"
	"github.com/rigado/periph/services"
	"github.com/rigado/periph/sim"
	"github.com/rigado/periph/tinyble"
	"github.com/urfave/cli"
)

// socketWait covers bluetoothd releasing the controller at boot.
const socketWait = 60 * time.Second

func newTransport(cfg *config.Config, store *bond.Store, l periph.Logger) (periph.Transport, error) {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportSim:
		return sim.New(store, l), nil

	case config.TransportHCISocket:
		skt, err := socket.Open(t.HCIIndex, socketWait)
		if err != nil {
			return nil, err
		}
		return newHCI(skt, cfg, store, l)

	case config.TransportHCIUART:
		u, err := h4.Open(h4.DefaultOptions(t.UARTPath, t.BaudRate))
		if err != nil {
			return nil, err
		}
		return newHCI(u, cfg, store, l)

	case config.TransportTinyGo:
		return tinyble.NewDefault(cfg.Name), nil
	}
	return nil, errors.Errorf("unknown transport %q", t.Kind)
}

func newHCI(skt io.ReadWriteCloser, cfg *config.Config, store *bond.Store, l periph.Logger) (periph.Transport, error) {
	h, err := hci.NewHCI(skt, store, hci.OptLogger(l), hci.OptDeviceName(cfg.Name))
	if err != nil {
		skt.Close()
		return nil, err
	}
	return h, nil
}

// device is a brought-up controller and its collaborators.
type device struct {
	transport periph.Transport
	store     *bond.Store
	registry  *services.Registry
	ctrl      *gap.Controller
}

func newDevice(cfg *config.Config, t periph.Transport, store *bond.Store, l periph.Logger) (*device, error) {
	reg := services.Default()
	ctrl, err := gap.NewController(t, reg.UUIDs(),
		gap.OptLogger(l),
		gap.OptPersistence(store),
		gap.OptPairingTimeout(time.Duration(cfg.PairingTimeout)),
		gap.OptPhaseHandler(func(from, to gap.Phase) {
			l.Debugf("advertising %v -> %v", from, to)
		}),
	)
	if err != nil {
		return nil, err
	}

	d := &device{transport: t, store: store, registry: reg, ctrl: ctrl}
	if err := gap.NewSequencer(t, reg, store, ctrl, l).BringUp(); err != nil {
		return nil, err
	}
	return d, nil
}

func runCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := periph.GetLogger().ChildLogger(map[string]interface{}{"device": cfg.Name})

	store := bond.New(cfg.BondFile)
	t, err := newTransport(cfg, store, l)
	if err != nil {
		return errors.Wrap(err, "transport")
	}
	defer t.Close()

	d, err := newDevice(cfg, t, store, l)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Infof("running on %s transport", cfg.Transport.Kind)
	err = d.ctrl.Run(ctx, t.Events())
	if errors.Cause(err) == context.Canceled {
		l.Info("interrupted")
		return nil
	}
	return err
}
