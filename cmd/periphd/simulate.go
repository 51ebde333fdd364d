package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/bond"
	"github.com/rigado/periph/gap"
	"github.com/rigado/periph/sim"
	"github.com/urfave/cli"
)

const (
	simStepTimeout = 2 * time.Second
	simHost        = "c0:11:22:33:44:55"
)

// waitFor polls the controller until cond holds.
func waitFor(ctx context.Context, ctrl *gap.Controller, what string, cond func(gap.Snapshot) bool) (gap.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, simStepTimeout)
	defer cancel()

	tk := time.NewTicker(10 * time.Millisecond)
	defer tk.Stop()
	for {
		s := ctrl.Snapshot()
		if cond(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, errors.Wrapf(ctx.Err(), "waiting for %s", what)
		case <-tk.C:
		}
	}
}

func describe(s gap.Snapshot) string {
	out := fmt.Sprintf("advertising %v", s.Phase)
	if s.Conn != nil {
		out += fmt.Sprintf(", link %v at %v", s.Conn.State, s.Conn.Level)
	}
	if s.Session != nil {
		out += fmt.Sprintf(", pairing %v bonded %v", s.Session.State, s.Session.Bonded)
	}
	return out
}

func simulateCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := periph.GetLogger().ChildLogger(map[string]interface{}{"device": cfg.Name})

	dir, err := os.MkdirTemp("", "periphd-sim")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store := bond.New(filepath.Join(dir, "bonds.json"))
	t := sim.New(store, l)
	defer t.Close()

	d, err := newDevice(cfg, t, store, l)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.ctrl.Run(ctx, t.Events())

	host, err := sim.NewPeer(periph.NewAddr(simHost, periph.AddrRandom), c.Bool("bond"))
	if err != nil {
		return err
	}

	uu, err := t.AdvertisedServices()
	if err != nil {
		return err
	}
	fmt.Printf("host sees %q advertising %v\n", cfg.Name, uu)

	if err := t.Connect(host); err != nil {
		return err
	}
	passkey, err := t.WaitPasskey(ctx)
	if err != nil {
		return err
	}
	typed := passkey
	if c.Bool("wrong-passkey") {
		typed = (passkey + 1) % 1000000
	}
	fmt.Printf("device shows %06d, host types %06d\n", passkey, typed)
	if err := t.EnterPasskey(typed); err != nil {
		fmt.Printf("pairing failed: %v\n", err)
	}

	s, err := waitFor(ctx, d.ctrl, "pairing result", func(s gap.Snapshot) bool {
		return s.Session != nil && s.Session.State.Terminal()
	})
	fmt.Println(describe(s))
	if err != nil {
		return err
	}

	if err := t.Disconnect(0x13); err != nil {
		return err
	}
	s, err = waitFor(ctx, d.ctrl, "advertising restart", func(s gap.Snapshot) bool {
		return s.Conn == nil && s.Phase == gap.PhaseActive
	})
	fmt.Println(describe(s))
	if err != nil {
		return err
	}

	if !store.Exists(host.Addr) {
		fmt.Println("no bond retained, done")
		return nil
	}

	if err := t.Connect(host); err != nil {
		return err
	}
	s, err = waitFor(ctx, d.ctrl, "bonded reconnect", func(s gap.Snapshot) bool {
		return s.Conn != nil && s.Conn.State == gap.ConnSecured
	})
	fmt.Println(describe(s))
	if err != nil {
		return err
	}
	fmt.Println("reconnected with the stored key, no passkey needed")
	return nil
}
