package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/bond"
	"github.com/urfave/cli"
)

func openStore(c *cli.Context) (*bond.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	s := bond.New(cfg.BondFile)
	if err := s.Load(); err != nil {
		return nil, errors.Wrapf(err, "load %s", cfg.BondFile)
	}
	return s, nil
}

func bondsListCmd(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTYPE\tAUTHENTICATED\tLEGACY")
	for _, e := range s.List() {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", e.Addr.MAC, e.Addr.Type, e.Info.Authenticated, e.Info.Legacy)
	}
	return w.Flush()
}

// bondsDeleteCmd removes the bond of a MAC. Without a type argument every
// bond with that MAC is removed.
func bondsDeleteCmd(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("missing address", 2)
	}
	mac := strings.ToLower(c.Args().Get(0))

	s, err := openStore(c)
	if err != nil {
		return err
	}

	var targets []periph.Addr
	switch c.Args().Get(1) {
	case "":
		for _, e := range s.List() {
			if e.Addr.MAC == mac {
				targets = append(targets, e.Addr)
			}
		}
	case "public":
		targets = append(targets, periph.NewAddr(mac, periph.AddrPublic))
	case "random":
		targets = append(targets, periph.NewAddr(mac, periph.AddrRandom))
	default:
		return cli.NewExitError(fmt.Sprintf("unknown address type %q", c.Args().Get(1)), 2)
	}
	if len(targets) == 0 {
		return errors.Wrapf(bond.ErrNotFound, "%s", mac)
	}

	for _, a := range targets {
		if err := s.Delete(a); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", a)
	}
	return nil
}
