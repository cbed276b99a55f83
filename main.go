package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/crdoc/doc"
	"github.com/kevinxiao27/crdoc/internal/config"
	"github.com/kevinxiao27/crdoc/internal/sim"
	"github.com/kevinxiao27/crdoc/ol"
)

func main() {
	cfg, err := config.Load(os.Getenv("CRDOC_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("demo failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	litter.Config.HidePrivateFields = true

	a, err := doc.New(cfg.PeerID(), cfg.DocumentOptions(logger)...)
	if err != nil {
		return err
	}
	z, err := doc.New(ol.NewPeerID(), cfg.DocumentOptions(logger)...)
	if err != nil {
		return err
	}

	if _, err := a.Text("body").Insert(0, "hi"); err != nil {
		return err
	}
	if _, err := z.Text("body").Insert(0, "yoooo"); err != nil {
		return err
	}
	if _, err := a.Map("meta").Set("title", "greeting"); err != nil {
		return err
	}
	if _, err := z.Map("meta").Set("title", "shout"); err != nil {
		return err
	}
	root, err := a.Tree("outline").Create(ol.ID{}, 0)
	if err != nil {
		return err
	}
	if _, err := a.Tree("outline").SetMeta(root, "label", "intro"); err != nil {
		return err
	}

	if err := exchange(a, z); err != nil {
		return err
	}
	if err := exchange(z, a); err != nil {
		return err
	}

	r1, r2 := a.Text("body").String(), z.Text("body").String()
	fmt.Printf("Result a: '%s'\n", r1)
	fmt.Printf("Result z: '%s'\n", r2)
	if r1 == r2 {
		fmt.Println("Texts match")
	} else {
		fmt.Println("Texts differ")
	}
	title, _ := a.Map("meta").Get("title")
	fmt.Printf("Title: %v\n", title)
	litter.Dump(a.Tree("outline").Nodes())

	snap, err := a.ExportSnapshot()
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot: %d bytes\n", len(snap))
	fmt.Println(a.Dump())

	report, err := sim.Run(context.Background(), cfg.SimConfig(logger))
	if err != nil {
		return err
	}
	fmt.Printf("Simulation: %d replicas, %d ops, %d buffered, %d collected\n",
		report.Replicas, report.Ops, report.Buffered, report.Collected)
	return nil
}

// exchange sends to everything from has that to lacks.
func exchange(to, from *doc.Document) error {
	delta, err := from.ExportDelta(to.VersionVector())
	if err != nil {
		return err
	}
	_, err = to.ApplyRemoteDelta(delta)
	return err
}
