package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/paulmach/orb"

	"github.com/dpup/hud.ersn.net/client/internal/lanecoverage"
)

func main() {
	var (
		pbfPath = flag.String("pbf", "", "Path to an OSM .osm.pbf extract (required)")
		bbox    = flag.String("bbox", "-120.70,37.95,-120.30,38.30", "Bounding box minLon,minLat,maxLon,maxLat")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *pbfPath == "" {
		fmt.Printf("Lane Coverage Tool\n\n")
		fmt.Printf("Reports how many drivable roads in an area carry turn:lanes tags.\n\n")
		fmt.Printf("Usage: %s -pbf=extract.osm.pbf [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		if !*help {
			os.Exit(2)
		}
		return
	}

	bound, err := parseBound(*bbox)
	if err != nil {
		log.Fatalf("Invalid bbox: %v", err)
	}

	f, err := os.Open(*pbfPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *pbfPath, err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Scanning %s within %v..%v", *pbfPath, bound.Min, bound.Max)
	report, err := lanecoverage.Scan(ctx, f, bound)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	fmt.Printf("Drivable ways:   %d\n", report.Ways)
	fmt.Printf("With turn:lanes: %d (%.1f%%)\n", report.WithLanes, report.Coverage()*100)
	fmt.Printf("Lanes described: %d\n\n", report.Lanes)
	fmt.Printf("%-16s %8s %8s %8s\n", "HIGHWAY", "WAYS", "LANES", "COVER")
	for _, h := range report.Highways() {
		fmt.Printf("%-16s %8d %8d %7.1f%%\n", h.Highway, h.Ways, h.WithLanes, h.Coverage()*100)
	}
}

func parseBound(s string) (orb.Bound, error) {
	var minLon, minLat, maxLon, maxLat float64
	if _, err := fmt.Sscanf(s, "%f,%f,%f,%f", &minLon, &minLat, &maxLon, &maxLat); err != nil {
		return orb.Bound{}, fmt.Errorf("expected minLon,minLat,maxLon,maxLat: %w", err)
	}
	if minLon >= maxLon || minLat >= maxLat {
		return orb.Bound{}, fmt.Errorf("min corner must be south-west of max corner")
	}
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}, nil
}
