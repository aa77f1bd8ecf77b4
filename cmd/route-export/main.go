package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kr/pretty"

	"github.com/dpup/hud.ersn.net/client/internal/clients/google"
	"github.com/dpup/hud.ersn.net/client/internal/clients/osrm"
	"github.com/dpup/hud.ersn.net/client/internal/config"
	"github.com/dpup/hud.ersn.net/client/internal/export"
	"github.com/dpup/hud.ersn.net/client/internal/lib/geo"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (provider settings)")
		originStr  = flag.String("origin", "38.067400,-120.540200", "Origin coordinates (lat,lon)")
		destStr    = flag.String("dest", "38.139117,-120.456111", "Destination coordinates (lat,lon)")
		format     = flag.String("format", "kml", "Output format: kml or geojson")
		dump       = flag.Bool("dump", false, "Print the normalised route structure instead of exporting")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Route Export Tool\n\n")
		fmt.Printf("Fetches a route from the configured provider and writes it as KML or GeoJSON.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s > route.kml\n", os.Args[0])
		fmt.Printf("  %s -format=geojson -origin=\"38.0674,-120.5402\" -dest=\"38.2458,-120.3486\"\n", os.Args[0])
		fmt.Printf("  HUD__ROUTING__PROVIDER=google HUD__ROUTING__GOOGLE_API_KEY=key %s -dump\n", os.Args[0])
		return
	}

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	origin, err := parsePoint(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin: %v", err)
	}
	destination, err := parsePoint(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination: %v", err)
	}

	var provider route.Provider
	switch appConfig.Routing.Provider {
	case "google":
		provider, err = google.NewClient(appConfig.Routing.GoogleAPIKey)
		if err != nil {
			log.Fatalf("Failed to create Google Directions client: %v", err)
		}
	default:
		provider = osrm.NewClient(appConfig.Routing.OSRMURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Printf("Requesting %s route from %s to %s via %s", appConfig.Routing.Profile, origin, destination, appConfig.Routing.Provider)
	r, err := provider.Route(ctx, origin, destination, route.Profile(appConfig.Routing.Profile))
	if err != nil {
		log.Fatalf("Route request failed: %v", err)
	}

	if *dump {
		fmt.Printf("%# v\n", pretty.Formatter(r))
		return
	}

	switch *format {
	case "kml":
		name := fmt.Sprintf("%s to %s", origin, destination)
		if err := export.KML(r, name).WriteIndent(os.Stdout, "", "  "); err != nil {
			log.Fatalf("Failed to write KML: %v", err)
		}
	case "geojson":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export.GeoJSON(r)); err != nil {
			log.Fatalf("Failed to write GeoJSON: %v", err)
		}
	default:
		log.Fatalf("Unknown format %q", *format)
	}
}

func parsePoint(s string) (geo.Point, error) {
	var lat, lon float64
	if _, err := fmt.Sscanf(s, "%f,%f", &lat, &lon); err != nil {
		return geo.Point{}, fmt.Errorf("expected lat,lon: %w", err)
	}
	return geo.NewPoint(lat, lon)
}
