// Binary mklisting creates a new eBay auction listing for an artifact, a
// one-shot helper for seeding the marketplace side of a synced pair.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HosicoStarChild/artifacte-seeker/internal/platform"
)

func main() {
	var (
		title       = flag.String("title", "", "listing title")
		description = flag.String("description", "", "listing description")
		startPrice  = flag.Float64("start-price", 0, "starting price in USD")
		duration    = flag.Int("duration", 7, "listing duration in days")
		images      = flag.String("images", "", "comma-separated picture URLs")
		sandbox     = flag.Bool("sandbox", true, "use the eBay sandbox")
	)
	flag.Parse()

	if *title == "" || *startPrice <= 0 {
		log.Fatal("usage: mklisting -title ... -start-price ... [-description ...] [-images url,url]")
	}

	creds, err := platform.EbayCredentialsFromEnv()
	if err != nil {
		log.Fatalf("credentials: %v", err)
	}
	client := platform.NewEbayClient(creds, *sandbox, "0", zerolog.Nop())

	var pictureURLs []string
	for _, u := range strings.Split(*images, ",") {
		if u = strings.TrimSpace(u); u != "" {
			pictureURLs = append(pictureURLs, u)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	itemID, err := client.CreateListing(ctx, *title, *description, *startPrice, *duration, pictureURLs)
	if err != nil {
		log.Fatalf("create listing: %v", err)
	}
	log.Printf("listing created: %s", itemID)
}
