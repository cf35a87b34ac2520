package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/text/cases"

	"dealerchat/internal/domain"
	applog "dealerchat/internal/log"
)

// TopOffers is how many listings a query returns.
const TopOffers = 2

const (
	msgOffers          = "Ето налични автомобили, които отговарят на вашето търсене:"
	msgNoneForFilter   = "За съжаление, в момента няма налични автомобили, отговарящи на вашето търсене за '%s'."
	msgNone            = "За съжаление, в момента няма налични автомобили."
	msgFeedUnavailable = "Възникна грешка при извличането на данните за автомобили."
)

type SnapshotSource interface {
	GetSnapshot(ctx context.Context, now time.Time) (domain.CatalogSnapshot, error)
}

type InventoryService struct {
	Feed SnapshotSource
	Now  func() time.Time
}

func NewInventoryService(feed SnapshotSource) *InventoryService {
	return &InventoryService{Feed: feed, Now: time.Now}
}

type ranked struct {
	listing domain.Listing
	key     float64
}

// QueryTopOffers returns the cheapest in-stock listings whose model contains
// modelFilter (case-insensitive). Feed failures become a summary message; this
// method never returns an error to the conversation layer.
// The filter is used verbatim; only the empty string means "all models".
func (s *InventoryService) QueryTopOffers(ctx context.Context, modelFilter string) domain.QueryResult {
	snap, err := s.Feed.GetSnapshot(ctx, s.Now())
	if err != nil {
		applog.Error(nil, "inventory.feed.error", err, map[string]any{"filter": modelFilter})
		return domain.QueryResult{Summary: msgFeedUnavailable, Listings: []domain.Listing{}}
	}

	matches := snap.Listings
	if modelFilter != "" {
		fold := cases.Fold()
		needle := fold.String(modelFilter)
		matches = lo.Filter(matches, func(l domain.Listing, _ int) bool {
			return strings.Contains(fold.String(l.Model), needle)
		})
	}

	// rank keys live beside the listing; cached listings stay untouched
	keyed := lo.Map(matches, func(l domain.Listing, _ int) ranked {
		return ranked{listing: l, key: ParsePrice(l.PriceText)}
	})
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].key < keyed[j].key })
	top := lo.Map(keyed[:min(TopOffers, len(keyed))], func(r ranked, _ int) domain.Listing { return r.listing })

	applog.Info(nil, "inventory.query", map[string]any{"filter": modelFilter, "matched": len(matches), "returned": len(top)})

	if len(top) == 0 {
		if modelFilter != "" {
			return domain.QueryResult{Summary: fmt.Sprintf(msgNoneForFilter, modelFilter), Listings: top}
		}
		return domain.QueryResult{Summary: msgNone, Listings: top}
	}
	return domain.QueryResult{Summary: msgOffers, Listings: top}
}
