package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/adilzhan/dealsync/internal/excel"
	"github.com/adilzhan/dealsync/internal/model"
)

// ReportService builds the material-flow workbook from the cache.
type ReportService struct {
	deals     DealStore
	generator *excel.Generator
	log       zerolog.Logger
}

func NewReportService(deals DealStore, generator *excel.Generator, log zerolog.Logger) *ReportService {
	return &ReportService{
		deals:     deals,
		generator: generator,
		log:       log.With().Str("component", "report").Logger(),
	}
}

// MaterialReport exports all cached deals grouped by city.
func (s *ReportService) MaterialReport(ctx context.Context, principal model.Principal) ([]byte, error) {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	deals, err := s.deals.ListDealsWithProducts(ctx, nil)
	if err != nil {
		return nil, err
	}

	byCity := make(map[string][]model.DealWithProducts)
	for _, deal := range deals {
		byCity[deal.City] = append(byCity[deal.City], deal)
	}

	cities := make([]string, 0, len(byCity))
	for city := range byCity {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	report := excel.Report{GeneratedAt: time.Now()}
	for _, city := range cities {
		report.Groups = append(report.Groups, excel.CityGroup{City: city, Deals: byCity[city]})
	}

	s.log.Info().Int("deals", len(deals)).Int("cities", len(cities)).Msg("material report generated")
	return s.generator.Generate(report)
}
