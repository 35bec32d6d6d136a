package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/adilzhan/dealsync/internal/model"
)

// CityGroup is one city's slice of the cached deals.
type CityGroup struct {
	City  string
	Deals []model.DealWithProducts
}

// Report is the material-flow export: a summary sheet plus one detail
// sheet per city.
type Report struct {
	GeneratedAt time.Time
	Groups      []CityGroup
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(report Report) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Сводка"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, report); err != nil {
		return nil, err
	}

	usedNames := map[string]struct{}{summarySheet: {}}
	for _, group := range report.Groups {
		sheetName := buildSheetName(group.City, usedNames)
		usedNames[sheetName] = struct{}{}

		file.NewSheet(sheetName)
		if err := g.writeDetail(file, sheetName, group); err != nil {
			return nil, err
		}
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, report Report) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Тип отчета")
	set("B1", "Движение материалов")
	set("A2", "Сформирован")
	set("B2", formatDateTime(report.GeneratedAt))
	set("A3", "Количество сделок")
	set("B3", countDeals(report))

	tableRow := 5
	set(fmt.Sprintf("A%d", tableRow), "Город")
	set(fmt.Sprintf("B%d", tableRow), "Сделок")
	set(fmt.Sprintf("C%d", tableRow), "Сумма услуг")

	for i, group := range report.Groups {
		row := tableRow + 1 + i
		set(fmt.Sprintf("A%d", row), cityLabel(group.City))
		set(fmt.Sprintf("B%d", row), len(group.Deals))
		set(fmt.Sprintf("C%d", row), fmt.Sprintf("%.2f", sumServicePrice(group)))
	}

	_ = file.SetColWidth(sheet, "A", "A", 32)
	_ = file.SetColWidth(sheet, "B", "B", 16)
	_ = file.SetColWidth(sheet, "C", "C", 16)
	return nil
}

func (g *Generator) writeDetail(file *excelize.File, sheet string, group CityGroup) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Город")
	set("B1", cityLabel(group.City))
	set("A2", "Сделок")
	set("B2", len(group.Deals))

	tableRow := 4
	headers := []string{
		"Сделка",
		"Дата",
		"Материал",
		"Выдано",
		"Факт",
		"Остаток",
		"Цена",
		"Статус",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, tableRow)
		set(cell, header)
	}

	row := tableRow + 1
	for _, deal := range group.Deals {
		status := dealStatus(deal.Deal)
		if len(deal.Products) == 0 {
			set(fmt.Sprintf("A%d", row), deal.Title)
			set(fmt.Sprintf("B%d", row), formatDate(deal.DateCreate))
			set(fmt.Sprintf("H%d", row), status)
			row++
			continue
		}
		for _, product := range deal.Products {
			set(fmt.Sprintf("A%d", row), deal.Title)
			set(fmt.Sprintf("B%d", row), formatDate(deal.DateCreate))
			set(fmt.Sprintf("C%d", row), product.Name)
			set(fmt.Sprintf("D%d", row), product.GivenAmount)
			set(fmt.Sprintf("E%d", row), formatFloat(product.FactAmount))
			set(fmt.Sprintf("F%d", row), formatFloat(product.Total))
			set(fmt.Sprintf("G%d", row), fmt.Sprintf("%.2f", product.Price))
			set(fmt.Sprintf("H%d", row), status)
			row++
		}
	}

	_ = file.SetColWidth(sheet, "A", "A", 40)
	_ = file.SetColWidth(sheet, "B", "B", 14)
	_ = file.SetColWidth(sheet, "C", "C", 32)
	_ = file.SetColWidth(sheet, "D", "G", 12)
	_ = file.SetColWidth(sheet, "H", "H", 22)
	return nil
}

func dealStatus(deal model.Deal) string {
	switch {
	case deal.Failed:
		return "Не выполнено"
	case deal.Approved:
		return "Принято"
	case deal.AmountMismatch:
		return "Расхождение по материалам"
	case deal.Conducted:
		return "Выполнено"
	case deal.Moved:
		return "Выдано"
	default:
		return "Ожидает выдачи"
	}
}

func cityLabel(city string) string {
	if strings.TrimSpace(city) == "" {
		return "Без города"
	}
	return city
}

// Sheet names are capped at 31 characters; the cities are Cyrillic, so
// the cap counts runes, not bytes.
const sheetNameLimit = 31

func buildSheetName(city string, used map[string]struct{}) string {
	base := truncateRunes(sanitizeSheetName(cityLabel(city)), sheetNameLimit)

	nameCandidate := base
	counter := 2
	for {
		if _, exists := used[nameCandidate]; !exists {
			return nameCandidate
		}
		suffix := fmt.Sprintf("-%d", counter)
		nameCandidate = truncateRunes(base, sheetNameLimit-len(suffix)) + suffix
		counter++
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func sanitizeSheetName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "Лист"
	}

	replacer := strings.NewReplacer(
		"[", "-",
		"]", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"/", "-",
		"\\", "-",
	)
	value = replacer.Replace(value)
	value = strings.TrimSpace(value)
	if value == "" {
		return "Лист"
	}
	return value
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *value)
}

func countDeals(report Report) int {
	total := 0
	for _, group := range report.Groups {
		total += len(group.Deals)
	}
	return total
}

func sumServicePrice(group CityGroup) float64 {
	total := 0.0
	for _, deal := range group.Deals {
		if deal.ServicePrice != nil {
			total += *deal.ServicePrice
		}
	}
	return total
}
