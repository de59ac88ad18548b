package fa

import (
	"strings"

	"github.com/alapierre/ksef-gateway/ksef/model"
	"github.com/shopspring/decimal"
)

type bucket struct {
	rates    []string
	percent  int64
	netField string
	taxField string
	net      decimal.Decimal
	tax      decimal.Decimal
}

type totals struct {
	buckets []bucket
	gross   decimal.Decimal
}

// kolejność zgodna z kolejnością pól P_13_x w schemie
func rateTable() []bucket {
	return []bucket{
		{rates: []string{"23"}, percent: 23, netField: "P_13_1", taxField: "P_14_1"},
		{rates: []string{"8"}, percent: 8, netField: "P_13_2", taxField: "P_14_2"},
		{rates: []string{"5"}, percent: 5, netField: "P_13_3", taxField: "P_14_3"},
		{rates: []string{"0", "0 kr"}, netField: "P_13_6_1"},
		{rates: []string{"zw"}, netField: "P_13_7"},
		{rates: []string{"np", "np i", "np ii"}, netField: "P_13_9"},
		{rates: []string{"oo"}, netField: "P_13_10"},
	}
}

// summarize sumuje netto per stawka i liczy VAT od sumy w koszyku. Pozycje z nieznaną
// stawką wchodzą tylko do P_15.
func summarize(items []model.LineItem) totals {
	table := rateTable()
	used := make([]bool, len(table))
	gross := decimal.Zero

	for _, item := range items {
		net := item.Net()
		gross = gross.Add(net)

		rate := strings.ToLower(strings.TrimSpace(item.VatRate))
		for i := range table {
			if contains(table[i].rates, rate) {
				table[i].net = table[i].net.Add(net)
				used[i] = true
				break
			}
		}
	}

	out := totals{}
	for i, b := range table {
		if !used[i] {
			continue
		}
		if b.taxField != "" {
			b.tax = b.net.Mul(decimal.NewFromInt(b.percent)).Div(decimal.NewFromInt(100)).Round(2)
			gross = gross.Add(b.tax)
		}
		out.buckets = append(out.buckets, b)
	}
	out.gross = gross
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
