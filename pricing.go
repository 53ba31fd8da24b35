package main

import (
	"github.com/shopspring/decimal"
)

// grossPricing picks the price entry for location, falling back to the first
// entry, and returns its gross amounts.
func grossPricing(prices []Price, location string) (Pricing, error) {
	if len(prices) == 0 {
		return Pricing{}, nil
	}
	p := prices[0]
	for _, candidate := range prices {
		if candidate.Location == location {
			p = candidate
			break
		}
	}
	monthly, err := parseAmount(p.PriceMonthly.Gross)
	if err != nil {
		return Pricing{}, err
	}
	hourly, err := parseAmount(p.PriceHourly.Gross)
	if err != nil {
		return Pricing{}, err
	}
	return Pricing{
		Monthly: monthly.Round(4).InexactFloat64(),
		Hourly:  hourly.Round(4).InexactFloat64(),
	}, nil
}

// priced returns p, or zero pricing when the upstream sent an amount that
// does not parse. The resource itself is still listed.
func (s *service) priced(resource string, id int64, p Pricing, err error) Pricing {
	if err != nil {
		s.log.Log("msg", "unparseable price", "resource", resource, "id", id, "err", err)
		return Pricing{}
	}
	return p
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, upstreamError("parse price "+s, err)
	}
	return d, nil
}

// cloudPricing is the subset of GET /pricing needed for volumes and
// floating ips.
type cloudPricing struct {
	Currency string `json:"currency"`
	Volume   struct {
		PricePerGBMonth PriceAmount `json:"price_per_gb_month"`
	} `json:"volume"`
	FloatingIPs []struct {
		Type   string  `json:"type"`
		Prices []Price `json:"prices"`
	} `json:"floating_ips"`
}

func (p cloudPricing) volume(sizeGB int64) (Pricing, error) {
	perGB, err := parseAmount(p.Volume.PricePerGBMonth.Gross)
	if err != nil {
		return Pricing{}, err
	}
	return Pricing{
		Monthly: perGB.Mul(decimal.NewFromInt(sizeGB)).Round(4).InexactFloat64(),
	}, nil
}

func (p cloudPricing) floatingIP(typ, location string) (Pricing, error) {
	for _, fip := range p.FloatingIPs {
		if fip.Type == typ {
			return grossPricing(fip.Prices, location)
		}
	}
	return Pricing{}, nil
}
