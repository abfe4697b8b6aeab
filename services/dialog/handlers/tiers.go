// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

// tier is one plan level of a product. The table below is the stub benefit
// sheet the compare and recommend handlers draw from; a production deployment
// swaps it for the insurer's live rate and benefit service.
type tier struct {
	Name  string
	Pitch string
}

// productTiers keys on the normalized product name from the catalog. Every
// product carries exactly three tiers, cheapest first.
var productTiers = map[string][]tier{
	"travel": {
		{"Basic", "overseas medical up to S$200k, trip cancellation up to S$5k"},
		{"Silver", "overseas medical up to S$500k, trip cancellation up to S$10k, baggage delay cover"},
		{"Gold", "overseas medical up to S$1m, trip cancellation up to S$15k, adventure sports and rental car excess"},
	},
	"maid": {
		{"Standard", "the MOM-required S$60k medical and personal accident cover plus wage compensation"},
		{"Enhanced", "higher outpatient limits, dental, and re-hiring expenses if your helper has to return home"},
		{"Premier", "top medical limits, liability cover, and a lower co-payment on hospital bills"},
	},
	"personal_accident": {
		{"Lite", "accidental death and permanent disability up to S$100k"},
		{"Classic", "up to S$300k cover plus weekly income while you recover"},
		{"Prestige", "up to S$600k cover, infectious disease extension, and family discounts"},
	},
	"home": {
		{"Essential", "contents up to S$50k and renovations up to S$100k"},
		{"Deluxe", "contents up to S$100k, renovations up to S$200k, and alternative accommodation"},
		{"Supreme", "contents up to S$200k, worldwide personal belongings, and home assistance services"},
	},
	"early_critical": {
		{"Basic", "early and intermediate stage payout up to S$100k across 100+ conditions"},
		{"Plus", "up to S$200k with recurrence cover for major conditions"},
		{"Max", "up to S$350k, recurrence cover, and premium waiver on diagnosis"},
	},
	"car": {
		{"Third Party", "the legal minimum, covering damage you cause to others"},
		{"TPFT", "third party cover plus fire and theft of your own car"},
		{"Comprehensive", "full own-damage cover, windscreen, personal accident, and workshop choice"},
	},
	"hospital_cash": {
		{"Lite", "S$100 per day of hospitalization, up to 365 days"},
		{"Standard", "S$200 per day plus double payout for ICU stays"},
		{"Premier", "S$300 per day, ICU double payout, and a recovery lump sum"},
	},
}

// defaultTierIndex picks the middle tier when the stub has to choose. Real
// tier selection against collected slots is the insurer backend's call.
const defaultTierIndex = 1

func tiersFor(product string) []tier {
	return productTiers[product]
}
