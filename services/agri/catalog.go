// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agri

import (
	"strings"
	"time"
)

// StateDistricts lists the districts covered for each state, in a stable order.
var StateDistricts = []struct {
	State     string
	Districts []string
}{
	{"Maharashtra", []string{"Mumbai", "Pune", "Nagpur", "Nashik"}},
	{"Punjab", []string{"Amritsar", "Ludhiana", "Chandigarh", "Jalandhar"}},
	{"Karnataka", []string{"Bangalore", "Mysore", "Hubli", "Mangalore"}},
	{"Uttar Pradesh", []string{"Lucknow", "Kanpur", "Agra", "Varanasi"}},
	{"Tamil Nadu", []string{"Chennai", "Coimbatore", "Madurai", "Tiruchirappalli"}},
	{"Gujarat", []string{"Ahmedabad", "Surat", "Vadodara", "Rajkot"}},
	{"Haryana", []string{"Gurgaon", "Faridabad", "Panipat", "Karnal"}},
	{"Rajasthan", []string{"Jaipur", "Jodhpur", "Udaipur", "Kota"}},
	{"Bihar", []string{"Patna", "Gaya", "Bhagalpur", "Muzaffarpur"}},
	{"West Bengal", []string{"Kolkata", "Howrah", "Durgapur", "Asansol"}},
}

// States lists every state the portal knows about.
var States = []string{
	"Maharashtra", "Punjab", "Karnataka", "Uttar Pradesh", "Tamil Nadu",
	"Gujarat", "Haryana", "Rajasthan", "Bihar", "West Bengal",
	"Andhra Pradesh", "Telangana", "Madhya Pradesh", "Kerala", "Assam",
}

var SoilTypes = []string{
	"Alluvial Soil", "Black Soil", "Red Soil", "Laterite Soil",
	"Desert Soil", "Mountain Soil", "Loamy", "Clay", "Sandy",
}

var ClimateZones = []string{
	"Tropical Wet", "Tropical Dry", "Subtropical Humid", "Semi-Arid",
	"Arid", "Humid Continental", "Highland",
}

var Seasons = []string{"Kharif", "Rabi", "Zaid"}

// Markets are the wholesale markets quoted in market price rows.
var Markets = []string{
	"Azadpur Mandi (Delhi)", "Vashi Market (Mumbai)", "Bowenpally Market (Hyderabad)",
	"Gultekdi Market (Pune)", "Devi Ahilya Bai Holkar Market (Indore)",
	"Koyambedu Market (Chennai)", "Raja Market (Kolkata)", "Sabzi Mandi (Jaipur)",
	"Krishi Bhavan Market (Bangalore)", "APMC Market (Ahmedabad)",
	"Fruit Market (Nagpur)", "Vegetable Market (Surat)", "Grain Market (Ludhiana)",
	"Spice Market (Kochi)", "Flower Market (Mysore)",
}

// CropProfile describes growing conditions for a crop.
type CropProfile struct {
	Name             string
	Season           string // "Year-round" means any of Seasons
	WaterRequirement string
	DurationDays     int
	MinTemperature   float64
	MaxTemperature   float64
	MinRainfall      float64
	MaxRainfall      float64
}

var CropProfiles = []CropProfile{
	{"Rice", "Kharif", "High", 120, 20, 35, 100, 200},
	{"Wheat", "Rabi", "Medium", 120, 10, 25, 50, 100},
	{"Cotton", "Kharif", "Medium", 150, 21, 35, 50, 100},
	{"Sugarcane", "Year-round", "High", 300, 26, 32, 100, 150},
	{"Maize", "Kharif", "Medium", 90, 18, 27, 50, 100},
	{"Groundnut", "Kharif", "Low", 100, 20, 30, 50, 75},
	{"Soybean", "Kharif", "Medium", 90, 20, 30, 50, 100},
	{"Mustard", "Rabi", "Low", 90, 10, 25, 30, 60},
	{"Chickpea", "Rabi", "Low", 90, 15, 25, 30, 60},
	{"Pigeonpea", "Kharif", "Low", 150, 20, 30, 40, 80},
	{"Potato", "Rabi", "Medium", 90, 15, 20, 50, 75},
	{"Tomato", "Year-round", "Medium", 90, 18, 25, 50, 100},
	{"Onion", "Rabi", "Medium", 120, 15, 25, 50, 75},
	{"Chilli", "Year-round", "Medium", 120, 20, 30, 50, 100},
	{"Brinjal", "Year-round", "Medium", 120, 20, 30, 50, 100},
}

// FindCrop returns the profile for name, ignoring case.
func FindCrop(name string) (CropProfile, bool) {
	for _, c := range CropProfiles {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return CropProfile{}, false
}

// soilSeasonCrops are the crops suited to a soil type in a season.
var soilSeasonCrops = map[string]map[string][]string{
	"Black Soil": {
		"Kharif": {"Cotton", "Soybean", "Pigeonpea"},
		"Rabi":   {"Wheat", "Chickpea", "Mustard"},
		"Zaid":   {"Groundnut", "Sunflower", "Moong"},
	},
	"Red Soil": {
		"Kharif": {"Maize", "Groundnut", "Pigeonpea"},
		"Rabi":   {"Wheat", "Chickpea", "Mustard"},
		"Zaid":   {"Moong", "Urad", "Sunflower"},
	},
	"Alluvial Soil": {
		"Kharif": {"Rice", "Maize", "Soybean"},
		"Rabi":   {"Wheat", "Mustard", "Potato"},
		"Zaid":   {"Moong", "Urad", "Vegetables"},
	},
}

// SuitableCrops returns the crops suited to soilType in season. Unknown
// combinations get Rice, Wheat and Maize.
func SuitableCrops(soilType, season string) []string {
	for soil, bySeason := range soilSeasonCrops {
		if !strings.EqualFold(soil, soilType) {
			continue
		}
		for s, crops := range bySeason {
			if strings.EqualFold(s, season) {
				return append([]string(nil), crops...)
			}
		}
	}
	return []string{"Rice", "Wheat", "Maize"}
}

// FertilizerProfile is the nutrient plan for one crop.
type FertilizerProfile struct {
	Crop     string
	Organic  []string
	Chemical []string
	Timing   string
	Dosage   string
	Notes    string
}

var FertilizerProfiles = []FertilizerProfile{
	{"Rice", []string{"Farmyard Manure", "Green Manure", "Compost"}, []string{"NPK 10:26:26", "Urea", "DAP"},
		"Basal application during land preparation, top dressing at tillering and panicle initiation",
		"Organic: 5-8 tonnes/acre, Chemical: 100-150 kg/acre",
		"Split nitrogen application recommended. Zinc sulfate application beneficial."},
	{"Wheat", []string{"Farmyard Manure", "Compost", "Vermicompost"}, []string{"NPK 12:32:16", "Urea"},
		"50% at sowing, 25% at first irrigation, 25% at second irrigation",
		"Organic: 4-6 tonnes/acre, Chemical: 100-120 kg/acre",
		"Sulfur application improves grain quality and yield."},
	{"Maize", []string{"Compost", "Green Manure"}, []string{"NPK 20:20:0", "Urea"},
		"Apply at sowing and top dress at knee-high stage",
		"Organic: 3-5 tonnes/acre, Chemical: 80-100 kg/acre",
		"Zinc application helps prevent deficiency."},
	{"Cotton", []string{"Farmyard Manure", "Compost", "Neem Cake"}, []string{"NPK 20:10:10", "Ammonium Sulfate"},
		"Basal application before sowing, top dressing at flowering and boll formation",
		"Organic: 5-10 tonnes/acre, Chemical: 80-100 kg/acre",
		"Foliar sprays of micronutrients during square formation increase yield."},
	{"Sugarcane", []string{"Pressmud", "Compost", "Green Manure"}, []string{"NPK 18:18:0", "Urea"},
		"Apply at planting and during tillering stage",
		"Organic: 10-12 tonnes/acre, Chemical: 150-200 kg/acre",
		"Apply potash for better sugar recovery."},
	{"Groundnut", []string{"Farmyard Manure", "Compost"}, []string{"NPK 6:12:12", "Gypsum"},
		"Apply at sowing and at flowering stage",
		"Organic: 2-4 tonnes/acre, Chemical: 60-80 kg/acre",
		"Gypsum application improves pod filling and disease resistance."},
	{"Soybean", []string{"Compost", "Farmyard Manure"}, []string{"NPK 12:32:16", "Urea"},
		"Apply at sowing and at pod formation stage",
		"Organic: 3-5 tonnes/acre, Chemical: 60-80 kg/acre",
		"Inoculate seeds with Rhizobium for better nitrogen fixation."},
	{"Chickpea", []string{"Farmyard Manure", "Compost"}, []string{"NPK 10:26:26", "DAP"},
		"Apply at sowing",
		"Organic: 2-3 tonnes/acre, Chemical: 40-60 kg/acre",
		"Phosphorus application increases root growth and yield."},
	{"Potato", []string{"Farmyard Manure", "Compost", "Vermicompost"}, []string{"NPK 8:16:16", "Potassium Sulfate"},
		"Apply at planting and during tuber formation",
		"Organic: 5-8 tonnes/acre, Chemical: 120-150 kg/acre",
		"Potassium is crucial for tuber development and quality."},
	{"Tomato", []string{"Farmyard Manure", "Compost", "Vermicompost"}, []string{"NPK 10:10:10", "Urea"},
		"Apply at transplanting and top dress during flowering and fruit setting",
		"Organic: 4-6 tonnes/acre, Chemical: 80-100 kg/acre",
		"Calcium application prevents blossom end rot."},
	{"Onion", []string{"Farmyard Manure", "Compost"}, []string{"NPK 12:16:20", "Urea"},
		"Apply at planting and top dress during bulb formation",
		"Organic: 4-5 tonnes/acre, Chemical: 100-120 kg/acre",
		"Sulfur application improves bulb quality and pungency."},
	{"Chilli", []string{"Farmyard Manure", "Compost", "Neem Cake"}, []string{"NPK 18:18:18", "Urea"},
		"Apply at transplanting and top dress during flowering and fruiting",
		"Organic: 3-5 tonnes/acre, Chemical: 80-100 kg/acre",
		"Potassium application improves fruit quality and color."},
	{"Mango", []string{"Farmyard Manure", "Compost", "Vermicompost"}, []string{"NPK 10:10:10", "Urea"},
		"Apply after harvest and before flowering",
		"Organic: 10-15 tonnes/acre, Chemical: 2-3 kg/tree",
		"Zinc and boron application improves fruit quality and yield."},
	{"Banana", []string{"Farmyard Manure", "Compost", "Pressmud"}, []string{"NPK 10:20:20", "Urea"},
		"Apply at planting and top dress during growth stages",
		"Organic: 15-20 tonnes/acre, Chemical: 250-300 kg/acre",
		"Potassium is crucial for fruit development and quality."},
	{"Pea", []string{"Farmyard Manure", "Compost"}, []string{"NPK 10:26:26", "DAP"},
		"Apply at sowing",
		"Organic: 2-3 tonnes/acre, Chemical: 50-60 kg/acre",
		"Inoculate seeds with Rhizobium for better nitrogen fixation."},
}

// FindFertilizer returns the fertilizer profile for crop, ignoring case.
func FindFertilizer(crop string) (FertilizerProfile, bool) {
	for _, f := range FertilizerProfiles {
		if strings.EqualFold(f.Crop, crop) {
			return f, true
		}
	}
	return FertilizerProfile{}, false
}

// Payload returns f as a fertilizer_recommendations row.
func (f FertilizerProfile) Payload() Payload {
	return Payload{
		"crop_name":            f.Crop,
		"organic_fertilizers":  append([]string(nil), f.Organic...),
		"chemical_fertilizers": append([]string(nil), f.Chemical...),
		"application_timing":   f.Timing,
		"dosage_per_acre":      f.Dosage,
		"special_notes":        f.Notes,
	}
}

// MarketCrops lists crops quoted in market prices, in a stable order.
var MarketCrops = []string{
	"Rice", "Wheat", "Maize", "Barley", "Sorghum", "Jowar", "Bajra", "Ragi",
	"Chickpea", "Pigeonpea", "Moong", "Urad", "Masur", "Pea",
	"Groundnut", "Soybean", "Mustard", "Rapeseed", "Sesame", "Sunflower", "Safflower", "Linseed", "Castor",
	"Cotton", "Jute", "Mesta", "Sugarcane", "Tobacco",
	"Turmeric", "Ginger", "Chilli", "Coriander", "Cumin", "Fennel", "Fenugreek", "Black Pepper", "Cardamom", "Clove", "Cinnamon",
	"Potato", "Onion", "Tomato", "Brinjal", "Okra", "Cabbage", "Cauliflower", "Carrot", "Radish", "Beetroot", "Spinach", "Pea (Vegetable)",
	"Mango", "Banana", "Apple", "Orange", "Grapes", "Pomegranate", "Guava", "Papaya", "Pineapple", "Watermelon", "Muskmelon",
	"Coconut", "Arecanut", "Coffee", "Tea", "Rubber",
}

// basePrices are modal wholesale prices in rupees per quintal.
var basePrices = map[string]float64{
	"Rice": 2200, "Wheat": 2275, "Maize": 2000, "Barley": 2000, "Sorghum": 2100, "Jowar": 2200, "Bajra": 2250, "Ragi": 3000,
	"Chickpea": 5400, "Pigeonpea": 6500, "Moong": 8000, "Urad": 7600, "Masur": 6000, "Pea": 4000,
	"Groundnut": 5500, "Soybean": 4500, "Mustard": 5500, "Rapeseed": 5500, "Sesame": 8000, "Sunflower": 6400, "Safflower": 5500, "Linseed": 6000, "Castor": 6200,
	"Cotton": 6500, "Jute": 4500, "Mesta": 4200, "Sugarcane": 3200, "Tobacco": 12000,
	"Turmeric": 9000, "Ginger": 12000, "Chilli": 15000, "Coriander": 8000, "Cumin": 18000, "Fennel": 14000, "Fenugreek": 7000, "Black Pepper": 55000, "Cardamom": 100000, "Clove": 70000, "Cinnamon": 60000,
	"Potato": 1800, "Onion": 2500, "Tomato": 3500, "Brinjal": 2000, "Okra": 3000, "Cabbage": 1500, "Cauliflower": 2000, "Carrot": 2500, "Radish": 1600, "Beetroot": 2200, "Spinach": 1800, "Pea (Vegetable)": 5000,
	"Mango": 6000, "Banana": 3000, "Apple": 9000, "Orange": 4500, "Grapes": 6500, "Pomegranate": 8000, "Guava": 3000, "Papaya": 2500, "Pineapple": 3500, "Watermelon": 1800, "Muskmelon": 2200,
	"Coconut": 5000, "Arecanut": 35000, "Coffee": 20000, "Tea": 22000, "Rubber": 16000,
}

// DefaultBasePrice is used for crops missing from the price table.
const DefaultBasePrice = 3000

// BasePrice returns the modal price for crop, ignoring case.
func BasePrice(crop string) float64 {
	if p, ok := basePrices[crop]; ok {
		return p
	}
	for name, p := range basePrices {
		if strings.EqualFold(name, crop) {
			return p
		}
	}
	return DefaultBasePrice
}

// PriceUnit is the unit for every market price.
const PriceUnit = "quintal"

// DemoForecasts are the conditions used for demonstration weather.
var DemoForecasts = []string{"Partly Cloudy", "Sunny", "Clear", "Cloudy", "Light Rain", "Moderate Rain"}

// Season is the Indian agricultural weather season.
type Season string

const (
	SeasonSummer  Season = "Summer"
	SeasonMonsoon Season = "Monsoon"
	SeasonWinter  Season = "Winter"
)

// SeasonAt returns the season for t: Summer from March to June, Monsoon
// from July to October, Winter otherwise.
func SeasonAt(t time.Time) Season {
	switch m := t.Month(); {
	case m >= time.March && m <= time.June:
		return SeasonSummer
	case m >= time.July && m <= time.October:
		return SeasonMonsoon
	default:
		return SeasonWinter
	}
}

// SeasonalOutlook is the one-line forecast used for generated weather.
func SeasonalOutlook(s Season) string {
	switch s {
	case SeasonSummer:
		return "Hot and dry conditions expected. Irrigation may be needed."
	case SeasonMonsoon:
		return "Heavy rainfall expected. Take necessary precautions."
	default:
		return "Cool and dry conditions expected. Protect crops from frost."
	}
}

// DistrictFor returns a representative district for state.
func DistrictFor(state string) string {
	for _, sd := range StateDistricts {
		if strings.EqualFold(sd.State, state) && len(sd.Districts) > 0 {
			return sd.Districts[0]
		}
	}
	return "Sample District"
}
