// Package nutrition turns resolved foods into a daily nutrition
// summary: per-100g profiles scaled by portion mass, grouped by meal.
package nutrition

import (
	"fmt"
	"math"
	"strings"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// defaultPortionGrams is assumed when a food matches no heuristic.
const defaultPortionGrams = 100

// servingHeuristic maps food-name keywords to a typical serving mass.
// Checked in order; first hit wins.
type servingHeuristic struct {
	keywords []string
	grams    float64
	label    string
}

var servingHeuristics = []servingHeuristic{
	{[]string{"nasi", "rice", "bubur", "lontong", "ketupat"}, 180, "rice/porridge dish"},
	{[]string{"mie", "bakmi", "noodle", "bihun", "kwetiau"}, 200, "noodle dish"},
	{[]string{"telur", "telor", "egg"}, 50, "egg"},
	{[]string{"ayam", "chicken", "daging", "beef", "sapi", "ikan", "fish", "udang", "shrimp"}, 125, "protein dish"},
	{[]string{"sayur", "vegetable", "capcay", "tumis", "lalapan"}, 100, "vegetable dish"},
	{[]string{"soto", "sop", "sup", "soup", "bakso"}, 250, "soup bowl"},
	{[]string{"tahu", "tempe", "tofu"}, 80, "soy protein"},
	{[]string{"gorengan", "kerupuk", "keripik", "snack"}, 40, "fried snack"},
	{[]string{"pisang", "apel", "jeruk", "mangga", "banana", "apple", "orange", "fruit", "buah"}, 120, "fruit serving"},
	{[]string{"susu", "milk", "jus", "juice", "teh", "tea", "kopi", "coffee"}, 240, "beverage"},
	{[]string{"roti", "bread", "martabak", "kue", "cake"}, 70, "baked good"},
}

// estimatePortion returns a typical serving size for name and a label
// describing the heuristic used, or the 100g fallback.
func estimatePortion(name string) (float64, string) {
	lower := strings.ToLower(name)
	for _, h := range servingHeuristics {
		for _, kw := range h.keywords {
			if strings.Contains(lower, kw) {
				return h.grams, h.label
			}
		}
	}
	return defaultPortionGrams, "generic serving"
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Aggregate scales each resolved food's per-100g profile by its portion
// mass and quantity, groups totals by meal type, and records every
// portion assumption it had to make. Foods with no known portion get a
// typical-serving estimate by food-name keyword.
func Aggregate(foods []models.ResolvedFood) models.DailyNutritionSummary {
	summary := models.DailyNutritionSummary{
		ByMeal: make(map[models.MealType]models.NutrientTotals),
	}

	var total models.NutrientTotals
	for _, f := range foods {
		grams := f.PortionGrams
		if grams <= 0 {
			est, label := estimatePortion(f.Name)
			grams = est
			summary.PortionAssumptions = append(summary.PortionAssumptions,
				fmt.Sprintf("%s: assumed %.0fg (%s)", f.Name, est, label))
		}

		quantity := f.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		mult := grams / 100 * quantity

		meal := models.NormalizeMealType(string(f.MealType))
		bucket := summary.ByMeal[meal]
		addScaled(&bucket, f.Nutrition, mult)
		summary.ByMeal[meal] = bucket
		addScaled(&total, f.Nutrition, mult)
	}

	for _, meal := range models.MealTypes() {
		if bucket, ok := summary.ByMeal[meal]; ok {
			summary.ByMeal[meal] = roundTotals(bucket)
		}
	}
	summary.Total = roundTotals(total)
	return summary
}

func addScaled(t *models.NutrientTotals, p models.NutritionProfile, mult float64) {
	t.Calories += p.Calories * mult
	t.Protein += p.Protein * mult
	t.Carbohydrates += p.Carbohydrates * mult
	t.Fat += p.Fat * mult
	if p.Fiber != nil {
		t.Fiber += *p.Fiber * mult
	}
	if p.Sugar != nil {
		t.Sugar += *p.Sugar * mult
	}
	if p.Sodium != nil {
		t.Sodium += *p.Sodium * mult
	}
}

func roundTotals(t models.NutrientTotals) models.NutrientTotals {
	return models.NutrientTotals{
		Calories:      round1(t.Calories),
		Protein:       round1(t.Protein),
		Carbohydrates: round1(t.Carbohydrates),
		Fat:           round1(t.Fat),
		Fiber:         round1(t.Fiber),
		Sugar:         round1(t.Sugar),
		Sodium:        round1(t.Sodium),
	}
}
