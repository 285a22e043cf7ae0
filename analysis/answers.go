package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bookmetrics/harvester/models"
)

// Answer is one answered question with its supporting numbers.
type Answer struct {
	Question      string
	Answer        string
	Justification string
}

func yesNo(condition bool) string {
	if condition {
		return "Yes"
	}
	return "No"
}

// Categorical answers the yes/no question set.
func (a *Analyzer) Categorical() []Answer {
	travelOut := a.Stats("Travel").OutOfStock
	mysteryFive := a.countWhere("Mystery", func(r *models.CanonicalRecord) bool { return r.Rating == 5 })
	classicsCheap := a.countWhere("Classics", func(r *models.CanonicalRecord) bool { return r.Price < 10 })

	mystery := a.Stats("Mystery")
	mysteryAbove20 := a.countWhere("Mystery", func(r *models.CanonicalRecord) bool { return r.Price > 20 })
	var mysteryShare float64
	if mystery.Count > 0 {
		mysteryShare = float64(mysteryAbove20) / float64(mystery.Count) * 100
	}

	return []Answer{
		{
			Question:      "Are there any books in the Travel category marked as out of stock?",
			Answer:        yesNo(travelOut > 0),
			Justification: fmt.Sprintf("Found %d Travel books marked out of stock", travelOut),
		},
		{
			Question:      "Does the Mystery category contain books with a 5-star rating?",
			Answer:        yesNo(mysteryFive > 0),
			Justification: fmt.Sprintf("Found %d Mystery books rated 5 stars", mysteryFive),
		},
		{
			Question:      "Are there books in the Classics category priced below £10?",
			Answer:        yesNo(classicsCheap > 0),
			Justification: fmt.Sprintf("Found %d Classics books priced below £10", classicsCheap),
		},
		{
			Question:      "Are more than 50% of Mystery books priced above £20?",
			Answer:        yesNo(mysteryShare > 50),
			Justification: fmt.Sprintf("%.1f%% of Mystery books are priced above £20", mysteryShare),
		},
	}
}

// Numerical answers the value-extraction question set.
func (a *Analyzer) Numerical() []Answer {
	categories := a.ds.Categories()

	meanParts := make([]string, 0, len(categories))
	stockParts := make([]string, 0, len(categories))
	for _, category := range categories {
		stats := a.Stats(category)
		meanParts = append(meanParts, fmt.Sprintf("%s £%.2f", category, stats.MeanPrice))
		stockParts = append(stockParts, fmt.Sprintf("%s %d", category, stats.InStock))
	}

	histFiction := a.Stats("Historical Fiction")
	travel := a.Stats("Travel")

	return []Answer{
		{
			Question:      "What is the average price of books in each category?",
			Answer:        strings.Join(meanParts, ", "),
			Justification: "Mean price over all harvested books per category",
		},
		{
			Question:      "What is the price range for Historical Fiction books?",
			Answer:        fmt.Sprintf("£%.2f - £%.2f", histFiction.MinPrice, histFiction.MaxPrice),
			Justification: fmt.Sprintf("Min and max over %d Historical Fiction books", histFiction.Count),
		},
		{
			Question:      "How many books are in stock per category?",
			Answer:        strings.Join(stockParts, ", "),
			Justification: "Count of books whose availability reads in stock",
		},
		{
			Question:      "What is the total value of all Travel books?",
			Answer:        fmt.Sprintf("£%.2f", travel.TotalPrice),
			Justification: fmt.Sprintf("Sum of prices over %d Travel books", travel.Count),
		},
	}
}

// Hybrid answers the question set mixing category selection with numbers.
func (a *Analyzer) Hybrid() []Answer {
	categories := a.ds.Categories()

	var priciest *CategoryStats
	for _, category := range categories {
		stats := a.Stats(category)
		if stats.Count == 0 {
			continue
		}
		if priciest == nil || stats.MeanPrice > priciest.MeanPrice {
			priciest = stats
		}
	}
	priciestAnswer := Answer{
		Question:      "Which category has the highest average price?",
		Answer:        "None",
		Justification: "No records in the dataset",
	}
	if priciest != nil {
		priciestAnswer.Answer = priciest.Category
		priciestAnswer.Justification = fmt.Sprintf("%s averages £%.2f per book", priciest.Category, priciest.MeanPrice)
	}

	var premium []string
	for _, category := range categories {
		stats := a.Stats(category)
		if stats.Count == 0 {
			continue
		}
		above30 := a.countWhere(category, func(r *models.CanonicalRecord) bool { return r.Price > 30 })
		if float64(above30)/float64(stats.Count)*100 > 50 {
			premium = append(premium, fmt.Sprintf("%s (%d of %d)", category, above30, stats.Count))
		}
	}
	sort.Strings(premium)
	premiumAnswer := Answer{
		Question:      "Which categories have more than 50% of books above £30?",
		Answer:        "None",
		Justification: "No category crosses the 50% threshold",
	}
	if len(premium) > 0 {
		premiumAnswer.Answer = strings.Join(premium, ", ")
		premiumAnswer.Justification = fmt.Sprintf("%d categories have a majority of books above £30", len(premium))
	}

	wordParts := make([]string, 0, len(categories))
	for _, category := range categories {
		stats := a.Stats(category)
		wordParts = append(wordParts, fmt.Sprintf("%s %.1f", category, stats.MeanDescriptionWords))
	}

	var worstStocked *CategoryStats
	var worstShare float64
	for _, category := range categories {
		stats := a.Stats(category)
		if stats.Count == 0 || stats.OutOfStock == 0 {
			continue
		}
		share := float64(stats.OutOfStock) / float64(stats.Count) * 100
		if worstStocked == nil || share > worstShare {
			worstStocked = stats
			worstShare = share
		}
	}
	worstAnswer := Answer{
		Question:      "Which category has the highest share of out-of-stock books?",
		Answer:        "None",
		Justification: "No books are marked out of stock",
	}
	if worstStocked != nil {
		worstAnswer.Answer = worstStocked.Category
		worstAnswer.Justification = fmt.Sprintf("%.1f%% of %s books are out of stock", worstShare, worstStocked.Category)
	}

	return []Answer{
		priciestAnswer,
		premiumAnswer,
		{
			Question:      "What is the average description length per category?",
			Answer:        strings.Join(wordParts, ", "),
			Justification: "Mean description word count per category",
		},
		worstAnswer,
	}
}
