package insights

import (
	"sort"
	"strings"
)

// Itemset is a set of medication codes that co-occur in completed sales,
// with its support as a fraction of all baskets.
type Itemset struct {
	Items   []string `json:"items"`
	Support float64  `json:"support"`
}

// Rule is an association rule mined from frequent itemsets. Confidence is
// the conditional probability of the consequent given the antecedent; lift
// above 1 means the pairing occurs more often than chance.
type Rule struct {
	Antecedent []string `json:"antecedent"`
	Consequent []string `json:"consequent"`
	Support    float64  `json:"support"`
	Confidence float64  `json:"confidence"`
	Lift       float64  `json:"lift"`
}

// Recommendation suggests medications that frequently accompany the ones
// already in a basket.
type Recommendation struct {
	Items      []string `json:"items"`
	Antecedent []string `json:"antecedent"`
	Support    float64  `json:"support"`
	Confidence float64  `json:"confidence"`
	Lift       float64  `json:"lift"`
}

// MinerConfig bounds the search. MinSupport and MinConfidence are fractions
// in (0, 1]; MaxItemsetSize caps itemset length.
type MinerConfig struct {
	MinSupport     float64 `json:"min_support"`
	MinConfidence  float64 `json:"min_confidence"`
	MaxItemsetSize int     `json:"max_itemset_size"`
}

const itemSep = "\x1f"

func itemsetKey(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return strings.Join(sorted, itemSep)
}

func keyItems(key string) []string {
	return strings.Split(key, itemSep)
}

func intersect(a, b []int) []int {
	out := make([]int, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// FrequentItemsets mines itemsets whose support meets minSupport, using
// tid-list intersection. Items inside a basket are deduplicated; baskets
// are indexed in input order so tid lists stay sorted.
func FrequentItemsets(baskets [][]string, minSupport float64, maxSize int) []Itemset {
	if len(baskets) == 0 || minSupport <= 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = 5
	}

	tidLists := make(map[string][]int)
	for tid, basket := range baskets {
		seen := make(map[string]struct{}, len(basket))
		for _, item := range basket {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			tidLists[item] = append(tidLists[item], tid)
		}
	}

	total := float64(len(baskets))
	minCount := minSupport * total

	support := make(map[string]float64)
	var current []string
	for item, tids := range tidLists {
		if float64(len(tids)) >= minCount {
			support[item] = float64(len(tids)) / total
			current = append(current, item)
		}
	}
	sort.Strings(current)

	for k := 2; k <= maxSize && len(current) > 1; k++ {
		candidates := make(map[string]struct{})
		for i := 0; i < len(current); i++ {
			for j := i + 1; j < len(current); j++ {
				union := unionItems(keyItems(current[i]), keyItems(current[j]))
				if len(union) == k {
					candidates[itemsetKey(union)] = struct{}{}
				}
			}
		}
		var next []string
		for key := range candidates {
			items := keyItems(key)
			tids := tidLists[items[0]]
			for _, item := range items[1:] {
				tids = intersect(tids, tidLists[item])
				if len(tids) == 0 {
					break
				}
			}
			if float64(len(tids)) >= minCount {
				support[key] = float64(len(tids)) / total
				next = append(next, key)
			}
		}
		sort.Strings(next)
		current = next
	}

	out := make([]Itemset, 0, len(support))
	for key, sup := range support {
		out = append(out, Itemset{Items: keyItems(key), Support: sup})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Support != out[j].Support {
			return out[i].Support > out[j].Support
		}
		return itemsetKey(out[i].Items) < itemsetKey(out[j].Items)
	})
	return out
}

func unionItems(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, item := range a {
		set[item] = struct{}{}
	}
	for _, item := range b {
		set[item] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// AssociationRules derives rules from the mined itemsets. Consequent
// support falls back to a basket scan when the consequent itself did not
// clear the support threshold.
func AssociationRules(baskets [][]string, itemsets []Itemset, minConfidence float64) []Rule {
	support := make(map[string]float64, len(itemsets))
	for _, is := range itemsets {
		support[itemsetKey(is.Items)] = is.Support
	}

	var rules []Rule
	for _, is := range itemsets {
		if len(is.Items) < 2 {
			continue
		}
		for _, antecedent := range properSubsets(is.Items) {
			antSupport := support[itemsetKey(antecedent)]
			if antSupport == 0 {
				continue
			}
			confidence := is.Support / antSupport
			if confidence < minConfidence {
				continue
			}
			consequent := subtractItems(is.Items, antecedent)
			conSupport := support[itemsetKey(consequent)]
			if conSupport == 0 {
				conSupport = basketSupport(baskets, consequent)
			}
			var lift float64
			if conSupport > 0 {
				lift = confidence / conSupport
			}
			rules = append(rules, Rule{
				Antecedent: antecedent,
				Consequent: consequent,
				Support:    is.Support,
				Confidence: confidence,
				Lift:       lift,
			})
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		if rules[i].Lift != rules[j].Lift {
			return rules[i].Lift > rules[j].Lift
		}
		return itemsetKey(rules[i].Antecedent) < itemsetKey(rules[j].Antecedent)
	})
	return rules
}

func properSubsets(items []string) [][]string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	n := len(sorted)
	var subsets [][]string
	for mask := 1; mask < (1<<n)-1; mask++ {
		subset := make([]string, 0, n-1)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				subset = append(subset, sorted[i])
			}
		}
		subsets = append(subsets, subset)
	}
	return subsets
}

func subtractItems(items, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, item := range remove {
		drop[item] = struct{}{}
	}
	out := make([]string, 0, len(items)-len(remove))
	for _, item := range items {
		if _, ok := drop[item]; !ok {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

func basketSupport(baskets [][]string, items []string) float64 {
	if len(baskets) == 0 {
		return 0
	}
	count := 0
	for _, basket := range baskets {
		present := make(map[string]struct{}, len(basket))
		for _, item := range basket {
			present[item] = struct{}{}
		}
		hit := true
		for _, item := range items {
			if _, ok := present[item]; !ok {
				hit = false
				break
			}
		}
		if hit {
			count++
		}
	}
	return float64(count) / float64(len(baskets))
}

// Recommend matches the basket against rule antecedents and returns the top
// complementary medications, deduplicated by suggested set.
func Recommend(items []string, rules []Rule, topN int) []Recommendation {
	if topN <= 0 {
		topN = 5
	}
	input := make(map[string]struct{}, len(items))
	for _, item := range items {
		input[item] = struct{}{}
	}

	best := make(map[string]Recommendation)
	for _, rule := range rules {
		if !overlaps(rule.Antecedent, input, len(items)) {
			continue
		}
		suggested := make([]string, 0, len(rule.Consequent))
		for _, item := range rule.Consequent {
			if _, ok := input[item]; !ok {
				suggested = append(suggested, item)
			}
		}
		if len(suggested) == 0 {
			continue
		}
		key := itemsetKey(suggested)
		if prev, ok := best[key]; ok && prev.Confidence >= rule.Confidence {
			continue
		}
		best[key] = Recommendation{
			Items:      suggested,
			Antecedent: rule.Antecedent,
			Support:    rule.Support,
			Confidence: rule.Confidence,
			Lift:       rule.Lift,
		}
	}

	out := make([]Recommendation, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Lift != out[j].Lift {
			return out[i].Lift > out[j].Lift
		}
		return itemsetKey(out[i].Items) < itemsetKey(out[j].Items)
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// overlaps reports whether the antecedent is contained in the basket or the
// basket is contained in the antecedent.
func overlaps(antecedent []string, input map[string]struct{}, inputLen int) bool {
	contained := 0
	for _, item := range antecedent {
		if _, ok := input[item]; ok {
			contained++
		}
	}
	return contained == len(antecedent) || contained == inputLen
}
