package knowledge

import "math"

// MaxMarginalRelevance 从候选向量中选出k个下标：首个为与查询最相似者，
// 之后每次选 lambda*sim(query) - (1-lambda)*max sim(已选) 最大的候选
func MaxMarginalRelevance(query []float32, candidates [][]float32, lambda float64, k int) []int {
	limit := k
	if len(candidates) < limit {
		limit = len(candidates)
	}
	if limit <= 0 {
		return nil
	}

	toQuery := make([]float64, len(candidates))
	best := 0
	for i, cand := range candidates {
		toQuery[i] = cosineSimilarity(query, cand)
		if toQuery[i] > toQuery[best] {
			best = i
		}
	}

	selected := []int{best}
	chosen := map[int]bool{best: true}
	// maxToSelected[i] 为候选i与已选集合的最大相似度
	maxToSelected := make([]float64, len(candidates))
	for i := range candidates {
		maxToSelected[i] = cosineSimilarity(candidates[i], candidates[best])
	}

	for len(selected) < limit {
		bestScore := math.Inf(-1)
		bestIndex := -1
		for i := range candidates {
			if chosen[i] {
				continue
			}
			score := lambda*toQuery[i] - (1-lambda)*maxToSelected[i]
			if score > bestScore {
				bestScore = score
				bestIndex = i
			}
		}
		if bestIndex < 0 {
			break
		}
		selected = append(selected, bestIndex)
		chosen[bestIndex] = true
		for i := range candidates {
			if sim := cosineSimilarity(candidates[i], candidates[bestIndex]); sim > maxToSelected[i] {
				maxToSelected[i] = sim
			}
		}
	}
	return selected
}
