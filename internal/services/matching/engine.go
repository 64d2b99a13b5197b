// Package matching resolves a free-text customer name, as extracted from a
// chat message, to one of the workspace's clients.
package matching

import (
	"math"
	"strings"

	"invoice-automation-backend/internal/models"
)

type Decision string

const (
	DecisionMatched   Decision = "matched"
	DecisionAmbiguous Decision = "ambiguous"
	DecisionUnmatched Decision = "unmatched"
)

const (
	matchThreshold  = 85.0
	reviewThreshold = 60.0
	ambiguityMargin = 5.0
)

// Result is the best candidate and how it was scored. Client is nil when
// nothing cleared the review threshold.
type Result struct {
	Client     *models.Client
	NameScore  float64
	EmailScore float64
	Score      float64
	Candidates int
	Decision   Decision
}

type candidate struct {
	client     *models.Client
	nameScore  float64
	emailScore float64
	finalScore float64
}

// MatchClient scores every client against the extracted name and email.
// An exact email match wins outright. Two candidates within a few points
// of each other make the result ambiguous, which callers treat as no match.
func MatchClient(name, email string, clients []models.Client) Result {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(clients) == 0 || (strings.TrimSpace(name) == "" && email == "") {
		return Result{Decision: DecisionUnmatched}
	}

	candidates := make([]candidate, 0, len(clients))
	for i := range clients {
		c := &clients[i]
		if email != "" && strings.EqualFold(c.Email, email) {
			return Result{
				Client:     c,
				NameScore:  nameSimilarity(name, c.Name),
				EmailScore: 100,
				Score:      100,
				Candidates: len(clients),
				Decision:   DecisionMatched,
			}
		}
		ns := nameSimilarity(name, c.Name)
		final := ns
		es := 0.0
		if email != "" {
			es = emailDomainScore(email, c.Email)
			final = math.Min(0.85*ns+0.15*es, 100)
		}
		candidates = append(candidates, candidate{
			client:     c,
			nameScore:  ns,
			emailScore: es,
			finalScore: final,
		})
	}

	best, runnerUp := candidates[0], candidate{}
	for _, c := range candidates[1:] {
		switch {
		case c.finalScore > best.finalScore:
			runnerUp, best = best, c
		case c.finalScore > runnerUp.finalScore:
			runnerUp = c
		}
	}

	res := Result{
		NameScore:  best.nameScore,
		EmailScore: best.emailScore,
		Score:      best.finalScore,
		Candidates: len(candidates),
	}
	switch {
	case best.finalScore < reviewThreshold:
		res.Decision = DecisionUnmatched
	case runnerUp.client != nil && best.finalScore-runnerUp.finalScore < ambiguityMargin:
		res.Decision = DecisionAmbiguous
	case best.finalScore >= matchThreshold:
		res.Client = best.client
		res.Decision = DecisionMatched
	default:
		res.Client = best.client
		res.Decision = DecisionAmbiguous
	}
	return res
}

// nameSimilarity averages, over the client's name tokens, the best
// Levenshtein similarity against any extracted token. 0..100.
func nameSimilarity(extracted, clientName string) float64 {
	eTokens := strings.Fields(normalizeName(extracted))
	cTokens := strings.Fields(normalizeName(clientName))
	if len(cTokens) == 0 || len(eTokens) == 0 {
		return 0
	}

	total := 0.0
	for _, ct := range cTokens {
		best := 0.0
		for _, et := range eTokens {
			dist := levenshtein(ct, et)
			maxLen := math.Max(float64(len(ct)), float64(len(et)))
			if sim := 1 - float64(dist)/maxLen; sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(cTokens)) * 100
}

func emailDomainScore(extracted, clientEmail string) float64 {
	_, a, okA := strings.Cut(extracted, "@")
	_, b, okB := strings.Cut(strings.ToLower(clientEmail), "@")
	if !okA || !okB || a == "" {
		return 0
	}
	if a == b {
		return 100
	}
	return 0
}

var corporateSuffixes = map[string]bool{
	"INC": true, "LLC": true, "LTD": true, "CO": true, "CORP": true,
	"GMBH": true, "PLC": true, "LIMITED": true, "COMPANY": true, "CORPORATION": true,
}

func normalizeName(s string) string {
	s = strings.ToUpper(s)
	s = strings.NewReplacer(".", "", ",", "", "-", " ", "&", " ").Replace(s)
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !corporateSuffixes[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}
