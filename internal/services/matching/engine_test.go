package matching

import (
	"testing"

	"invoice-automation-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clients() []models.Client {
	return []models.Client{
		{Name: "Globex Corporation", Email: "ap@globex.test"},
		{Name: "Initech LLC", Email: "billing@initech.test"},
		{Name: "Umbrella Health", Email: "finance@umbrella.test"},
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"ABC", "", 3},
		{"KITTEN", "SITTING", 3},
		{"GLOBEX", "GLOBEX", 0},
		{"GLOBEX", "GLOBX", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "INITECH", normalizeName("Initech, LLC."))
	assert.Equal(t, "SMITH JONES", normalizeName("Smith & Jones Ltd"))
	assert.Equal(t, "ACME WIDGETS", normalizeName("acme-widgets inc"))
}

func TestMatchClient(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		email    string
		want     string
		decision Decision
	}{
		{name: "exact email wins", query: "someone", email: "AP@globex.test", want: "Globex Corporation", decision: DecisionMatched},
		{name: "suffix ignored", query: "Initech", want: "Initech LLC", decision: DecisionMatched},
		{name: "small typo", query: "Umbrela Health", want: "Umbrella Health", decision: DecisionMatched},
		{name: "nothing close", query: "Stark Industries", decision: DecisionUnmatched},
		{name: "empty input", query: "", decision: DecisionUnmatched},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MatchClient(tt.query, tt.email, clients())
			assert.Equal(t, tt.decision, res.Decision)
			if tt.want == "" {
				assert.Nil(t, res.Client)
				return
			}
			require.NotNil(t, res.Client)
			assert.Equal(t, tt.want, res.Client.Name)
		})
	}
}

func TestMatchClient_AmbiguousNamesAreNotMatched(t *testing.T) {
	cs := []models.Client{
		{Name: "Acme North"},
		{Name: "Acme South"},
	}
	res := MatchClient("Acme", "", cs)

	assert.NotEqual(t, DecisionMatched, res.Decision)
	assert.Equal(t, 2, res.Candidates)
}

func TestMatchClient_NoClients(t *testing.T) {
	res := MatchClient("Globex", "", nil)
	assert.Equal(t, DecisionUnmatched, res.Decision)
}
