package prompt_test

import (
	"testing"

	"github.com/CZERTAINLY/toxin/internal/prompt"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	table := prompt.Default()
	require.Equal(t, 3, table.Len())

	var cases = []struct {
		scenario string
		given    string
		then     []string
	}{
		{"nothing", "[*] testing parameter id\n", nil},
		{"redirects", "[?] Follow redirects? [y/N] ", []string{"y\n"}},
		{"save", "Save results to file? [y/N]", []string{"N\n"}},
		{"continue", "\nContinue scanning? [Y/n]", []string{"Y\n"}},
		{"two in one chunk", "Follow redirects? [y/N]\nContinue scanning? [Y/n]", []string{"y\n", "Y\n"}},
		{"case sensitive", "follow redirects? [y/n]", nil},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, r := range table.Respond([]byte(tc.given)) {
				got = append(got, string(r))
			}
			require.Equal(t, tc.then, got)
		})
	}
}

func TestTableOrder(t *testing.T) {
	t.Parallel()
	table := prompt.NewTable(
		prompt.Rule{Matcher: prompt.Contains("b"), Response: []byte("2")},
		prompt.Rule{Matcher: prompt.Contains("a"), Response: []byte("1")},
	).With(prompt.Rule{Matcher: prompt.Contains("ab"), Response: []byte("3")})

	got := table.Respond([]byte("ab"))
	require.Equal(t, [][]byte{[]byte("2"), []byte("1"), []byte("3")}, got)
}

func TestStateless(t *testing.T) {
	t.Parallel()
	table := prompt.Default()
	// a prompt split across chunks is not matched
	require.Empty(t, table.Respond([]byte("Follow redir")))
	require.Empty(t, table.Respond([]byte("ects? [y/N]")))
	// the same prompt twice yields two responses
	require.Len(t, table.Respond([]byte("Follow redirects? [y/N]")), 1)
	require.Len(t, table.Respond([]byte("Follow redirects? [y/N]")), 1)
}

func TestEmptyMatcher(t *testing.T) {
	t.Parallel()
	table := prompt.NewTable(
		prompt.Rule{Matcher: prompt.Contains(""), Response: []byte("x")},
		prompt.Rule{Matcher: nil, Response: []byte("y")},
	)
	require.Empty(t, table.Respond([]byte("anything")))
}

func TestRules(t *testing.T) {
	t.Parallel()
	table := prompt.Default()
	rules := table.Rules()
	require.Len(t, rules, table.Len())
	require.Equal(t, prompt.Contains("Follow redirects? [y/N]"), rules[0].Matcher)

	// modifying the copy does not change the table
	rules[0].Response = []byte("N\n")
	require.Equal(t, [][]byte{[]byte("y\n")}, table.Respond([]byte("Follow redirects? [y/N]")))
}
