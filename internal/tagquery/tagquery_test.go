package tagquery

import (
	"testing"

	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/stretchr/testify/require"
)

func TestParseAndMatch(t *testing.T) {
	tags := ParseTags([]string{"region=eu-west", "env=prod", "critical"})

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"key equality", "region=eu-west", true},
		{"key mismatch", "region=us-east", false},
		{"bare tag", "critical", true},
		{"bare tag missing", "experimental", false},
		{"bare query matches keyed value", "prod", true},
		{"prefix wildcard", "region=eu-*", true},
		{"infix wildcard", "region=*-west", true},
		{"wildcard miss", "region=us-*", false},
		{"and both hold", "region=eu-west AND env=prod", true},
		{"and one fails", "region=eu-west AND env=dev", false},
		{"or short-circuits", "env=dev OR critical", true},
		{"and binds tighter than or", "env=dev AND region=us-east OR critical", true},
		{"parens override precedence", "env=dev AND (region=us-east OR critical)", false},
		{"not", "NOT env=dev", true},
		{"not present", "NOT critical", false},
		{"case-insensitive keywords", "region=eu-west and ENV=PROD", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.query)
			require.NoError(t, err)
			require.Equal(t, tt.want, expr.Matches(tags))
		})
	}
}

func TestParseErrors(t *testing.T) {
	queries := []string{
		"",
		"env==",
		"env=",
		"AND env=prod",
		"env=prod AND",
		"(env=prod",
		"env=prod)",
		"NOT",
		"env = pr!od",
		"env=prod extra",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			_, err := Parse(q)
			require.Error(t, err)
			require.ErrorIs(t, err, sberrors.ErrInvalidTagQuery)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParseTag(t *testing.T) {
	tag, ok := ParseTag(" Region = EU-West ")
	require.False(t, ok)

	tag, ok = ParseTag("Region=EU-West")
	require.True(t, ok)
	require.Equal(t, Tag{Key: "region", Value: "eu-west"}, tag)

	tag, ok = ParseTag("  CRITICAL  ")
	require.True(t, ok)
	require.Equal(t, Tag{Value: "critical"}, tag)

	for _, bad := range []string{"", "=", "a=", "=b", "spa ce", "bang!"} {
		_, ok := ParseTag(bad)
		require.False(t, ok, "tag %q should be rejected", bad)
	}
}

func TestParseTagsDropsInvalidAtoms(t *testing.T) {
	tags := ParseTags([]string{"env=prod", "bad tag!", "critical"})
	require.Equal(t, TagSet{
		{Key: "env", Value: "prod"},
		{Value: "critical"},
	}, tags)
}
