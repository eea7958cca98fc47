package validator_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("all rules pass", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.RequiredString("name", "coach"),
			validator.OneOfString("kind", "user", []string{"coach", "user"}),
		)
		assert.NoError(t, err)
	})

	t.Run("collects every failure", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.RequiredString("name", "  "),
			validator.OneOfString("kind", "admin", []string{"coach", "user"}),
			validator.ValidSlug("slug", "ok-slug"),
		)
		require.Error(t, err)

		verrs := validator.Extract(err)
		require.Len(t, verrs, 2)
		assert.True(t, verrs.Has("name"))
		assert.True(t, verrs.Has("kind"))
		assert.False(t, verrs.Has("slug"))
		assert.Equal(t, []string{"must be one of: coach, user"}, verrs.Fields()["kind"])
	})

	t.Run("extract through wrapping", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("request: %w", validator.Apply(validator.RequiredString("name", "")))
		assert.Len(t, validator.Extract(err), 1)
		assert.Nil(t, validator.Extract(errors.New("plain")))
	})
}

func TestRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule validator.Rule
		want bool
	}{
		{"slug ok", validator.ValidSlug("s", "jane-doe-2"), true},
		{"slug uppercase", validator.ValidSlug("s", "Jane"), false},
		{"slug trailing hyphen", validator.ValidSlug("s", "jane-"), false},
		{"slug double hyphen", validator.ValidSlug("s", "jane--doe"), false},
		{"url ok", validator.ValidURL("u", "https://coachkit.app/billing"), true},
		{"url relative", validator.ValidURL("u", "/billing"), false},
		{"percent inside", validator.PercentBetween("p", 10, 0, 100), true},
		{"percent zero", validator.PercentBetween("p", 0, 0, 100), false},
		{"percent hundred", validator.PercentBetween("p", 100, 0, 100), false},
		{"uuid set", validator.RequiredUUID("id", uuid.New()), true},
		{"uuid nil", validator.RequiredUUID("id", uuid.Nil), false},
		{"max len", validator.MaxLen("s", "abcd", 3), false},
		{"when skipped", validator.When(false, validator.RequiredString("s", "")), true},
		{"when applied", validator.When(true, validator.RequiredString("s", "")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.rule.Check())
		})
	}
}
