package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func RequiredString(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "field is required", Key: "validation.required"},
	}
}

func MaxLen(field, value string, max int) Rule {
	return Rule{
		Check: func() bool { return len(value) <= max },
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters long", max),
			Key:     "validation.max_length",
		},
	}
}

func OneOfString(field, value string, options []string) Rule {
	return Rule{
		Check: func() bool {
			for _, o := range options {
				if value == o {
					return true
				}
			}
			return false
		},
		Error: ValidationError{
			Field:   field,
			Message: "must be one of: " + strings.Join(options, ", "),
			Key:     "validation.one_of",
		},
	}
}

// ValidSlug accepts lowercase alphanumeric words joined by single hyphens.
func ValidSlug(field, value string) Rule {
	return Rule{
		Check: func() bool { return slugRegex.MatchString(value) },
		Error: ValidationError{
			Field:   field,
			Message: "must be a valid slug (lowercase letters, numbers, and hyphens only)",
			Key:     "validation.slug",
		},
	}
}

// ValidURL requires an absolute URL with scheme and host.
func ValidURL(field, value string) Rule {
	return Rule{
		Check: func() bool {
			u, err := url.ParseRequestURI(value)
			return err == nil && u.Scheme != "" && u.Host != ""
		},
		Error: ValidationError{Field: field, Message: "must be a valid URL", Key: "validation.url"},
	}
}

// PercentBetween checks min < value < max.
func PercentBetween(field string, value, min, max float64) Rule {
	return Rule{
		Check: func() bool { return value > min && value < max },
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be greater than %g and less than %g", min, max),
			Key:     "validation.percentage",
		},
	}
}

func RequiredUUID(field string, value uuid.UUID) Rule {
	return Rule{
		Check: func() bool { return value != uuid.Nil },
		Error: ValidationError{Field: field, Message: "UUID is required", Key: "validation.required"},
	}
}
