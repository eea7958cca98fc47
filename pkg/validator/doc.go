// Package validator builds declarative validation from small Rule values.
//
// Each rule constructor returns a Rule holding a Check closure and the
// ValidationError reported when the check fails. Apply evaluates all rules
// and aggregates failures into ValidationErrors, which implements error:
//
//	err := validator.Apply(
//	    validator.OneOfString("kind", req.Kind, []string{"coach", "user"}),
//	    validator.When(req.CoachSlug != "", validator.ValidSlug("coachSlug", req.CoachSlug)),
//	)
//	if verrs := validator.Extract(err); verrs != nil {
//	    // verrs.Fields() maps field names to messages
//	}
package validator
