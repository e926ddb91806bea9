package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryTemplate is a reusable query with {name} placeholders and the default
// values used to fill them when a run is generated from the template library.
type QueryTemplate struct {
	ID               uuid.UUID         `json:"id"`
	OrgID            uuid.UUID         `json:"org_id"`
	Category         string            `json:"category"`
	Text             string            `json:"template_text"`
	DefaultVariables map[string]string `json:"default_variables"`
	Priority         int               `json:"priority"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Render substitutes every {key} token that has a default variable.
// Tokens without a matching default are left verbatim so the gap is visible
// in the generated query rather than silently blanked.
func (t QueryTemplate) Render() string {
	if len(t.DefaultVariables) == 0 {
		return t.Text
	}
	pairs := make([]string, 0, len(t.DefaultVariables)*2)
	for k, v := range t.DefaultVariables {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t.Text)
}
