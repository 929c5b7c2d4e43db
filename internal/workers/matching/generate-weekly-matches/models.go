package generateweeklymatches

import "match-workers/internal/models"

// inputSchema accepts the process variables of the weekly timer process.
// Unknown variables are allowed because Zeebe sends every variable in scope.
const inputSchema = `{
	"type": "object",
	"properties": {
		"cycle": {"type": "string", "pattern": "^[0-9]{4}-W[0-9]{2}$"},
		"force": {"type": "boolean"}
	},
	"additionalProperties": true
}`

type Input struct {
	Cycle string `json:"cycle,omitempty"`
	Force bool   `json:"force,omitempty"`
}

type Output struct {
	Cycle          string  `json:"cycle"`
	RunState       string  `json:"runState"`
	UsersProcessed int     `json:"usersProcessed"`
	UsersSucceeded int     `json:"usersSucceeded"`
	UsersFailed    int     `json:"usersFailed"`
	MatchesCreated int     `json:"matchesCreated"`
	FailureRate    float64 `json:"failureRate"`
	Cancelled      bool    `json:"cancelled"`
	FromCache      bool    `json:"fromCache"`
	Published      bool    `json:"published"`
}

func outputFrom(r *models.BatchRunReport) *Output {
	return &Output{
		Cycle:          r.Cycle,
		RunState:       string(r.State),
		UsersProcessed: r.UsersProcessed,
		UsersSucceeded: r.UsersSucceeded,
		UsersFailed:    r.UsersFailed,
		MatchesCreated: r.MatchesCreated,
		FailureRate:    r.FailureRate(),
		Cancelled:      r.Cancelled,
	}
}
