package domain

// Band is a closed amount interval for the structuring rule.
// A band with Lo > Hi is malformed and never matches.
type Band struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Valid reports whether the band can match anything.
func (b Band) Valid() bool {
	return b.Lo <= b.Hi
}

// CustomRule is an optional CEL expression evaluated per record after
// the built-in rules. The expression must return bool. Variables:
// amount, currency, notes, from_account, to_account, sender_country,
// receiver_country.
type CustomRule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
	Enabled    bool   `json:"enabled"`
}

// RiskConfig holds all thresholds for one scoring run. It is constructed
// once per run and passed by reference into every evaluator; evaluators
// never mutate it. The zero value of an optional field disables the
// corresponding rule or gate.
type RiskConfig struct {
	// Percentile thresholds per currency (fractions, e.g. 0.98).
	HighAmountP  float64 `json:"highAmountP"`
	CrossBorderP float64 `json:"crossBorderP"`

	// Structuring bands per currency. A currency absent from the map
	// never matches; a nil map disables the rule.
	StructuringByCurrency map[string]Band `json:"structuringByCurrency,omitempty"`

	// Keywords matched case-insensitively as literal substrings of notes.
	// Empty list disables the rule.
	Keywords []string `json:"keywords,omitempty"`

	// Gating between rules, applied in this order.
	RequireHighForKeyword             bool `json:"requireHighForKeyword"`
	RequireHighForCrossBorder         bool `json:"requireHighForCrossBorder"`
	ExcludeStructuringFromCrossBorder bool `json:"excludeStructuringFromCrossBorder"`

	// Velocity: at least VelocityMinTx transactions from the same
	// account within a sliding VelocityWindowHours window.
	VelocityWindowHours int `json:"velocityWindowHours"`
	VelocityMinTx       int `json:"velocityMinTx"`

	// Ping-pong: a return B->A within PingPongDays of A->B.
	PingPongDays     int `json:"pingPongDays"`
	PingPongMinPairs int `json:"pingPongMinPairs"`

	// New counterparty: first transaction ever for an ordered account
	// pair, or a gap of at least NewCounterpartyDays since the previous.
	NewCounterpartyDays           int  `json:"newCounterpartyDays"`
	RequireHighForNewCounterparty bool `json:"requireHighForNewCounterparty"`

	// CapPerReason keeps at most N rows per reason group, highest
	// amounts first. Zero means no cap.
	CapPerReason int `json:"capPerReason,omitempty"`

	// CustomRules are optional CEL extension rules.
	CustomRules []CustomRule `json:"customRules,omitempty"`
}

// DefaultRiskConfig returns the production rule set: p98 thresholds,
// narrow structuring bands, and the noise-reduction gates enabled.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		HighAmountP:  0.98,
		CrossBorderP: 0.98,
		StructuringByCurrency: map[string]Band{
			"SEK": {Lo: 9500, Hi: 9999.99},
			"EUR": {Lo: 950, Hi: 999.99},
			"USD": {Lo: 950, Hi: 999.99},
		},
		Keywords:                          []string{"crypto", "urgent"},
		RequireHighForKeyword:             true,
		RequireHighForCrossBorder:         true,
		ExcludeStructuringFromCrossBorder: true,
		VelocityWindowHours:               24,
		VelocityMinTx:                     20,
		PingPongDays:                      7,
		PingPongMinPairs:                  1,
		NewCounterpartyDays:               14,
		RequireHighForNewCounterparty:     true,
	}
}
