package models

import "time"

// Entity is a stored lead/company as the monitoring and analysis phases see it
type Entity struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	NaturalKey    string     `json:"natural_key"`
	OrgNumber     string     `json:"org_number"`
	Name          string     `json:"name"`
	Revenue       *float64   `json:"revenue,omitempty"`
	Profit        *float64   `json:"profit,omitempty"`
	Employees     *int       `json:"employees,omitempty"`
	LegalStatus   string     `json:"legal_status"`
	CreditRemarks int        `json:"credit_remarks"`
	Address       string     `json:"address"`
	CEO           string     `json:"ceo"`
	LatestNews    string     `json:"latest_news"`
	ListID        string     `json:"list_id,omitempty"`
	AnalyzedAt    *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Snapshot returns the fields the differ compares
func (e *Entity) Snapshot() Snapshot {
	return Snapshot{
		Name:          e.Name,
		Revenue:       e.Revenue,
		Profit:        e.Profit,
		Employees:     e.Employees,
		LegalStatus:   e.LegalStatus,
		CreditRemarks: e.CreditRemarks,
		Address:       e.Address,
		CEO:           e.CEO,
		LatestNews:    e.LatestNews,
	}
}

// Snapshot is one observation of an entity's monitored fields
type Snapshot struct {
	Name          string   `json:"name"`
	Revenue       *float64 `json:"revenue,omitempty"`
	Profit        *float64 `json:"profit,omitempty"`
	Employees     *int     `json:"employees,omitempty"`
	LegalStatus   string   `json:"legal_status"`
	CreditRemarks int      `json:"credit_remarks"`
	Address       string   `json:"address"`
	CEO           string   `json:"ceo"`
	LatestNews    string   `json:"latest_news"`
}

// IsZero reports whether nothing has been observed yet
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// Candidate is one search hit, not yet stored
type Candidate struct {
	OrgNumber string         `json:"org_number"`
	Name      string         `json:"name"`
	Website   string         `json:"website,omitempty"`
	City      string         `json:"city,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}
