package domain

import "time"

// Policy is a Rego module that narrows the authorization gate.
type Policy struct {
	Source   string // file path the rules were read from
	Rules    string
	Enabled  bool
	LoadedAt time.Time
}
