package registry

import "time"

// Instance is one entry returned by GetInstanceList (spec.md §4.A; consumed
// only during shutdown / diagnostic paths).
type Instance struct {
	IP        string  `json:"ip"`
	Port      int     `json:"port"`
	Weight    float64 `json:"weight"`
	Healthy   bool    `json:"healthy"`
	Ephemeral bool    `json:"ephemeral"`
}

type instanceListResponse struct {
	Hosts []Instance `json:"hosts"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenTTL    int64  `json:"tokenTtl"` // seconds
}

// token is the cached registry credential. Replaced atomically as a whole
// value — never mutated in place (Design Notes §9).
type token struct {
	accessToken string
	expiresAt   time.Time
}

func (t *token) validUntil(skew time.Duration) bool {
	return t != nil && t.accessToken != "" && time.Now().Before(t.expiresAt.Add(-skew))
}
