package admin

import "time"

// ConsumerReq creates or replaces a tool consumer. An empty secret on
// create generates one.
type ConsumerReq struct {
	Key          string     `json:"key"`
	Name         string     `json:"name"`
	Secret       string     `json:"secret"`
	Enabled      *bool      `json:"enabled"`
	Protected    bool       `json:"protected"`
	ConsumerGUID string     `json:"consumer_guid"`
	EnableFrom   *time.Time `json:"enable_from"`
	EnableUntil  *time.Time `json:"enable_until"`
	IDScope      string     `json:"id_scope"`
	DefaultEmail string     `json:"default_email"`
	CSSPath      string     `json:"css_path"`
}

type ShareKeyReq struct {
	AutoApprove bool `json:"auto_approve"`
	Life        int  `json:"life"`
	Length      int  `json:"length"`
}

type ShareApprovalReq struct {
	Approved bool `json:"approved"`
}
