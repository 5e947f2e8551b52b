package changes

// Wire shapes for the sync endpoints.

// PushRequest is the body of POST /sync/changes.
type PushRequest struct {
	Changes  []Record `json:"changes"`
	DeviceID string   `json:"deviceId"`
}

// PushResponse reports how many records the ledger accepted.
type PushResponse struct {
	Success     bool `json:"success"`
	RecordCount int  `json:"recordCount"`
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	UserID        string `json:"userId"`
	DeviceID      string `json:"deviceId"`
	TotalRecords  int    `json:"totalRecords"`
	DeviceRecords int    `json:"deviceRecords"`
	ServerTime    int64  `json:"serverTime"` // unix millis
}
