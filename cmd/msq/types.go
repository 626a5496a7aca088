package main

type taskView struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	Priority   string `json:"priority"`
	State      string `json:"state"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total"`
	SpeedBPS   int64  `json:"speed_bps"`
	EtaSeconds int64  `json:"eta_seconds"`
	Files      int    `json:"files"`
	ErrorCode  string `json:"error_code"`
	Error      string `json:"error"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type historyRow struct {
	TaskID     uint64 `json:"task_id"`
	Owner      string `json:"owner"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total"`
	Files      int    `json:"files"`
	ErrorCode  string `json:"error_code"`
	Error      string `json:"error"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at"`
}

type settingsView struct {
	Owner                 string `json:"owner"`
	StatusIntervalSeconds int    `json:"status_interval_seconds"`
	UploadMode            string `json:"upload_mode"`
}

type grantView struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	GrantedAt string `json:"granted_at"`
	ExpiresAt string `json:"expires_at"`
	RevokedAt string `json:"revoked_at"`
}
