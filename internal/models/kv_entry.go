package models

type KVEntry struct {
	AccountID string `json:"-"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Version   int64  `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
}
