package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// keyset cursor for the queue list surface (updated_at DESC, id DESC).

type JobCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        int64     `json:"id"`
}

func EncodeJobCursor(updatedAt time.Time, id int64) (string, error) {
	b, err := json.Marshal(JobCursor{UpdatedAt: updatedAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeJobCursor(cursor string) (JobCursor, error) {
	if cursor == "" {
		return JobCursor{}, errors.New("empty cursor")
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return JobCursor{}, err
	}
	var c JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return JobCursor{}, err
	}
	if c.ID == 0 || c.UpdatedAt.IsZero() {
		return JobCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
