package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"smartstock/internal/models"
)

// blob is the shared-store wire format: {"ts": <unix seconds>, "data": [...]}.
type blob struct {
	TS   *float64            `json:"ts"`
	Data []models.PricePoint `json:"data"`
}

func encodeEntry(snapshot models.PriceSnapshot, storedAt time.Time) ([]byte, error) {
	ts := float64(storedAt.UnixNano()) / float64(time.Second)
	data := snapshot.Points
	if data == nil {
		data = []models.PricePoint{}
	}
	return json.Marshal(blob{TS: &ts, Data: data})
}

func decodeEntry(raw []byte) (models.PriceSnapshot, time.Time, error) {
	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return models.PriceSnapshot{}, time.Time{}, fmt.Errorf("decoding cached snapshot: %w", err)
	}
	if b.TS == nil {
		return models.PriceSnapshot{}, time.Time{}, fmt.Errorf("decoding cached snapshot: missing ts")
	}

	sec, frac := math.Modf(*b.TS)
	storedAt := time.Unix(int64(sec), int64(math.Round(frac*1e9)))
	return models.NewPriceSnapshot(b.Data, storedAt), storedAt, nil
}
