package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DeviceStatus содержит снимок состояния стенда, отдаваемый Middleware.
// Снимок заменяется целиком при каждом опросе.
type DeviceStatus struct {
	Limit1     bool `json:"limit1"`
	Limit2     bool `json:"limit2"`
	Estop      bool `json:"estop"`
	Running    bool `json:"running"`
	Led        bool `json:"led"`
	Calibrated bool `json:"calibrated"`
	HqPreview  bool `json:"hq_preview"`
	AuxPreview bool `json:"aux_preview"`
	Position   int  `json:"position"`
}

// Equal сравнивает два снимка по всем полям.
func (s DeviceStatus) Equal(other DeviceStatus) bool {
	return s == other
}

// FutureID - непрозрачный идентификатор отложенного результата на сервере.
type FutureID int64

// ArtifactKind описывает, как интерпретировать тело артефакта.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactData  ArtifactKind = "data"
	ArtifactText  ArtifactKind = "text"
)

// Artifact - конечный результат future или немедленного ответа на команду.
type Artifact struct {
	Kind        ArtifactKind `json:"kind"`
	FutureID    FutureID     `json:"future_id,omitempty"`
	Index       int          `json:"index"`
	ContentType string       `json:"content_type,omitempty"`
	Body        []byte       `json:"-"`
}

// Text возвращает тело артефакта как строку.
func (a Artifact) Text() string {
	return string(a.Body)
}

// CardID - идентификатор карты. Middleware отдает его то числом, то строкой.
type CardID string

func (c *CardID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CardID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = CardID(n.String())
	return nil
}

// naiveLayouts - форматы времени без часового пояса, которые отдает Middleware.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// Timestamp - момент времени в JSON Middleware. Принимает RFC 3339 и время без
// часового пояса, которое считается местным временем стенда.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ts = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		ts.Time = t
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			ts.Time = t
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", raw)
}

// SensorCard содержит запись о ранее отснятой карте датчиков.
type SensorCard struct {
	CardID          CardID    `json:"card_id"`
	NumImages       int       `json:"num_images"`
	AcquisitionTime Timestamp `json:"acquisition_time"`
	SubdirPath      string    `json:"subdir_path"`
	ImageFormat     string    `json:"image_format"`
}

// CardIdentity - идентификатор карты, которым завершается последовательность съемки.
type CardIdentity struct {
	CardID  CardID `json:"card_id"`
	Subdir  string `json:"subdir"`
	RawText string `json:"-"`
}

// CardResult содержит итог съемки одной карты.
type CardResult struct {
	Images   []Artifact   `json:"images"`
	Identity CardIdentity `json:"identity"`
}

// Mount описывает смонтированный на сервере съемный носитель.
type Mount struct {
	Device     string `json:"device"`
	Mountpoint string `json:"mountpoint"`
	FsType     string `json:"fstype"`
	Opts       string `json:"opts"`
}
