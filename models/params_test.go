package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsEncodeKeepsInsertionOrder(t *testing.T) {
	p := NewParams().Set("n", -200).Set("size", "QUARTER")
	require.Equal(t, "n=-200&size=QUARTER", p.Encode())

	// Повторная установка не переставляет ключ
	p.Set("n", 300)
	assert.Equal(t, "n=300&size=QUARTER", p.Encode())
}

func TestParamsEncodeDoesNotEscape(t *testing.T) {
	p := NewParams().Set("path", "/media/usb 1").Set("pwm", 0.2).Set("ignore_limits", false)
	assert.Equal(t, "path=/media/usb 1&pwm=0.2&ignore_limits=false", p.Encode())
}

func TestParamsEncodeEmpty(t *testing.T) {
	var p *Params
	assert.Equal(t, "", p.Encode())
	assert.Equal(t, "", NewParams().Encode())
}

func TestParamsJSONPreservesOrder(t *testing.T) {
	p := NewParams().Set("speed", 1500).Set("encoding", "tiff").Set("delay", 0.2)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"speed":1500,"encoding":"tiff","delay":0.2}`, string(data))
	assert.Equal(t, `{"speed":1500,"encoding":"tiff","delay":0.2}`, string(data))

	var back Params
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":"x","m":2.5,"b":true}`), &back))
	assert.Equal(t, []string{"z", "a", "m", "b"}, back.Keys())
	v, _ := back.Get("z")
	assert.Equal(t, int64(1), v)
	v, _ = back.Get("m")
	assert.Equal(t, 2.5, v)
	assert.Equal(t, "z=1&a=x&m=2.5&b=true", back.Encode())
}

func TestParamsUnmarshalRejectsNested(t *testing.T) {
	var p Params
	assert.Error(t, json.Unmarshal([]byte(`{"a":{"b":1}}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &p))
}

func TestParamsDeleteAndClone(t *testing.T) {
	p := NewParams().Set("a", 1).Set("b", 2).Set("c", 3)
	c := p.Clone()
	p.Delete("b")
	assert.Equal(t, "a=1&c=3", p.Encode())
	assert.Equal(t, "a=1&b=2&c=3", c.Encode())
	assert.Equal(t, 2, p.Len())
}

func TestDeviceStatusEqual(t *testing.T) {
	a := DeviceStatus{Calibrated: true, Position: 120}
	b := a
	assert.True(t, a.Equal(b))
	b.Position = 121
	assert.False(t, a.Equal(b))
}
