package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{name: "prod json", env: "prod", level: "warn", wantLevel: logrus.WarnLevel, wantJSON: true},
		{name: "dev text", env: "dev", level: "debug", wantLevel: logrus.DebugLevel},
		{name: "unknown level", env: "dev", level: "loud", wantLevel: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.env, tt.level)
			assert.Equal(t, tt.wantLevel, log.GetLevel())
			_, isJSON := log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}
