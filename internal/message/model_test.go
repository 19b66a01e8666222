package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Advances(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"sent to received", StatusSent, StatusReceived, true},
		{"sent to seen", StatusSent, StatusSeen, true},
		{"received to seen", StatusReceived, StatusSeen, true},
		{"seen to received", StatusSeen, StatusReceived, false},
		{"received to sent", StatusReceived, StatusSent, false},
		{"seen to seen", StatusSeen, StatusSeen, false},
		{"unknown source", Status("lost"), StatusSeen, false},
		{"unknown target", StatusSent, Status("lost"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Advances(tt.to))
		})
	}
}
