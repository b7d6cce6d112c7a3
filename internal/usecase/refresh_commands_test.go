package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) RequestRefresh() error {
	r.calls++
	return r.err
}

func TestRefreshCommandHandler(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		payload   string
		refresh   error
		wantCalls int
		wantErr   bool
	}{
		{name: "refresh", payload: `{"action":"refresh","source":"ops"}`, wantCalls: 1},
		{name: "case insensitive", payload: `{"action":" Refresh "}`, wantCalls: 1},
		{name: "already pending", payload: `{"action":"refresh"}`, refresh: ErrRefreshPending, wantCalls: 1},
		{name: "refresher failure", payload: `{"action":"refresh"}`, refresh: errors.New("closed"), wantCalls: 1, wantErr: true},
		{name: "unknown action", payload: `{"action":"shutdown"}`},
		{name: "malformed", payload: `{"action":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRefresher{err: tt.refresh}
			h := NewRefreshCommandHandler("pricesheet.commands", r, nil)
			require.Equal(t, "pricesheet.commands", h.Topic())

			err := h.Handle(ctx, []byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, r.calls)
		})
	}
}
