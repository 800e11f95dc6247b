package exchange

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kirillm/statarb-bot/internal/domain"
)

func TestDecodeOrderStatus(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		check     func(t *testing.T, st *OrderStatus)
	}{
		{
			name: "filled",
			raw:  `{"filled":{"oid":77738308,"avgPx":"1891.4","totalSz":"0.02"}}`,
			check: func(t *testing.T, st *OrderStatus) {
				if st.Filled == nil {
					t.Fatal("expected filled status")
				}
				if st.Filled.Oid != 77738308 {
					t.Errorf("oid = %d, want 77738308", st.Filled.Oid)
				}
				if st.Filled.AvgPx != 1891.4 {
					t.Errorf("avgPx = %v, want 1891.4", st.Filled.AvgPx)
				}
				if st.Filled.TotalSz != 0.02 {
					t.Errorf("totalSz = %v, want 0.02", st.Filled.TotalSz)
				}
			},
		},
		{
			name: "accepted",
			raw:  `{"accepted":{"oid":123}}`,
			check: func(t *testing.T, st *OrderStatus) {
				if st.Accepted == nil {
					t.Fatal("expected accepted status")
				}
				if st.Accepted.Oid != 123 {
					t.Errorf("oid = %d, want 123", st.Accepted.Oid)
				}
			},
		},
		{
			name: "error",
			raw:  `{"error":"Order could not immediately match against any resting orders."}`,
			check: func(t *testing.T, st *OrderStatus) {
				if st.Err == "" {
					t.Fatal("expected error status")
				}
			},
		},
		{
			name:    "unknown shape",
			raw:     `{"waiting":{"oid":5}}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			raw:     `"success"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := decodeOrderStatus(json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrProtocol) {
					t.Fatalf("expected ErrProtocol, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, st)
		})
	}
}

func TestOrderRequestWireShape(t *testing.T) {
	req := OrderRequest{
		Coin:       "ETH-PERP",
		IsBuy:      true,
		Size:       "0.5",
		LimitPx:    "2010.04",
		OrderType:  OrderType{Limit: &LimitOrderType{Tif: domain.TifIoc}},
		ReduceOnly: false,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"coin":"ETH-PERP","is_buy":true,"sz":"0.5","limit_px":"2010.04","order_type":{"limit":{"tif":"Ioc"}},"reduce_only":false}`
	if string(data) != want {
		t.Errorf("wire shape mismatch:\n got %s\nwant %s", data, want)
	}
}
