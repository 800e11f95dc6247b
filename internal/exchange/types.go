package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/kirillm/statarb-bot/internal/domain"
)

// OrderRequest — тело лимитного ордера в протоколе биржи.
// Размер и цена передаются десятичными строками.
type OrderRequest struct {
	Coin       string    `json:"coin"`
	IsBuy      bool      `json:"is_buy"`
	Size       string    `json:"sz"`
	LimitPx    string    `json:"limit_px"`
	OrderType  OrderType `json:"order_type"`
	ReduceOnly bool      `json:"reduce_only"`
}

type OrderType struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

type LimitOrderType struct {
	Tif string `json:"tif"` // "Ioc" or "Gtc"
}

// OrderStatus — размеченное объединение статусов ордера.
// Ровно одно из полей заполнено; все прочие формы ответа — ErrProtocol.
type OrderStatus struct {
	Err      string
	Filled   *FilledStatus
	Accepted *AcceptedStatus
}

// FilledStatus — ордер исполнен (полностью или частично)
type FilledStatus struct {
	Oid     int64   `json:"oid"`
	AvgPx   float64 `json:"avgPx,string"`
	TotalSz float64 `json:"totalSz,string"`
}

// AcceptedStatus — GTC ордер принят в книгу, но еще не исполнен
type AcceptedStatus struct {
	Oid int64 `json:"oid"`
}

// orderAPIResponse — верхний уровень ответа на размещение ордера
type orderAPIResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Error    string `json:"error,omitempty"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []json.RawMessage `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// decodeOrderStatus разбирает один элемент statuses в размеченное объединение
func decodeOrderStatus(raw json.RawMessage) (*OrderStatus, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, string(raw))
	}

	if errRaw, ok := fields["error"]; ok {
		var msg string
		if err := json.Unmarshal(errRaw, &msg); err != nil {
			return nil, fmt.Errorf("%w: non-string error status %s", domain.ErrProtocol, string(raw))
		}
		return &OrderStatus{Err: msg}, nil
	}

	if filledRaw, ok := fields["filled"]; ok {
		var filled FilledStatus
		if err := json.Unmarshal(filledRaw, &filled); err != nil {
			return nil, fmt.Errorf("%w: bad filled status %s", domain.ErrProtocol, string(raw))
		}
		return &OrderStatus{Filled: &filled}, nil
	}

	if acceptedRaw, ok := fields["accepted"]; ok {
		var accepted AcceptedStatus
		if err := json.Unmarshal(acceptedRaw, &accepted); err != nil {
			return nil, fmt.Errorf("%w: bad accepted status %s", domain.ErrProtocol, string(raw))
		}
		return &OrderStatus{Accepted: &accepted}, nil
	}

	return nil, fmt.Errorf("%w: unknown order status %s", domain.ErrProtocol, string(raw))
}

// metaResponse — метаданные рынков
type metaResponse struct {
	Universe []assetMeta `json:"universe"`
}

type assetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

// clearinghouseResponse — состояние счета и позиции
type clearinghouseResponse struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			MarginUsed    string `json:"marginUsed"`
			Leverage      struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// candleData — одна свеча из candleSnapshot
type candleData struct {
	OpenTime int64  `json:"t"`
	Open     string `json:"o"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Close    string `json:"c"`
	Volume   string `json:"v"`
}
