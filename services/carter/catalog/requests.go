package catalog

import (
	"dropcarter/lib/storeapi"
	"dropcarter/services/carter/session"
)

// ReservationRequest is one add-to-cart submission, derived from an item and
// the run's session.
type ReservationRequest struct {
	Item   Item
	Amount int
	Ransu  string
	Mcode  string
	Base   map[string]any
}

func NewReservationRequest(item Item, sess *session.Context) ReservationRequest {
	return ReservationRequest{
		Item:   item,
		Amount: item.Quantity(),
		Ransu:  sess.Ransu(),
		Mcode:  sess.Mcode(),
		Base:   sess.BaseRequestData(),
	}
}

func NewReservationRequests(items []Item, sess *session.Context) []ReservationRequest {
	out := make([]ReservationRequest, len(items))
	for i, item := range items {
		out[i] = NewReservationRequest(item, sess)
	}
	return out
}

func (r ReservationRequest) Code() string {
	return r.Item.Code
}

func (r ReservationRequest) CartRequest() storeapi.CartRequest {
	return storeapi.CartRequest{
		Base:    r.Base,
		Scode:   r.Item.Code,
		Amount:  r.Amount,
		Ransu:   r.Ransu,
		Mcode:   r.Mcode,
		Eparams: []any{r.Item.Code, r.Item.Desc, r.Item.MaxCartinCount},
	}
}

func StatusQuery(item Item, sess *session.Context) storeapi.ItemQuery {
	return storeapi.ItemQuery{
		Gcode: item.Code,
		Lang:  "eng",
		Ransu: sess.Ransu(),
	}
}
